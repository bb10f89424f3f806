package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"listenmode/internal/decision"
	"listenmode/internal/settings"
)

// withStore opens the configured settings store for one command.
func withStore(ctx context.Context, opts *rootOptions, fn func(context.Context, settings.Store) error) (err error) {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	store, err := settings.OpenBolt(cfg.Settings.StorePath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	return fn(ctx, store)
}

func newChannelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Edit the always-enable and always-disable channel lists",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show both channel lists and the global switch",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(c.Context(), opts, func(ctx context.Context, s settings.Store) error {
				v, err := s.Get(ctx)
				if err != nil {
					return err
				}
				printValues(c.OutOrStdout(), v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <enable|disable> <channel name>",
		Short: "Add a channel to a list (trimmed, case-insensitive duplicates ignored)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			list, err := settings.ParseList(args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			return withStore(c.Context(), opts, func(ctx context.Context, s settings.Store) error {
				added, err := settings.AddChannel(ctx, s, list, name)
				if err != nil {
					return err
				}
				if added {
					fmt.Fprintf(c.OutOrStdout(), "added %q to the %s list\n", strings.TrimSpace(name), list)
				} else {
					fmt.Fprintf(c.OutOrStdout(), "%q is blank or already in the %s list\n", strings.TrimSpace(name), list)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <enable|disable> <channel name>",
		Short: "Remove a channel from a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			list, err := settings.ParseList(args[0])
			if err != nil {
				return err
			}
			name := strings.Join(args[1:], " ")
			return withStore(c.Context(), opts, func(ctx context.Context, s settings.Store) error {
				removed, err := settings.RemoveChannel(ctx, s, list, name)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(c.OutOrStdout(), "removed %q from the %s list\n", name, list)
				} else {
					fmt.Fprintf(c.OutOrStdout(), "%q is not in the %s list\n", name, list)
				}
				return nil
			})
		},
	})
	return cmd
}

func newGlobalCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "global <on|off>",
		Short:     "Turn listen mode on for every channel, or back to the lists",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(c *cobra.Command, args []string) error {
			action, ok := decision.ParseAction(args[0])
			if !ok {
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			return withStore(c.Context(), opts, func(ctx context.Context, s settings.Store) error {
				if err := settings.SetAutoEnable(ctx, s, action.Active()); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "global listen mode %s\n", onOff(action.Active()))
				return nil
			})
		},
	}
}

func newDecideCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decide [channel name]",
		Short: "Print what listen mode would do for a channel (no name = unknown channel)",
		RunE: func(c *cobra.Command, args []string) error {
			channel := decision.Unknown
			if name := strings.TrimSpace(strings.Join(args, " ")); name != "" {
				channel = decision.Known(name)
			}
			return withStore(c.Context(), opts, func(ctx context.Context, s settings.Store) error {
				snap, err := settings.Snapshot(ctx, s)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.OutOrStdout(), decision.Decide(snap, channel))
				return nil
			})
		},
	}
}

func printValues(w io.Writer, v settings.Values) {
	fmt.Fprintf(w, "global: %s\n", onOff(v.AutoEnable))
	fmt.Fprintln(w, "always enable:")
	for _, name := range v.ChannelList {
		fmt.Fprintf(w, "  %s\n", name)
	}
	fmt.Fprintln(w, "always disable:")
	for _, name := range v.DisableChannelList {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
