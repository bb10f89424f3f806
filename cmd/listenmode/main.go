package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"listenmode/internal/config"
	"listenmode/internal/log"
	mcpserver "listenmode/internal/mcp"
)

type rootOptions struct {
	configPath   string
	workspaceDir string
	noWorkspace  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "listenmode",
		Short: "Hide YouTube video for chosen channels and keep the audio",
		Long: `listenmode drives a Chrome tab over the DevTools protocol and switches
YouTube's player into an audio-only "listen mode" based on the channel being
watched. It runs as an MCP server (serve), a standalone watcher (watch), or
edits the stored settings directly.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a config file layered over the workspace config")
	root.PersistentFlags().StringVar(&opts.workspaceDir, "workspace-dir", "", "Use this directory's .listenmode workspace instead of searching upward")
	root.PersistentFlags().BoolVar(&opts.noWorkspace, "no-workspace", false, "Skip workspace discovery")

	root.AddCommand(
		newServeCmd(opts),
		newWatchCmd(opts),
		newInitCmd(),
		newChannelsCmd(opts),
		newGlobalCmd(opts),
		newDecideCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, wsDir, err := config.LoadWithWorkspace(o.configPath, config.WorkspaceOptions{
		Disable:     o.noWorkspace,
		ExplicitDir: o.workspaceDir,
	})
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if wsDir != "" {
		log.Debug(map[string]any{"workspace": wsDir}, "using workspace")
	}
	return cfg, nil
}

// configureLogging sends logs to the log file when stdout carries MCP traffic.
func configureLogging(cfg config.Config, stdio bool) error {
	outputs := []string{"stderr"}
	if stdio {
		outputs = nil
		if cfg.Server.LogFile != "" {
			outputs = []string{cfg.Server.LogFile}
		}
	}
	if len(outputs) == 0 {
		log.SetLogger(log.NewNoopLogger())
		return nil
	}
	return log.Configure(cfg.Server.Env, cfg.Server.LogLevel, outputs)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var ssePort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio, or SSE with --sse-port)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if ssePort != 0 {
				cfg.MCP.SSEPort = ssePort
			}
			if err := configureLogging(cfg, cfg.MCP.SSEPort == 0); err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVar(&ssePort, "sse-port", 0, "SSE port override (falls back to config)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "shutdown incomplete")
		}
	}()

	if cfg.Browser.AutoStart {
		if err := a.sessions.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
	} else {
		log.Info(nil, "browser auto-start disabled; use launch-browser to start it")
	}

	server, err := mcpserver.NewServer(cfg, mcpserver.Deps{
		Sessions: a.sessions,
		Engine:   a.engine,
		Store:    a.store,
		Recent:   a.recent,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// stdio returns on EOF; that ends the whole server
		defer cancel()
		if cfg.MCP.SSEPort > 0 {
			log.Info(map[string]any{"port": cfg.MCP.SSEPort}, "starting MCP SSE server")
			return server.StartSSE(gctx, cfg.MCP.SSEPort)
		}
		log.Info(nil, "starting MCP stdio server")
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.sessions.Shutdown(context.Background())
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [url]",
		Short: "Open YouTube with listen mode and keep it running until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := configureLogging(cfg, false); err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			return watch(cmd.Context(), cfg, url, cmd.OutOrStdout())
		},
	}
}

func watch(ctx context.Context, cfg config.Config, url string, out io.Writer) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "shutdown incomplete")
		}
	}()

	if err := a.sessions.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	sess, err := a.sessions.OpenWatch(ctx, url)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching %s (session %s); press Ctrl+C to stop\n", sess.URL, sess.ID)

	<-ctx.Done()
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a .listenmode workspace with a commented config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := config.InitWorkspace(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized workspace in %s\n", dir)
			return nil
		},
	}
}
