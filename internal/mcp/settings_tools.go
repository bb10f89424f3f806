package mcp

import (
	"context"
	"fmt"
	"strings"

	"listenmode/internal/browser"
	"listenmode/internal/decision"
	"listenmode/internal/settings"
)

// settingsChanged re-runs the decision on open sessions when the caller asks for it.
func settingsChanged(sessions *browser.SessionManager, args map[string]interface{}, result map[string]interface{}) map[string]interface{} {
	if sessions != nil && getBoolArg(args, "apply", false) {
		result["sessions_reevaluated"] = sessions.ReevaluateAll("settings")
	}
	return result
}

var applyProperty = map[string]interface{}{
	"type":        "boolean",
	"description": "Re-run the decision on every open session afterwards (default false)",
}

type GetSettingsTool struct {
	store settings.Store
}

func (t *GetSettingsTool) Name() string { return "get-settings" }
func (t *GetSettingsTool) Description() string {
	return `Read the listen mode settings.

Returns: {autoEnable, channelList, disableChannelList}
autoEnable turns listen mode on everywhere. Otherwise disableChannelList wins
over channelList, and every other channel plays video.`
}
func (t *GetSettingsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetSettingsTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	v, err := t.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

type SetGlobalEnableTool struct {
	store    settings.Store
	sessions *browser.SessionManager
}

func (t *SetGlobalEnableTool) Name() string { return "set-global-enable" }
func (t *SetGlobalEnableTool) Description() string {
	return `Turn the global "listen mode everywhere" switch on or off.

While on, every channel gets listen mode and the channel lists are ignored.`
}
func (t *SetGlobalEnableTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"enabled": map[string]interface{}{
				"type":        "boolean",
				"description": "New value of the global switch",
			},
			"apply": applyProperty,
		},
		"required": []string{"enabled"},
	}
}
func (t *SetGlobalEnableTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if _, ok := args["enabled"].(bool); !ok {
		return nil, fmt.Errorf("enabled must be a boolean")
	}
	enabled := getBoolArg(args, "enabled", false)
	if err := settings.SetAutoEnable(ctx, t.store, enabled); err != nil {
		return nil, err
	}
	return settingsChanged(t.sessions, args, map[string]interface{}{
		"autoEnable": enabled,
	}), nil
}

type AddChannelTool struct {
	store    settings.Store
	sessions *browser.SessionManager
}

func (t *AddChannelTool) Name() string { return "add-channel" }
func (t *AddChannelTool) Description() string {
	return `Add a channel name to the enable or disable list.

Names are trimmed. Blank names and names already in the list (compared
case-insensitively) are ignored, reported as added=false.`
}
func (t *AddChannelTool) InputSchema() map[string]interface{} {
	return channelSchema()
}
func (t *AddChannelTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	list, name, err := channelArgs(args)
	if err != nil {
		return nil, err
	}
	added, err := settings.AddChannel(ctx, t.store, list, name)
	if err != nil {
		return nil, err
	}
	return settingsChanged(t.sessions, args, map[string]interface{}{
		"list":    string(list),
		"channel": strings.TrimSpace(name),
		"added":   added,
	}), nil
}

type RemoveChannelTool struct {
	store    settings.Store
	sessions *browser.SessionManager
}

func (t *RemoveChannelTool) Name() string { return "remove-channel" }
func (t *RemoveChannelTool) Description() string {
	return `Remove a channel name from the enable or disable list. Matching is case-insensitive.`
}
func (t *RemoveChannelTool) InputSchema() map[string]interface{} {
	return channelSchema()
}
func (t *RemoveChannelTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	list, name, err := channelArgs(args)
	if err != nil {
		return nil, err
	}
	removed, err := settings.RemoveChannel(ctx, t.store, list, name)
	if err != nil {
		return nil, err
	}
	return settingsChanged(t.sessions, args, map[string]interface{}{
		"list":    string(list),
		"channel": name,
		"removed": removed,
	}), nil
}

// DecideTool evaluates the current settings for a channel without touching any page.
type DecideTool struct {
	store settings.Store
}

func (t *DecideTool) Name() string { return "decide" }
func (t *DecideTool) Description() string {
	return `Show what listen mode would do for a channel under the current settings.

Leave channel empty to see the decision for a page whose channel could not
be read.

Returns: {channel, action: "enable"|"disable", reason}`
}
func (t *DecideTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel display name",
			},
		},
	}
}
func (t *DecideTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	snap, err := settings.Snapshot(ctx, t.store)
	if err != nil {
		return nil, err
	}
	channel := decision.Unknown
	if name := strings.TrimSpace(getStringArg(args, "channel")); name != "" {
		channel = decision.Known(name)
	}
	d := decision.Decide(snap, channel)
	return map[string]interface{}{
		"channel": channel.Name(),
		"action":  d.Action.String(),
		"reason":  d.Reason.String(),
	}, nil
}

type RecentChannelsTool struct {
	recent *settings.Recent
}

func (t *RecentChannelsTool) Name() string { return "recent-channels" }
func (t *RecentChannelsTool) Description() string {
	return `List channels recently seen on watched pages, newest first, with the last decision for each.

Use it to pick the exact channel name before add-channel.`
}
func (t *RecentChannelsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum channels to return (default 20)",
			},
		},
	}
}
func (t *RecentChannelsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.recent == nil {
		return map[string]interface{}{"channels": []settings.RecentChannel{}, "count": 0}, nil
	}
	limit := getIntArg(args, "limit", 20)
	channels := t.recent.List()
	if limit > 0 && len(channels) > limit {
		channels = channels[:limit]
	}
	return map[string]interface{}{
		"channels": channels,
		"count":    len(channels),
	}, nil
}

func channelSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"list": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"enable", "disable"},
				"description": "enable = always listen mode, disable = never listen mode",
			},
			"channel": map[string]interface{}{
				"type":        "string",
				"description": "Channel display name as shown under the video",
			},
			"apply": applyProperty,
		},
		"required": []string{"list", "channel"},
	}
}

func channelArgs(args map[string]interface{}) (settings.List, string, error) {
	list, err := settings.ParseList(getStringArg(args, "list"))
	if err != nil {
		return "", "", err
	}
	name := getStringArg(args, "channel")
	if strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("channel is required")
	}
	return list, name, nil
}
