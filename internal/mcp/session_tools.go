package mcp

import (
	"context"
	"errors"
	"fmt"

	"listenmode/internal/browser"
)

// LaunchBrowserTool starts or connects to Chrome using the configured launch settings.
type LaunchBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *LaunchBrowserTool) Name() string { return "launch-browser" }
func (t *LaunchBrowserTool) Description() string {
	return `Start Chrome (or connect to browser.debugger_url) so watch sessions can be opened.

CALL THIS FIRST unless browser.auto_start is on.
Idempotent: safe to call if already running.

TYPICAL WORKFLOW:
1. launch-browser       -> Start Chrome
2. open-watch-session   -> Open YouTube with listen mode installed
3. session-status       -> See what the last decision was

Returns: {status: "started"|"already_connected", control_url}`
}
func (t *LaunchBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *LaunchBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if t.sessions.IsConnected() {
		return map[string]interface{}{
			"status":      "already_connected",
			"control_url": t.sessions.ControlURL(),
		}, nil
	}

	if err := t.sessions.Start(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status":      "started",
		"control_url": t.sessions.ControlURL(),
	}, nil
}

// ShutdownBrowserTool stops every session and the managed Chrome instance.
type ShutdownBrowserTool struct {
	sessions *browser.SessionManager
}

func (t *ShutdownBrowserTool) Name() string { return "shutdown-browser" }
func (t *ShutdownBrowserTool) Description() string {
	return `Stop all watch sessions and close Chrome.

Pending decisions are dropped. Settings and the decision journal are kept.`
}
func (t *ShutdownBrowserTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ShutdownBrowserTool) Execute(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := t.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"status": "stopped",
	}, nil
}

type OpenWatchSessionTool struct {
	sessions *browser.SessionManager
}

func (t *OpenWatchSessionTool) Name() string { return "open-watch-session" }
func (t *OpenWatchSessionTool) Description() string {
	return `Open a YouTube page in a new tab with listen mode installed.

The page gets the headphones button in the player controls. Every time the
player mounts or YouTube finishes an in-app navigation, the channel is read
and listen mode is switched on or off according to the settings.

PREREQUISITE: launch-browser.

Returns: {session: {id, target_id, url, status}}`
}
func (t *OpenWatchSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Page to open; defaults to browser.start_url",
			},
		},
	}
}
func (t *OpenWatchSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sess, err := t.sessions.OpenWatch(ctx, getStringArg(args, "url"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

type AttachSessionTool struct {
	sessions *browser.SessionManager
}

func (t *AttachSessionTool) Name() string { return "attach-session" }
func (t *AttachSessionTool) Description() string {
	return `Install listen mode into an existing Chrome tab by its CDP TargetID.

USE INSTEAD OF open-watch-session when the user already has YouTube open in
the connected browser. The tab is left open when the session is closed.

Returns: {session: {id, target_id, url, status}}`
}
func (t *AttachSessionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_id": map[string]interface{}{
				"type":        "string",
				"description": "CDP TargetID to attach",
			},
		},
		"required": []string{"target_id"},
	}
}
func (t *AttachSessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}

	sess, err := t.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": sess}, nil
}

type ListSessionsTool struct {
	sessions *browser.SessionManager
}

func (t *ListSessionsTool) Name() string { return "list-sessions" }
func (t *ListSessionsTool) Description() string {
	return `List watch sessions, oldest first.

Returns: {sessions: [{id, target_id, url, status, created_at, last_active}]}`
}
func (t *ListSessionsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ListSessionsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": t.sessions.List()}, nil
}

type CloseSessionTool struct {
	sessions *browser.SessionManager
}

func (t *CloseSessionTool) Name() string { return "close-session" }
func (t *CloseSessionTool) Description() string {
	return `Stop a watch session. Tabs opened by open-watch-session are closed; attached tabs stay open.`
}
func (t *CloseSessionTool) InputSchema() map[string]interface{} {
	return sessionIDSchema("Session to close")
}
func (t *CloseSessionTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if err := t.sessions.Close(sessionID); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_id": sessionID,
		"status":     "closed",
	}, nil
}

// ReevaluateTool schedules a decision cycle as if the page had just navigated.
type ReevaluateTool struct {
	sessions *browser.SessionManager
}

func (t *ReevaluateTool) Name() string { return "reevaluate" }
func (t *ReevaluateTool) Description() string {
	return `Run the listen mode decision again for one session, or all sessions when session_id is empty.

The cycle is debounced like a page trigger, so the result shows up in
session-status a moment later.`
}
func (t *ReevaluateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session to re-evaluate; empty means every session",
			},
		},
	}
}
func (t *ReevaluateTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		n := t.sessions.ReevaluateAll("reevaluate")
		return map[string]interface{}{"scheduled": n}, nil
	}
	if err := t.sessions.Reevaluate(sessionID, "reevaluate"); err != nil {
		return nil, err
	}
	return map[string]interface{}{"scheduled": 1, "session_id": sessionID}, nil
}

// ToggleListenModeTool flips the mode the way the player button does.
type ToggleListenModeTool struct {
	sessions *browser.SessionManager
}

func (t *ToggleListenModeTool) Name() string { return "toggle-listen-mode" }
func (t *ToggleListenModeTool) Description() string {
	return `Flip listen mode on a session, like clicking the headphones button.

A manual toggle lasts until the next player mount or navigation, when the
settings decide again.

Returns: {session_id, active, changed}`
}
func (t *ToggleListenModeTool) InputSchema() map[string]interface{} {
	return sessionIDSchema("Session to toggle")
}
func (t *ToggleListenModeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	surface, ok := t.sessions.Surface(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrUnknownSession, sessionID)
	}
	st, err := surface.Toggle(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_id": sessionID,
		"active":     st.Active,
		"changed":    st.Changed,
	}, nil
}

// SessionStatusTool reports the live mode and the last decision for a session.
type SessionStatusTool struct {
	sessions *browser.SessionManager
}

func (t *SessionStatusTool) Name() string { return "session-status" }
func (t *SessionStatusTool) Description() string {
	return `Show a session's current listen mode state and its most recent decision.

Returns: {session, mounted, active, pending, last_outcome}
mounted is false while the player is not on the page.`
}
func (t *SessionStatusTool) InputSchema() map[string]interface{} {
	return sessionIDSchema("Session to inspect")
}
func (t *SessionStatusTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	sessionID := getStringArg(args, "session_id")
	meta, ok := t.sessions.GetSession(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", browser.ErrUnknownSession, sessionID)
	}
	result := map[string]interface{}{"session": meta}

	if coord, ok := t.sessions.Coordinator(sessionID); ok {
		result["pending"] = coord.Pending()
		if last, ok := coord.Last(); ok {
			result["last_outcome"] = last
		}
	}

	if surface, ok := t.sessions.Surface(sessionID); ok {
		st, err := surface.State(ctx)
		switch {
		case errors.Is(err, browser.ErrNoSurface):
			result["mounted"] = false
		case err != nil:
			result["state_error"] = err.Error()
		default:
			result["mounted"] = true
			result["active"] = st.Active
		}
	}
	return result, nil
}

func sessionIDSchema(description string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": description,
			},
		},
		"required": []string{"session_id"},
	}
}
