package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"listenmode://about",
			"Listen Mode About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and how listen mode decides."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"listenmode://settings",
			"Listen Mode Settings",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Current global switch and channel lists."),
		),
		s.handleSettingsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"listenmode://session/{sessionId}/decisions{?limit}",
			"Session Decisions",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent listen mode decisions for one watch session."),
		),
		s.handleSessionDecisionsResource,
	)
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"notes": []string{
			"Listen mode hides the video and keeps the audio playing.",
			"If autoEnable is on, every channel gets listen mode.",
			"Otherwise a channel in disableChannelList plays video, a channel in channelList gets listen mode, and anything else plays video.",
			"The channel is read every 500ms for up to 20 tries after the player mounts or the page navigates.",
			"Resources are read-only; use tools to change settings.",
		},
		"sessions":     len(s.sessions.List()),
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleSettingsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	v, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, v)
}

func (s *Server) handleSessionDecisionsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, errNoEngine
	}

	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := s.engine.Decisions(sessionID)
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}

	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"limit":      limit,
		"count":      len(facts),
		"decisions":  facts,
	})
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}
