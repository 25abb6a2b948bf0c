package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/constellate-io/constellate/internal/streaming"
)

// RunNotifier pushes run progress to the session that launched the run.
type RunNotifier interface {
	Notify(ctx context.Context, runID string, payload map[string]any) error
}

// MCPNotifier implements RunNotifier using MCP push notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP notifications.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the session watching the run.
// Best-effort: returns nil if no session is registered for the run.
func (n *MCPNotifier) Notify(_ context.Context, runID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(runID)
	if !ok {
		return nil // nobody watching, best-effort
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send — not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// eventStream adapts the notifier into a streaming sink so run progress
// reaches the launching session while the run is still executing.
func (s *ConstellateServer) eventStream(runID string) streaming.Stream {
	return streaming.NewCallbackStream(func(ev streaming.Event) {
		payload := map[string]any{
			"event":  ev.Type,
			"run_id": ev.RunID,
		}
		if ev.NodeID != "" {
			payload["node_id"] = ev.NodeID
		}
		if len(ev.Payload) > 0 {
			payload["payload"] = ev.Payload
		}
		if err := s.notifier.Notify(context.Background(), runID, payload); err != nil {
			s.logger.Warn("push notification failed",
				"run_id", runID, "event", ev.Type, "error", err)
		}
	})
}

// captureSession maps the run ID to the calling MCP session for notifications.
func (s *ConstellateServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}
