package streaming

import (
	"context"
	"log/slog"
)

// LogStream writes every event to a structured logger.
type LogStream struct {
	logger *slog.Logger
}

// NewLogStream creates a LogStream. A nil logger uses slog.Default().
func NewLogStream(logger *slog.Logger) *LogStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStream{logger: logger}
}

// Emit logs the event at info level with its correlation attributes.
func (s *LogStream) Emit(event Event) error {
	attrs := []slog.Attr{
		slog.String("event", event.Type),
		slog.String("run_id", event.RunID),
	}
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", event.NodeID))
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, slog.Any("payload", event.Payload))
	}
	s.logger.LogAttrs(context.Background(), slog.LevelInfo, "run event", attrs...)
	return nil
}

// Close is a no-op; the logger's lifetime is owned by the caller.
func (s *LogStream) Close() error { return nil }
