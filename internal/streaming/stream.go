// Package streaming provides the event-stream abstraction used to surface
// live run progress. All sinks implement one Stream contract and are
// drop-in substitutable at run start.
package streaming

import (
	"time"
)

// Event is a single progress event emitted during a run.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	StarID    string         `json:"star_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stream is the sink contract: Emit delivers one event, Close releases the
// sink. Close is idempotent; Emit after Close is an error (or silently
// dropped, per implementation).
type Stream interface {
	Emit(event Event) error
	Close() error
}
