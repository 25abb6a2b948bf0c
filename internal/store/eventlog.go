package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/constellate-io/constellate/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. Forces write-lock acquisition so sequence reads and writes
// cannot interleave under concurrency.
func (el *EventLog) AppendEvent(ctx context.Context, event *RunEvent) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode, BeginTx alone may start a deferred transaction. A
	// write-intent statement forces immediate lock acquisition.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload := nullRaw(event.Payload)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*RunEvent, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// SnapshotPayload is the typed subset of node event payloads used by replay.
type SnapshotPayload struct {
	Status string          `json:"status,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ReplayEvents replays all events for a run and returns the reconstructed
// node output states. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*NodeOutputRecord, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	if len(events) == 0 {
		return make(map[string]*NodeOutputRecord), nil
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	states := make(map[string]*NodeOutputRecord)

	for _, e := range events {
		if e.NodeID == "" {
			continue
		}

		no, ok := states[e.NodeID]
		if !ok {
			no = &NodeOutputRecord{
				RunID:  runID,
				NodeID: e.NodeID,
				Status: schema.NodeStatusPending,
			}
			states[e.NodeID] = no
		}

		switch e.Type {
		case schema.EventNodeStarted:
			no.Status = schema.NodeStatusRunning
			ts := e.Timestamp
			no.StartedAt = &ts

		case schema.EventNodeCompleted:
			no.Status = schema.NodeStatusCompleted
			ts := e.Timestamp
			no.CompletedAt = &ts
			var snap SnapshotPayload
			if len(e.Payload) > 0 && json.Unmarshal(e.Payload, &snap) == nil {
				if snap.Status != "" {
					no.Status = schema.NodeStatus(snap.Status)
				}
				no.Output = snap.Output
			}
			if no.StartedAt != nil {
				no.DurationMs = ts.Sub(*no.StartedAt).Milliseconds()
			}

		case schema.EventNodeFailed:
			no.Status = schema.NodeStatusFailed
			no.Error = e.Payload

		case schema.EventNodeSkipped:
			no.Status = schema.NodeStatusSkipped

		case schema.EventNodeRetrying:
			no.Status = schema.NodeStatusRunning
			no.Attempts++

		case schema.EventLoopRewound:
			// Rewound nodes go back to pending so re-execution overwrites them.
			no.Status = schema.NodeStatusPending
			no.Output = nil
			no.Error = nil
		}
	}

	return states, nil
}
