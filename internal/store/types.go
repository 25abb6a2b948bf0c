package store

import (
	"encoding/json"
	"time"

	"github.com/constellate-io/constellate/pkg/schema"
)

// ConstellationRecord is the persisted representation of a constellation
// definition.
type ConstellationRecord struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Definition  schema.Constellation `json:"definition"`
	AIGenerated bool                 `json:"ai_generated,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// DirectiveRecord is the persisted representation of a directive.
type DirectiveRecord struct {
	ID        string           `json:"id"`
	Directive schema.Directive `json:"directive"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RunRecord is the persisted representation of a run execution.
type RunRecord struct {
	ID                string           `json:"id"`
	ConstellationID   string           `json:"constellation_id"`
	ConstellationName string           `json:"constellation_name,omitempty"`
	Status            schema.RunStatus `json:"status"`
	Variables         map[string]any   `json:"variables,omitempty"`
	OriginalQuery     string           `json:"original_query,omitempty"`
	FinalOutput       string           `json:"final_output,omitempty"`
	Error             string           `json:"error,omitempty"`
	LoopCount         int              `json:"loop_count"`
	AwaitingNodeID    string           `json:"awaiting_node_id,omitempty"`
	AwaitingPrompt    string           `json:"awaiting_prompt,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NodeOutputRecord is the materialized view of a node's current state
// within a run.
type NodeOutputRecord struct {
	RunID       string            `json:"run_id"`
	NodeID      string            `json:"node_id"`
	StarID      string            `json:"star_id"`
	Status      schema.NodeStatus `json:"status"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	ToolCalls   json.RawMessage   `json:"tool_calls,omitempty"`
	Attempts    int               `json:"attempts"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// RunEvent is an immutable entry in the run event log.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	NodeID    string          `json:"node_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered constellation run.
type ScheduledJob struct {
	ID              string          `json:"id"`
	ConstellationID string          `json:"constellation_id"`
	CronExpression  string          `json:"cron_expression"`
	Query           string          `json:"query,omitempty"`
	Variables       json.RawMessage `json:"variables,omitempty"`
	Enabled         bool            `json:"enabled"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus   string          `json:"last_run_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// ConstellationFilter specifies criteria for listing constellations.
type ConstellationFilter struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ConstellationID string            `json:"constellation_id,omitempty"`
	Status          *schema.RunStatus `json:"status,omitempty"`
	Since           *time.Time        `json:"since,omitempty"`
	Limit           int               `json:"limit,omitempty"`
	Offset          int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status         *schema.RunStatus `json:"status,omitempty"`
	Variables      map[string]any    `json:"variables,omitempty"`
	FinalOutput    *string           `json:"final_output,omitempty"`
	Error          *string           `json:"error,omitempty"`
	LoopCount      *int              `json:"loop_count,omitempty"`
	AwaitingNodeID *string           `json:"awaiting_node_id,omitempty"`
	AwaitingPrompt *string           `json:"awaiting_prompt,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID     string     `json:"run_id,omitempty"`
	NodeID    string     `json:"node_id,omitempty"`
	EventType string     `json:"event_type,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	ConstellationID string `json:"constellation_id,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}
