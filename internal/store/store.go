package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Constellations
	SaveConstellation(ctx context.Context, rec *ConstellationRecord) error
	GetConstellation(ctx context.Context, id string) (*ConstellationRecord, error)
	ListConstellations(ctx context.Context, filter ConstellationFilter) ([]*ConstellationRecord, error)
	DeleteConstellation(ctx context.Context, id string) error

	// Directives
	SaveDirective(ctx context.Context, rec *DirectiveRecord) error
	GetDirective(ctx context.Context, id string) (*DirectiveRecord, error)
	ListDirectives(ctx context.Context) ([]*DirectiveRecord, error)
	DeleteDirective(ctx context.Context, id string) error

	// Runs
	CreateRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	DeleteRun(ctx context.Context, id string) error

	// Node outputs (materialized view)
	UpsertNodeOutput(ctx context.Context, runID string, output *NodeOutputRecord) error
	ListNodeOutputs(ctx context.Context, runID string) ([]*NodeOutputRecord, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *RunEvent) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*RunEvent, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
