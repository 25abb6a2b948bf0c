package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/constellate-io/constellate/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Constellations ---

func (s *LibSQLStore) SaveConstellation(ctx context.Context, rec *ConstellationRecord) error {
	def, err := json.Marshal(rec.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO constellations (id, name, definition, ai_generated, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, definition=excluded.definition,
		   ai_generated=excluded.ai_generated, updated_at=CURRENT_TIMESTAMP`,
		rec.ID, rec.Name, string(def), rec.AIGenerated,
		timeOrNow(rec.CreatedAt), timeOrNow(rec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetConstellation(ctx context.Context, id string) (*ConstellationRecord, error) {
	rec := &ConstellationRecord{}
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, definition, ai_generated, created_at, updated_at
		 FROM constellations WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &defJSON, &rec.AIGenerated, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("constellation", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(defJSON), &rec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListConstellations(ctx context.Context, filter ConstellationFilter) ([]*ConstellationRecord, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT id, name, definition, ai_generated, created_at, updated_at FROM constellations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*ConstellationRecord
	for rows.Next() {
		rec := &ConstellationRecord{}
		var defJSON string
		if err := rows.Scan(&rec.ID, &rec.Name, &defJSON, &rec.AIGenerated, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(defJSON), &rec.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *LibSQLStore) DeleteConstellation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM constellations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "constellation", id)
}

// --- Directives ---

func (s *LibSQLStore) SaveDirective(ctx context.Context, rec *DirectiveRecord) error {
	body, err := json.Marshal(rec.Directive)
	if err != nil {
		return fmt.Errorf("marshal directive: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO directives (id, body, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body=excluded.body, updated_at=CURRENT_TIMESTAMP`,
		rec.ID, string(body), timeOrNow(rec.CreatedAt), timeOrNow(rec.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDirective(ctx context.Context, id string) (*DirectiveRecord, error) {
	rec := &DirectiveRecord{}
	var bodyJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, body, created_at, updated_at FROM directives WHERE id = ?`, id,
	).Scan(&rec.ID, &bodyJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("directive", id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bodyJSON), &rec.Directive); err != nil {
		return nil, fmt.Errorf("unmarshal directive: %w", err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListDirectives(ctx context.Context) ([]*DirectiveRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, created_at, updated_at FROM directives ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*DirectiveRecord
	for rows.Next() {
		rec := &DirectiveRecord{}
		var bodyJSON string
		if err := rows.Scan(&rec.ID, &bodyJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bodyJSON), &rec.Directive); err != nil {
			return nil, fmt.Errorf("unmarshal directive: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *LibSQLStore) DeleteDirective(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM directives WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "directive", id)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *RunRecord) error {
	variables, err := marshalMapOrDefault(run.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, constellation_id, constellation_name, status, variables, original_query, final_output, error, loop_count, awaiting_node_id, awaiting_prompt, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ConstellationID, nullStr(run.ConstellationName), string(run.Status),
		string(variables), nullStr(run.OriginalQuery), nullStr(run.FinalOutput), nullStr(run.Error),
		run.LoopCount, nullStr(run.AwaitingNodeID), nullStr(run.AwaitingPrompt),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, constellation_id, constellation_name, status, variables, original_query, final_output, error, loop_count, awaiting_node_id, awaiting_prompt, created_at, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	run := &RunRecord{}
	var (
		name, query, finalOutput, errMsg sql.NullString
		awaitingNodeID, awaitingPrompt   sql.NullString
		variablesJSON, status            string
		startedAt, completedAt           sql.NullTime
	)
	err := row.Scan(&run.ID, &run.ConstellationID, &name, &status, &variablesJSON,
		&query, &finalOutput, &errMsg, &run.LoopCount, &awaitingNodeID, &awaitingPrompt,
		&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.ConstellationName = name.String
	run.Status = schema.RunStatus(status)
	run.OriginalQuery = query.String
	run.FinalOutput = finalOutput.String
	run.Error = errMsg.String
	run.AwaitingNodeID = awaitingNodeID.String
	run.AwaitingPrompt = awaitingPrompt.String
	if variablesJSON != "" {
		_ = json.Unmarshal([]byte(variablesJSON), &run.Variables)
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Variables != nil {
		variables, err := json.Marshal(update.Variables)
		if err != nil {
			return fmt.Errorf("marshal variables: %w", err)
		}
		sets = append(sets, "variables = ?")
		args = append(args, string(variables))
	}
	if update.FinalOutput != nil {
		sets = append(sets, "final_output = ?")
		args = append(args, *update.FinalOutput)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.LoopCount != nil {
		sets = append(sets, "loop_count = ?")
		args = append(args, *update.LoopCount)
	}
	if update.AwaitingNodeID != nil {
		sets = append(sets, "awaiting_node_id = ?")
		args = append(args, nullStr(*update.AwaitingNodeID))
	}
	if update.AwaitingPrompt != nil {
		sets = append(sets, "awaiting_prompt = ?")
		args = append(args, nullStr(*update.AwaitingPrompt))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var where []string
	var args []any

	if filter.ConstellationID != "" {
		where = append(where, "constellation_id = ?")
		args = append(args, filter.ConstellationID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, constellation_id, constellation_name, status, variables, original_query, final_output, error, loop_count, awaiting_node_id, awaiting_prompt, created_at, started_at, completed_at, updated_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

// --- Node outputs ---

func (s *LibSQLStore) UpsertNodeOutput(ctx context.Context, runID string, output *NodeOutputRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_outputs (run_id, node_id, star_id, status, output, error, tool_calls, attempts, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO UPDATE SET
		   star_id=excluded.star_id, status=excluded.status, output=excluded.output, error=excluded.error,
		   tool_calls=excluded.tool_calls, attempts=excluded.attempts, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, duration_ms=excluded.duration_ms`,
		runID, output.NodeID, output.StarID, string(output.Status),
		nullRaw(output.Output), nullRaw(output.Error), nullRaw(output.ToolCalls),
		output.Attempts, nullTime(output.StartedAt), nullTime(output.CompletedAt), output.DurationMs,
	)
	return err
}

func (s *LibSQLStore) ListNodeOutputs(ctx context.Context, runID string) ([]*NodeOutputRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, node_id, star_id, status, output, error, tool_calls, attempts, started_at, completed_at, duration_ms
		 FROM node_outputs WHERE run_id = ?`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []*NodeOutputRecord
	for rows.Next() {
		no := &NodeOutputRecord{}
		var status string
		var output, errJSON, toolCalls sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&no.RunID, &no.NodeID, &no.StarID, &status, &output, &errJSON, &toolCalls,
			&no.Attempts, &startedAt, &completedAt, &no.DurationMs); err != nil {
			return nil, err
		}
		no.Status = schema.NodeStatus(status)
		no.Output = rawOrNil(output)
		no.Error = rawOrNil(errJSON)
		no.ToolCalls = rawOrNil(toolCalls)
		if startedAt.Valid {
			no.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			no.CompletedAt = &completedAt.Time
		}
		outputs = append(outputs, no)
	}
	return outputs, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *RunEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this run
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload := nullRaw(event.Payload)
	ts := timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*RunEvent, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, filter.NodeID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, node_id, event_type, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*RunEvent, error) {
	var events []*RunEvent
	for rows.Next() {
		e := &RunEvent{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, constellation_id, cron_expression, query, variables, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ConstellationID, job.CronExpression, nullStr(job.Query),
		nullRaw(job.Variables), job.Enabled,
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus),
		timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var query, lastStatus, variables sql.NullString
	var lastRunAt, nextRunAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, constellation_id, cron_expression, query, variables, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.ConstellationID, &job.CronExpression, &query, &variables,
		&job.Enabled, &lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_job", id)
	}
	if err != nil {
		return nil, err
	}
	job.Query = query.String
	job.Variables = rawOrNil(variables)
	job.LastRunStatus = lastStatus.String
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	return job, nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.ConstellationID != "" {
		where = append(where, "constellation_id = ?")
		args = append(args, filter.ConstellationID)
	}

	query := `SELECT id, constellation_id, cron_expression, query, variables, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job := &ScheduledJob{}
		var q, lastStatus, variables sql.NullString
		var lastRunAt, nextRunAt sql.NullTime
		if err := rows.Scan(&job.ID, &job.ConstellationID, &job.CronExpression, &q, &variables,
			&job.Enabled, &lastRunAt, &nextRunAt, &lastStatus, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Query = q.String
		job.Variables = rawOrNil(variables)
		job.LastRunStatus = lastStatus.String
		if lastRunAt.Valid {
			job.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			job.NextRunAt = &nextRunAt.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ConstellateError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
