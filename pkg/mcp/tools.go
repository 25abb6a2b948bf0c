package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/constellate-io/constellate/internal/diagram"
	"github.com/constellate-io/constellate/internal/engine"
	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/schema"
)

// handleRun launches a constellation run and blocks until it reaches a
// stable state (completed, failed, or awaiting confirmation).
func (s *ConstellateServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	constellationID, err := req.RequireString("constellation_id")
	if err != nil {
		return mcp.NewToolResultError("constellation_id is required"), nil
	}

	query := req.GetString("query", "")
	variables := mcp.ParseStringMap(req, "variables", nil)

	// Mint the run ID up front so the session mapping exists before the
	// first event is emitted.
	runID := req.GetString("run_id", "")
	if runID == "" {
		runID = uuid.New().String()
	}
	s.captureSession(ctx, runID)

	run, runErr := s.runner.Run(ctx, constellationID, engine.RunOptions{
		RunID:     runID,
		Query:     query,
		Variables: variables,
		Stream:    s.eventStream(runID),
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", runErr)), nil
	}

	return marshalResult(runSummary(run))
}

// handleStatus returns the persisted state of a run and its node outputs.
func (s *ConstellateServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}
	nodes, nodesErr := s.store.ListNodeOutputs(ctx, runID)
	if nodesErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", nodesErr)), nil
	}

	return marshalResult(map[string]any{
		"run":   run,
		"nodes": nodes,
	})
}

// handleResume confirms a paused run and drives it to its next stable state.
func (s *ConstellateServer) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	variables := mcp.ParseStringMap(req, "variables", nil)
	s.captureSession(ctx, runID)

	run, resumeErr := s.runner.ResumeRun(ctx, runID, variables, s.eventStream(runID))
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", resumeErr)), nil
	}

	return marshalResult(runSummary(run))
}

// handleCancel aborts an in-flight or paused run.
func (s *ConstellateServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	reason := req.GetString("reason", "")

	if cancelErr := s.runner.CancelRun(ctx, runID, reason); cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":     true,
		"run_id": runID,
		"status": string(schema.RunStatusCancelled),
	})
}

// handleDefine validates and stores a constellation definition, along with
// any directives supplied inline.
func (s *ConstellateServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	c, parseErr := parseConstellation(defRaw)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", parseErr)), nil
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Normalize()

	// Store inline directives first so the validator can resolve them.
	if directives := mcp.ParseStringMap(req, "directives", nil); directives != nil {
		if dirErr := s.storeDirectives(ctx, directives); dirErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to store directives: %v", dirErr)), nil
		}
	}

	res := s.validator.Validate(ctx, c)
	if !res.Valid() {
		data, _ := json.Marshal(res)
		return mcp.NewToolResultError(fmt.Sprintf("constellation failed validation: %s", data)), nil
	}

	now := time.Now().UTC()
	rec := &store.ConstellationRecord{
		ID:         c.ID,
		Name:       c.Name,
		Definition: *c,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if saveErr := s.store.SaveConstellation(ctx, rec); saveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store constellation: %v", saveErr)), nil
	}

	return marshalResult(map[string]any{
		"id":       c.ID,
		"name":     c.Name,
		"warnings": res.Warnings,
	})
}

// handleValidate dry-checks a constellation definition without storing it.
func (s *ConstellateServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	c, parseErr := parseConstellation(defRaw)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", parseErr)), nil
	}
	c.Normalize()

	res := s.validator.Validate(ctx, c)
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// handleSchedule registers a cron-triggered run for a constellation.
func (s *ConstellateServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	constellationID, err := req.RequireString("constellation_id")
	if err != nil {
		return mcp.NewToolResultError("constellation_id is required"), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}

	if _, getErr := s.store.GetConstellation(ctx, constellationID); getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("constellation lookup failed: %v", getErr)), nil
	}

	schedule, parseErr := s.cron.Parse(cronExpr)
	if parseErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", parseErr)), nil
	}

	now := time.Now().UTC()
	next := schedule.Next(now)

	job := &store.ScheduledJob{
		ID:              uuid.New().String(),
		ConstellationID: constellationID,
		CronExpression:  cronExpr,
		Query:           req.GetString("query", ""),
		Enabled:         req.GetBool("enabled", true),
		NextRunAt:       &next,
		CreatedAt:       now,
	}
	if variables := mcp.ParseStringMap(req, "variables", nil); variables != nil {
		if raw, marshalErr := json.Marshal(variables); marshalErr == nil {
			job.Variables = raw
		}
	}

	if createErr := s.store.CreateScheduledJob(ctx, job); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store scheduled job: %v", createErr)), nil
	}

	return marshalResult(map[string]any{
		"id":          job.ID,
		"next_run_at": next.Format(time.RFC3339),
	})
}

// handleDiagram renders a constellation diagram in the requested format.
// Given a run_id the topology is overlaid with that run's node statuses.
func (s *ConstellateServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	constellationID := req.GetString("constellation_id", "")
	runID := req.GetString("run_id", "")
	if constellationID == "" && runID == "" {
		return mcp.NewToolResultError("at least one of constellation_id or run_id is required"), nil
	}

	var outputs []*store.NodeOutputRecord
	if runID != "" {
		run, runErr := s.store.GetRun(ctx, runID)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", runErr)), nil
		}
		constellationID = run.ConstellationID

		// Status overlay is on by default when diagramming a run.
		if req.GetBool("include_status", true) {
			if nodes, nodesErr := s.store.ListNodeOutputs(ctx, runID); nodesErr == nil {
				outputs = nodes
			}
		}
	}

	rec, getErr := s.store.GetConstellation(ctx, constellationID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("constellation lookup failed: %v", getErr)), nil
	}

	model, buildErr := diagram.Build(&rec.Definition, outputs)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default: // image
		png, imgErr := diagram.RenderImage(model)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

// handleQuery lists runs, events, constellations, directives, or scheduled
// jobs based on filters.
func (s *ConstellateServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "constellations":
		return s.queryConstellations(ctx, filter)
	case "directives":
		return s.queryDirectives(ctx)
	case "scheduled_jobs":
		return s.queryScheduledJobs(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *ConstellateServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if cid, ok := filter["constellation_id"].(string); ok {
		rf.ConstellationID = cid
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *ConstellateServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if nodeID, ok := filter["node_id"].(string); ok {
		ef.NodeID = nodeID
	}
	if eventType, ok := filter["event_type"].(string); ok {
		ef.EventType = eventType
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if ef.EventType != "" {
		events, err := s.store.GetEventsByType(ctx, ef.EventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// No event type filter — use GetEvents (requires run_id).
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	since := int64(extractInt(filter, "since_sequence", 0))
	events, err := s.store.GetEvents(ctx, ef.RunID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *ConstellateServer) queryConstellations(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	cf := store.ConstellationFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if name, ok := filter["name"].(string); ok {
		cf.Name = name
	}

	constellations, err := s.store.ListConstellations(ctx, cf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"constellations": constellations})
}

func (s *ConstellateServer) queryDirectives(ctx context.Context) (*mcp.CallToolResult, error) {
	directives, err := s.store.ListDirectives(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"directives": directives})
}

func (s *ConstellateServer) queryScheduledJobs(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	jf := store.ScheduledJobFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if cid, ok := filter["constellation_id"].(string); ok {
		jf.ConstellationID = cid
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		jf.Enabled = &enabled
	}

	jobs, err := s.store.ListScheduledJobs(ctx, jf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"scheduled_jobs": jobs})
}

// --- Internal helpers ---

// parseConstellation converts a raw tool argument map into a Constellation.
func parseConstellation(raw map[string]any) (*schema.Constellation, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var c schema.Constellation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// storeDirectives persists inline directives supplied with constellate.define.
// Each entry is keyed by directive ID and carries {name, content}.
func (s *ConstellateServer) storeDirectives(ctx context.Context, raw map[string]any) error {
	now := time.Now().UTC()
	for id, v := range raw {
		var d schema.Directive
		switch body := v.(type) {
		case string:
			d = schema.Directive{ID: id, Content: body}
		case map[string]any:
			data, err := json.Marshal(body)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &d); err != nil {
				return err
			}
			d.ID = id
		default:
			return fmt.Errorf("directive %q must be a string or an object", id)
		}
		if d.Content == "" {
			return fmt.Errorf("directive %q has no content", id)
		}
		rec := &store.DirectiveRecord{ID: id, Directive: d, CreatedAt: now, UpdatedAt: now}
		if err := s.store.SaveDirective(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// runSummary reduces a Run to the fields an agent needs after run/resume.
func runSummary(run *schema.Run) map[string]any {
	summary := map[string]any{
		"run_id":           run.ID,
		"constellation_id": run.ConstellationID,
		"status":           string(run.Status),
	}
	if run.FinalOutput != "" {
		summary["final_output"] = run.FinalOutput
	}
	if run.Error != "" {
		summary["error"] = run.Error
	}
	if run.LoopCount > 0 {
		summary["loop_count"] = run.LoopCount
	}
	if run.Status == schema.RunStatusAwaitingConfirmation {
		summary["awaiting_node_id"] = run.AwaitingNodeID
		summary["awaiting_prompt"] = run.AwaitingPrompt
	}
	return summary
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
