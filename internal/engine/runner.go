package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/internal/graph"
	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/internal/logging"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/internal/streaming"
	"github.com/constellate-io/constellate/pkg/schema"
)

// Runner drives a run from start to completion: it computes execution
// order, dispatches stars, applies loop/retry/pause policy, persists
// progress, and emits stream events. One active driver per run id.
type Runner struct {
	store     store.Store
	events    EventAppender
	registry  Registry
	probes    *probes.Registry
	executors *ExecutorSet
	runFSM    *RunFSM
	nodeFSM   *NodeFSM
	cel       *expressions.CELEngine
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewRunner creates a Runner over the given collaborators.
func NewRunner(s store.Store, events EventAppender, registry Registry, probeReg *probes.Registry, client llm.Client, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	// CEL engine is optional — guard evaluation checks nil before use.
	celEngine, _ := expressions.NewCELEngine()

	return &Runner{
		store:     s,
		events:    events,
		registry:  registry,
		probes:    probeReg,
		executors: NewExecutorSet(client),
		runFSM:    NewRunFSM(events),
		nodeFSM:   NewNodeFSM(events),
		cel:       celEngine,
		logger:    logger,
		active:    make(map[string]context.CancelFunc),
	}
}

// Executors exposes the executor set for registration of custom star kinds.
func (r *Runner) Executors() *ExecutorSet { return r.executors }

// RunOptions configures a new run.
type RunOptions struct {
	RunID     string // optional; generated when empty
	Variables map[string]any
	Query     string
	Stream    streaming.Stream
}

// runState tracks one in-flight run execution.
type runState struct {
	run       *schema.Run
	c         *schema.Constellation
	g         *graph.Graph
	order     []string
	ec        *ExecContext
	stream    streaming.Stream
	confirmed map[string]bool
}

func (rs *runState) emit(eventType, nodeID, starID string, payload map[string]any) {
	if rs.stream == nil {
		return
	}
	_ = rs.stream.Emit(streaming.Event{
		Type:      eventType,
		RunID:     rs.run.ID,
		NodeID:    nodeID,
		StarID:    starID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// Run starts a new run of the given constellation.
func (r *Runner) Run(ctx context.Context, constellationID string, opts RunOptions) (*schema.Run, error) {
	c, err := r.registry.GetConstellation(ctx, constellationID)
	if err != nil {
		return nil, err
	}
	c.Normalize()

	g := graph.New(c)
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	variables := make(map[string]any, len(opts.Variables))
	for k, v := range opts.Variables {
		variables[k] = v
	}

	now := time.Now().UTC()
	run := &schema.Run{
		ID:                runID,
		ConstellationID:   c.ID,
		ConstellationName: c.Name,
		Status:            schema.RunStatusRunning,
		Variables:         variables,
		OriginalQuery:     opts.Query,
		StartedAt:         now,
		NodeOutputs:       make(map[string]*schema.NodeOutput),
	}

	if err := r.store.CreateRun(ctx, &store.RunRecord{
		ID:                runID,
		ConstellationID:   c.ID,
		ConstellationName: c.Name,
		Status:            run.Status,
		Variables:         variables,
		OriginalQuery:     opts.Query,
		StartedAt:         &now,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	if err := r.events.AppendEvent(ctx, &store.RunEvent{
		RunID: runID,
		Type:  schema.EventRunStarted,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "append run_started: %s", err.Error()).WithCause(err)
	}

	ec := NewExecContext(runID, c, g, r.registry, r.probes, opts.Stream)
	ec.Variables = variables
	ec.OriginalQuery = opts.Query

	rs := &runState{
		run:       run,
		c:         c,
		g:         g,
		order:     order,
		ec:        ec,
		stream:    opts.Stream,
		confirmed: make(map[string]bool),
	}
	rs.emit(schema.EventRunStarted, "", "", nil)

	return r.execute(ctx, rs)
}

// ResumeRun rehydrates a paused run and continues from the suspended node
// without re-executing completed nodes. additional is merged into the run's
// variable bindings.
func (r *Runner) ResumeRun(ctx context.Context, runID string, additional map[string]any, stream streaming.Stream) (*schema.Run, error) {
	rec, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status != schema.RunStatusAwaitingConfirmation {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"cannot resume run in status %s", rec.Status)
	}

	c, err := r.registry.GetConstellation(ctx, rec.ConstellationID)
	if err != nil {
		return nil, err
	}
	c.Normalize()

	g := graph.New(c)
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	run := runFromRecord(rec)
	for k, v := range additional {
		run.Variables[k] = v
	}

	ec := NewExecContext(runID, c, g, r.registry, r.probes, stream)
	ec.Variables = run.Variables
	ec.OriginalQuery = run.OriginalQuery
	ec.LoopCount = run.LoopCount

	records, err := r.store.ListNodeOutputs(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, nr := range records {
		no := nodeOutputFromRecord(nr)
		ec.SetNodeOutput(no.NodeID, no)
		run.NodeOutputs[no.NodeID] = no
	}

	awaitingNode := run.AwaitingNodeID
	if err := r.runFSM.Transition(ctx, runID, schema.RunStatusAwaitingConfirmation, schema.RunStatusRunning, nil); err != nil {
		return nil, err
	}
	running := schema.RunStatusRunning
	empty := ""
	if err := r.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:         &running,
		Variables:      run.Variables,
		AwaitingNodeID: &empty,
		AwaitingPrompt: &empty,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}
	run.Status = schema.RunStatusRunning
	run.AwaitingNodeID = ""
	run.AwaitingPrompt = ""

	rs := &runState{
		run:       run,
		c:         c,
		g:         g,
		order:     order,
		ec:        ec,
		stream:    stream,
		confirmed: map[string]bool{awaitingNode: true},
	}
	rs.emit(schema.EventRunResumed, awaitingNode, "", nil)

	return r.execute(ctx, rs)
}

// CancelRun marks a run cancelled and stops dispatching further nodes.
// Cancellation is cooperative: in-flight work is abandoned, not killed.
func (r *Runner) CancelRun(ctx context.Context, runID string, reason string) error {
	rec, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict, "run already %s", rec.Status)
	}

	payload, _ := json.Marshal(map[string]string{"reason": reason})
	if err := r.runFSM.Transition(ctx, runID, rec.Status, schema.RunStatusCancelled, payload); err != nil {
		return err
	}

	cancelled := schema.RunStatusCancelled
	errStr := "cancelled"
	if reason != "" {
		errStr = "cancelled: " + reason
	}
	now := time.Now().UTC()
	if err := r.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &cancelled,
		Error:       &errStr,
		CompletedAt: &now,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update run status: %s", err.Error()).WithCause(err)
	}

	r.mu.Lock()
	if cancel, ok := r.active[runID]; ok {
		cancel()
	}
	r.mu.Unlock()

	return nil
}

// --- Walk ---

func (r *Runner) execute(ctx context.Context, rs *runState) (*schema.Run, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.registerActive(rs.run.ID, cancel); err != nil {
		return nil, err
	}
	defer r.unregisterActive(rs.run.ID)

	logCtx := logging.WithRunID(runCtx, rs.run.ID)

	cursor := 0
	for cursor < len(rs.order) {
		if runCtx.Err() != nil {
			return r.finishCancelled(rs)
		}

		nodeID := rs.order[cursor]
		if nodeID == schema.NodeStart || nodeID == schema.NodeEnd {
			cursor++
			continue
		}
		star := rs.c.StarByID(nodeID)
		if star == nil {
			cursor++
			continue
		}

		// Resume path: never re-execute nodes already in a terminal state.
		if out := rs.ec.NodeOutput(nodeID); out != nil && isTerminalNode(out.Status) {
			cursor++
			continue
		}

		rs.ec.SetCurrentNode(nodeID)
		rs.ec.LoopCount = rs.run.LoopCount

		if skipped, err := r.applyGuard(logCtx, rs, star); err != nil {
			return r.failRun(rs, err)
		} else if skipped {
			cursor++
			continue
		}

		if star.RequiresConfirmation && !rs.confirmed[nodeID] {
			return r.suspendForConfirmation(runCtx, rs, star)
		}

		result, err := r.executeNode(logCtx, rs, star)
		if err != nil {
			if runCtx.Err() != nil {
				return r.finishCancelled(rs)
			}
			return r.failRun(rs, err)
		}

		if star.Kind == schema.StarEval && result.Output.Eval != nil &&
			result.Output.Eval.Decision == schema.DecisionLoop {
			if rs.run.LoopCount < rs.c.MaxLoopIterations {
				if target := rs.g.LoopTarget(nodeID); target != "" {
					cursor = r.rewind(logCtx, rs, nodeID, target)
					continue
				}
			} else {
				// Loop budget exhausted: force continue regardless of verdict.
				r.logger.InfoContext(logging.WithNodeID(logCtx, nodeID),
					"loop budget exhausted, forcing continue",
					slog.Int("loop_count", rs.run.LoopCount))
				rs.emit(schema.EventProgress, nodeID, star.ID, map[string]any{
					"message": "loop budget exhausted, continuing",
				})
			}
		}

		cursor++
	}

	return r.completeRun(rs)
}

// applyGuard evaluates the star's CEL guard, if any. A false guard skips
// the node; an unevaluable guard runs it (skipping work on a broken
// expression would hide results).
func (r *Runner) applyGuard(ctx context.Context, rs *runState, star *schema.Star) (bool, error) {
	if star.Guard == "" || r.cel == nil {
		return false, nil
	}

	pass, err := r.cel.EvaluateBool(ctx, star.Guard, rs.ec.Scope().Data())
	if err != nil {
		r.logger.WarnContext(logging.WithNodeID(ctx, star.ID),
			"guard evaluation failed, executing node",
			slog.String("guard", star.Guard), slog.String("error", err.Error()))
		return false, nil
	}
	if pass {
		return false, nil
	}

	if err := r.nodeFSM.Transition(ctx, rs.run.ID, star.ID, schema.NodeStatusPending, schema.NodeStatusSkipped, nil); err != nil {
		return false, err
	}
	no := &schema.NodeOutput{NodeID: star.ID, StarID: star.ID, Status: schema.NodeStatusSkipped}
	rs.ec.SetNodeOutput(star.ID, no)
	rs.run.NodeOutputs[star.ID] = no
	r.persistNodeOutput(ctx, rs.run.ID, no)
	rs.emit(schema.EventNodeSkipped, star.ID, star.ID, map[string]any{"guard": star.Guard})
	return true, nil
}

// executeNode runs a single star with the constellation's retry policy and
// records its NodeOutput. Hard failures beyond the retry budget come back
// as errors; soft failures become a failed NodeOutput and a nil error.
func (r *Runner) executeNode(ctx context.Context, rs *runState, star *schema.Star) (*StarResult, error) {
	nodeID := star.ID
	nodeCtx := logging.WithNodeID(ctx, nodeID)

	exec, err := r.executors.Get(star.Kind)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now().UTC()
	no := &schema.NodeOutput{
		NodeID:    nodeID,
		StarID:    star.ID,
		Status:    schema.NodeStatusRunning,
		StartedAt: &startedAt,
	}
	rs.ec.SetNodeOutput(nodeID, no)
	rs.run.NodeOutputs[nodeID] = no

	if err := r.nodeFSM.Transition(ctx, rs.run.ID, nodeID, schema.NodeStatusPending, schema.NodeStatusRunning, nil); err != nil {
		return nil, err
	}
	r.persistNodeOutput(ctx, rs.run.ID, no)
	rs.emit(schema.EventNodeStarted, nodeID, star.ID, nil)
	r.logger.InfoContext(nodeCtx, "node started", slog.String("kind", string(star.Kind)))

	var result *StarResult
	maxAttempts := rs.c.RetryAttempts()
	for attempt := 0; ; attempt++ {
		result, err = exec.Execute(ctx, rs.ec, star)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= maxAttempts || !IsRetryableError(err) {
			return nil, r.failNode(ctx, rs, no, star, attempt, err)
		}

		no.Attempts = attempt + 1
		retryPayload, _ := json.Marshal(map[string]any{
			"attempt":      attempt + 1,
			"max_attempts": maxAttempts,
			"error":        err.Error(),
		})
		if terr := r.nodeFSM.Transition(ctx, rs.run.ID, nodeID, schema.NodeStatusRunning, schema.NodeStatusRetrying, retryPayload); terr != nil {
			return nil, terr
		}
		rs.emit(schema.EventNodeRetrying, nodeID, star.ID, map[string]any{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		r.logger.WarnContext(nodeCtx, "node retrying",
			slog.Int("attempt", attempt+1), slog.String("error", err.Error()))

		if werr := WaitForBackoff(ctx, Backoff(rs.c.RetryDelayBase, attempt)); werr != nil {
			return nil, werr
		}
		if terr := r.nodeFSM.Transition(ctx, rs.run.ID, nodeID, schema.NodeStatusRetrying, schema.NodeStatusRunning, nil); terr != nil {
			return nil, terr
		}
	}

	completedAt := time.Now().UTC()
	status := nodeStatusFor(result.Output)
	no.Status = status
	no.Output = result.Output
	no.ToolCalls = result.ToolCalls
	no.CompletedAt = &completedAt
	if status == schema.NodeStatusFailed {
		no.Error = softErrorText(result.Output)
	}

	payload := nodeCompletionPayload(status, result.Output, no.Error)
	if terr := r.nodeFSM.Transition(ctx, rs.run.ID, nodeID, schema.NodeStatusRunning, status, payload); terr != nil {
		return nil, terr
	}
	r.persistNodeOutput(ctx, rs.run.ID, no)

	switch status {
	case schema.NodeStatusFailed:
		rs.emit(schema.EventNodeFailed, nodeID, star.ID, map[string]any{"error": no.Error})
	default:
		rs.emit(schema.EventNodeCompleted, nodeID, star.ID, map[string]any{"status": string(status)})
	}
	r.logger.InfoContext(nodeCtx, "node finished",
		slog.String("status", string(status)),
		slog.Duration("duration", completedAt.Sub(startedAt)))

	return result, nil
}

// failNode records a hard node failure and wraps the error for the run.
func (r *Runner) failNode(ctx context.Context, rs *runState, no *schema.NodeOutput, star *schema.Star, attempt int, execErr error) error {
	now := time.Now().UTC()
	no.Status = schema.NodeStatusFailed
	no.Error = execErr.Error()
	no.CompletedAt = &now

	payload, _ := json.Marshal(map[string]string{"message": execErr.Error()})
	_ = r.nodeFSM.Transition(ctx, rs.run.ID, no.NodeID, schema.NodeStatusRunning, schema.NodeStatusFailed, payload)
	r.persistNodeOutput(ctx, rs.run.ID, no)
	rs.emit(schema.EventNodeFailed, no.NodeID, star.ID, map[string]any{"error": execErr.Error()})

	if attempt >= rs.c.RetryAttempts() && attempt > 0 {
		return schema.NewErrorf(schema.ErrCodeRetryExhausted,
			"node %s: retries exhausted after %d attempts: %s",
			no.NodeID, attempt+1, execErr.Error()).WithNode(no.NodeID).WithCause(execErr)
	}
	return schema.NewErrorf(schema.ErrCodeNodeFailed,
		"node %s: %s", no.NodeID, execErr.Error()).WithNode(no.NodeID).WithCause(execErr)
}

// rewind resets every node from the loop target through the Eval node back
// to pending and moves the cursor to the target.
func (r *Runner) rewind(ctx context.Context, rs *runState, evalNodeID, target string) int {
	targetIdx := indexOf(rs.order, target)
	evalIdx := indexOf(rs.order, evalNodeID)
	if targetIdx < 0 || evalIdx < 0 {
		return evalIdx + 1
	}

	rs.run.LoopCount++
	rs.ec.LoopCount = rs.run.LoopCount
	lc := rs.run.LoopCount
	if err := r.store.UpdateRun(ctx, rs.run.ID, store.RunUpdate{LoopCount: &lc}); err != nil {
		r.logger.WarnContext(ctx, "persist loop count failed", slog.String("error", err.Error()))
	}

	for i := targetIdx; i <= evalIdx; i++ {
		nodeID := rs.order[i]
		out := rs.ec.NodeOutput(nodeID)
		if out == nil {
			continue
		}
		_ = r.nodeFSM.Transition(ctx, rs.run.ID, nodeID, out.Status, schema.NodeStatusPending, nil)
		rs.ec.RemoveNodeOutput(nodeID)
		delete(rs.run.NodeOutputs, nodeID)
		r.persistNodeOutput(ctx, rs.run.ID, &schema.NodeOutput{
			NodeID: nodeID,
			StarID: out.StarID,
			Status: schema.NodeStatusPending,
		})
	}

	rs.emit(schema.EventLoopRewound, evalNodeID, "", map[string]any{
		"target":     target,
		"loop_count": rs.run.LoopCount,
	})
	r.logger.InfoContext(ctx, "loop rewound",
		slog.String("target", target), slog.Int("loop_count", rs.run.LoopCount))

	return targetIdx
}

// suspendForConfirmation pauses the run on a confirmation-gated node.
func (r *Runner) suspendForConfirmation(ctx context.Context, rs *runState, star *schema.Star) (*schema.Run, error) {
	prompt := star.ConfirmationPrompt
	if prompt == "" {
		prompt = "Confirm to continue."
	}

	payload, _ := json.Marshal(map[string]string{"node_id": star.ID, "prompt": prompt})
	if err := r.runFSM.Transition(ctx, rs.run.ID, schema.RunStatusRunning, schema.RunStatusAwaitingConfirmation, payload); err != nil {
		return nil, err
	}

	awaiting := schema.RunStatusAwaitingConfirmation
	nodeID := star.ID
	if err := r.store.UpdateRun(ctx, rs.run.ID, store.RunUpdate{
		Status:         &awaiting,
		AwaitingNodeID: &nodeID,
		AwaitingPrompt: &prompt,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "persist awaiting state: %s", err.Error()).WithCause(err)
	}

	rs.run.Status = schema.RunStatusAwaitingConfirmation
	rs.run.AwaitingNodeID = star.ID
	rs.run.AwaitingPrompt = prompt

	rs.emit(schema.EventAwaitingConfirmation, star.ID, star.ID, map[string]any{"prompt": prompt})
	r.logger.InfoContext(logging.WithIDs(ctx, rs.run.ID, star.ID, star.ID), "run awaiting confirmation")

	return rs.run, nil
}

// completeRun finalizes a successful run: the final output is taken from
// the terminal node (the node feeding End).
func (r *Runner) completeRun(rs *runState) (*schema.Run, error) {
	ctx := context.Background()

	finalOutput := rs.finalOutput()
	payload, _ := json.Marshal(map[string]string{"final_output": finalOutput})
	if err := r.runFSM.Transition(ctx, rs.run.ID, schema.RunStatusRunning, schema.RunStatusCompleted, payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	completed := schema.RunStatusCompleted
	if err := r.store.UpdateRun(ctx, rs.run.ID, store.RunUpdate{
		Status:      &completed,
		FinalOutput: &finalOutput,
		CompletedAt: &now,
	}); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "persist run completion: %s", err.Error()).WithCause(err)
	}

	rs.run.Status = schema.RunStatusCompleted
	rs.run.FinalOutput = finalOutput
	rs.run.CompletedAt = &now

	rs.emit(schema.EventRunCompleted, "", "", map[string]any{"final_output": finalOutput})
	r.logger.InfoContext(logging.WithRunID(ctx, rs.run.ID), "run completed")

	return rs.run, nil
}

// failRun finalizes a failed run. The failure is reported on the Run, not
// as a Go error: the caller asked for a run and got one, with status failed.
func (r *Runner) failRun(rs *runState, runErr error) (*schema.Run, error) {
	ctx := context.Background()

	msg := runErr.Error()
	payload, _ := json.Marshal(map[string]string{"error": msg})
	_ = r.runFSM.Transition(ctx, rs.run.ID, schema.RunStatusRunning, schema.RunStatusFailed, payload)

	now := time.Now().UTC()
	failed := schema.RunStatusFailed
	_ = r.store.UpdateRun(ctx, rs.run.ID, store.RunUpdate{
		Status:      &failed,
		Error:       &msg,
		CompletedAt: &now,
	})

	rs.run.Status = schema.RunStatusFailed
	rs.run.Error = msg
	rs.run.CompletedAt = &now

	rs.emit(schema.EventRunFailed, "", "", map[string]any{"error": msg})
	r.logger.ErrorContext(logging.WithRunID(ctx, rs.run.ID), "run failed", slog.String("error", msg))

	return rs.run, nil
}

// finishCancelled returns the run after cooperative cancellation. CancelRun
// already persisted the terminal state and appended the event.
func (r *Runner) finishCancelled(rs *runState) (*schema.Run, error) {
	ctx := context.Background()

	rec, err := r.store.GetRun(ctx, rs.run.ID)
	if err == nil && rec.Status == schema.RunStatusCancelled {
		rs.run.Status = schema.RunStatusCancelled
		rs.run.Error = rec.Error
		rs.run.CompletedAt = rec.CompletedAt
		rs.emit(schema.EventRunCancelled, "", "", nil)
		return rs.run, nil
	}

	// External context cancellation: persist the terminal state ourselves.
	payload, _ := json.Marshal(map[string]string{"reason": "context cancelled"})
	_ = r.runFSM.Transition(ctx, rs.run.ID, schema.RunStatusRunning, schema.RunStatusCancelled, payload)
	now := time.Now().UTC()
	cancelled := schema.RunStatusCancelled
	errStr := "cancelled"
	_ = r.store.UpdateRun(ctx, rs.run.ID, store.RunUpdate{
		Status:      &cancelled,
		Error:       &errStr,
		CompletedAt: &now,
	})
	rs.run.Status = schema.RunStatusCancelled
	rs.run.Error = errStr
	rs.run.CompletedAt = &now
	rs.emit(schema.EventRunCancelled, "", "", nil)
	return rs.run, nil
}

// finalOutput flattens the output of the node feeding End, falling back to
// the last completed node in order.
func (rs *runState) finalOutput() string {
	for _, pred := range rs.g.UpstreamNodes(schema.NodeEnd) {
		if out := rs.ec.NodeOutput(pred); out != nil {
			if text := outputText(out.Output); text != "" {
				return text
			}
		}
	}
	for i := len(rs.order) - 1; i >= 0; i-- {
		if out := rs.ec.NodeOutput(rs.order[i]); out != nil {
			if text := outputText(out.Output); text != "" {
				return text
			}
		}
	}
	return ""
}

// --- Helpers ---

func (r *Runner) registerActive(runID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[runID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already has an active driver", runID)
	}
	r.active[runID] = cancel
	return nil
}

func (r *Runner) unregisterActive(runID string) {
	r.mu.Lock()
	delete(r.active, runID)
	r.mu.Unlock()
}

// persistNodeOutput writes the materialized node view. Best-effort: the run
// keeps going even if this write fails (the event log remains the source of
// truth).
func (r *Runner) persistNodeOutput(ctx context.Context, runID string, no *schema.NodeOutput) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := r.store.UpsertNodeOutput(ctx, runID, nodeOutputToRecord(runID, no)); err != nil {
		r.logger.WarnContext(ctx, "persist node output failed",
			slog.String("node_id", no.NodeID), slog.String("error", err.Error()))
	}
}

// nodeStatusFor maps a star's soft output status onto the node lifecycle.
func nodeStatusFor(out *schema.StarOutput) schema.NodeStatus {
	if out == nil {
		return schema.NodeStatusCompleted
	}
	switch out.Kind {
	case schema.OutputWorker:
		if out.Worker != nil {
			switch out.Worker.Status {
			case schema.WorkerStatusFailed:
				return schema.NodeStatusFailed
			case schema.WorkerStatusMaxIterations:
				return schema.NodeStatusMaxIterations
			}
		}
	case schema.OutputExecution:
		if out.Execution != nil && out.Execution.Status == schema.ExecutionStatusFailed {
			return schema.NodeStatusFailed
		}
	}
	return schema.NodeStatusCompleted
}

func softErrorText(out *schema.StarOutput) string {
	if out == nil {
		return ""
	}
	if out.Kind == schema.OutputWorker && out.Worker != nil {
		return out.Worker.Error
	}
	if out.Kind == schema.OutputExecution && out.Execution != nil {
		return "all tasks failed"
	}
	return ""
}

// nodeCompletionPayload builds the persisted event payload for a finished
// node, matching the shape the event-log replay reads back.
func nodeCompletionPayload(status schema.NodeStatus, out *schema.StarOutput, errText string) json.RawMessage {
	body := map[string]any{}
	if out != nil {
		body["output"] = out
	}
	if status == schema.NodeStatusFailed {
		body["message"] = errText
	} else if status != schema.NodeStatusCompleted {
		body["status"] = string(status)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil
	}
	return raw
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

// --- Record conversions ---

func runFromRecord(rec *store.RunRecord) *schema.Run {
	run := &schema.Run{
		ID:                rec.ID,
		ConstellationID:   rec.ConstellationID,
		ConstellationName: rec.ConstellationName,
		Status:            rec.Status,
		Variables:         rec.Variables,
		OriginalQuery:     rec.OriginalQuery,
		FinalOutput:       rec.FinalOutput,
		Error:             rec.Error,
		LoopCount:         rec.LoopCount,
		AwaitingNodeID:    rec.AwaitingNodeID,
		AwaitingPrompt:    rec.AwaitingPrompt,
		CompletedAt:       rec.CompletedAt,
		NodeOutputs:       make(map[string]*schema.NodeOutput),
	}
	if run.Variables == nil {
		run.Variables = make(map[string]any)
	}
	if rec.StartedAt != nil {
		run.StartedAt = *rec.StartedAt
	}
	return run
}

func nodeOutputToRecord(runID string, no *schema.NodeOutput) *store.NodeOutputRecord {
	rec := &store.NodeOutputRecord{
		RunID:       runID,
		NodeID:      no.NodeID,
		StarID:      no.StarID,
		Status:      no.Status,
		Attempts:    no.Attempts,
		StartedAt:   no.StartedAt,
		CompletedAt: no.CompletedAt,
	}
	if no.Output != nil {
		if raw, err := json.Marshal(no.Output); err == nil {
			rec.Output = raw
		}
	}
	if no.Error != "" {
		if raw, err := json.Marshal(no.Error); err == nil {
			rec.Error = raw
		}
	}
	if len(no.ToolCalls) > 0 {
		if raw, err := json.Marshal(no.ToolCalls); err == nil {
			rec.ToolCalls = raw
		}
	}
	if no.StartedAt != nil && no.CompletedAt != nil {
		rec.DurationMs = no.CompletedAt.Sub(*no.StartedAt).Milliseconds()
	}
	return rec
}

func nodeOutputFromRecord(rec *store.NodeOutputRecord) *schema.NodeOutput {
	no := &schema.NodeOutput{
		NodeID:      rec.NodeID,
		StarID:      rec.StarID,
		Status:      rec.Status,
		Attempts:    rec.Attempts,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	if len(rec.Output) > 0 {
		var out schema.StarOutput
		if json.Unmarshal(rec.Output, &out) == nil {
			no.Output = &out
		}
	}
	if len(rec.Error) > 0 {
		var errText string
		if json.Unmarshal(rec.Error, &errText) == nil {
			no.Error = errText
		}
	}
	if len(rec.ToolCalls) > 0 {
		_ = json.Unmarshal(rec.ToolCalls, &no.ToolCalls)
	}
	return no
}
