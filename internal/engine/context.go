package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/internal/graph"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/internal/streaming"
	"github.com/constellate-io/constellate/pkg/schema"
)

// ExecContext is the per-run mutable state handed to each star during
// execution. A Fork shares node outputs and the tool-result cache with its
// parent by reference but carries an independent current node and task.
type ExecContext struct {
	RunID         string
	Constellation *schema.Constellation
	Graph         *graph.Graph
	Variables     map[string]any
	OriginalQuery string
	LoopCount     int

	// Task narrows a forked context to a single plan task.
	Task string

	registry Registry
	probes   *probes.Registry
	stream   streaming.Stream
	interp   *expressions.Interpolator

	currentNodeID string

	shared *sharedState
}

// sharedState is the portion of the context shared by reference between a
// parent context and its forks.
type sharedState struct {
	mu          sync.Mutex
	nodeOutputs map[string]*schema.NodeOutput
	toolCache   map[string]any
}

// NewExecContext creates the root context for a run.
func NewExecContext(runID string, c *schema.Constellation, g *graph.Graph, registry Registry, probeReg *probes.Registry, stream streaming.Stream) *ExecContext {
	return &ExecContext{
		RunID:         runID,
		Constellation: c,
		Graph:         g,
		Variables:     make(map[string]any),
		registry:      registry,
		probes:        probeReg,
		stream:        stream,
		interp:        expressions.NewInterpolator(nil),
		shared: &sharedState{
			nodeOutputs: make(map[string]*schema.NodeOutput),
			toolCache:   make(map[string]any),
		},
	}
}

// Fork derives a sub-context for a spawned worker task. Node outputs and the
// tool cache stay shared; the current node and task are independent.
func (ec *ExecContext) Fork() *ExecContext {
	clone := *ec
	clone.Task = ""
	return &clone
}

// SetCurrentNode records the node the runner is about to execute.
func (ec *ExecContext) SetCurrentNode(nodeID string) { ec.currentNodeID = nodeID }

// CurrentNode returns the node currently executing in this context.
func (ec *ExecContext) CurrentNode() string { return ec.currentNodeID }

// Probes returns the probe registry attached to this run.
func (ec *ExecContext) Probes() *probes.Registry { return ec.probes }

// GetDirective resolves a directive through the collaborator registry.
func (ec *ExecContext) GetDirective(ctx context.Context, id string) (*schema.Directive, error) {
	if ec.registry == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no registry attached to execution context")
	}
	return ec.registry.GetDirective(ctx, id)
}

// --- Node outputs ---

// SetNodeOutput records a node's output in the shared map.
func (ec *ExecContext) SetNodeOutput(nodeID string, out *schema.NodeOutput) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	ec.shared.nodeOutputs[nodeID] = out
}

// RemoveNodeOutput deletes a node's output (loop rewinds).
func (ec *ExecContext) RemoveNodeOutput(nodeID string) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	delete(ec.shared.nodeOutputs, nodeID)
}

// NodeOutput returns the recorded output for a node, or nil.
func (ec *ExecContext) NodeOutput(nodeID string) *schema.NodeOutput {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	return ec.shared.nodeOutputs[nodeID]
}

// NodeOutputs returns a snapshot copy of all recorded node outputs.
func (ec *ExecContext) NodeOutputs() map[string]*schema.NodeOutput {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	out := make(map[string]*schema.NodeOutput, len(ec.shared.nodeOutputs))
	for k, v := range ec.shared.nodeOutputs {
		out[k] = v
	}
	return out
}

// GetUpstreamOutputs returns the outputs of every transitive predecessor of
// the given node, following non-loop edges.
func (ec *ExecContext) GetUpstreamOutputs(nodeID string) map[string]*schema.StarOutput {
	visited := map[string]bool{}
	queue := []string{nodeID}
	out := make(map[string]*schema.StarOutput)

	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, up := range ec.Graph.UpstreamNodes(cur) {
			if visited[up] {
				continue
			}
			visited[up] = true
			queue = append(queue, up)
			if no, ok := ec.shared.nodeOutputs[up]; ok && no.Output != nil {
				out[up] = no.Output
			}
		}
	}
	return out
}

// GetDirectUpstreamOutputs returns the outputs of the immediate predecessors
// of the currently executing node. Falls back to all recorded outputs when
// the current node has no graph entry (e.g. a dynamic star fork).
func (ec *ExecContext) GetDirectUpstreamOutputs() map[string]*schema.StarOutput {
	out := make(map[string]*schema.StarOutput)

	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()

	preds := ec.Graph.UpstreamNodes(ec.currentNodeID)
	if ec.currentNodeID == "" || !ec.Graph.Has(ec.currentNodeID) || len(preds) == 0 {
		for id, no := range ec.shared.nodeOutputs {
			if no.Output != nil {
				out[id] = no.Output
			}
		}
		return out
	}

	for _, up := range preds {
		if no, ok := ec.shared.nodeOutputs[up]; ok && no.Output != nil {
			out[up] = no.Output
		}
	}
	return out
}

// GetUpstreamOutput returns the first output of the given kind among the
// current node's transitive predecessors, falling back to any recorded
// output of that kind. Used by Eval and Execution stars to find the Plan.
func (ec *ExecContext) GetUpstreamOutput(kind schema.OutputKind) *schema.StarOutput {
	for _, out := range ec.GetUpstreamOutputs(ec.currentNodeID) {
		if out.Kind == kind {
			return out
		}
	}
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	for _, no := range ec.shared.nodeOutputs {
		if no.Output != nil && no.Output.Kind == kind {
			return no.Output
		}
	}
	return nil
}

// --- Tool-result cache ---

// toolCacheKey canonicalizes (probe, args) into a cache key. Go's JSON
// encoder sorts map keys, so equal argument maps produce equal keys.
func toolCacheKey(probe string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		return probe
	}
	return probe + ":" + string(raw)
}

// CachedToolResult returns the cached result of an identical earlier call.
func (ec *ExecContext) CachedToolResult(probe string, args map[string]any) (any, bool) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	v, ok := ec.shared.toolCache[toolCacheKey(probe, args)]
	return v, ok
}

// CacheToolResult stores a probe result for the rest of the run. Repeated
// identical calls across stars are free.
func (ec *ExecContext) CacheToolResult(probe string, args map[string]any, result any) {
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	ec.shared.toolCache[toolCacheKey(probe, args)] = result
}

// --- Dynamic star creation ---

// stopWords are ignored when matching task descriptions to star names.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "into": true, "over": true, "about": true,
	"each": true, "all": true, "any": true, "are": true, "was": true,
	"will": true, "can": true, "has": true, "have": true, "its": true,
	"using": true, "use": true, "then": true, "when": true, "where": true,
}

func significantWords(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < 3 || stopWords[w] {
			continue
		}
		out[w] = true
	}
	return out
}

// FindStarForTask returns an existing worker star whose name shares at least
// two significant words with the task description, or nil.
func (ec *ExecContext) FindStarForTask(description string) *schema.Star {
	taskWords := significantWords(description)
	ec.shared.mu.Lock()
	defer ec.shared.mu.Unlock()
	for i := range ec.Constellation.Stars {
		star := &ec.Constellation.Stars[i]
		if star.Kind != schema.StarWorker {
			continue
		}
		overlap := 0
		for w := range significantWords(star.Name) {
			if taskWords[w] {
				overlap++
			}
		}
		if overlap >= 2 {
			return star
		}
	}
	return nil
}

// CreateDynamicStar mints a directive + worker star pair for a plan task
// with no matching star, persists both through the registry, and adds the
// star to the in-memory constellation.
func (ec *ExecContext) CreateDynamicStar(ctx context.Context, task schema.PlanTask) (*schema.Star, error) {
	if ec.registry == nil {
		return nil, schema.NewError(schema.ErrCodeNotFound, "no registry attached to execution context")
	}

	directive := &schema.Directive{
		ID:          uuid.New().String(),
		Name:        taskTitle(task.Description),
		Content:     task.Description,
		AIGenerated: true,
	}
	if err := ec.registry.CreateDirective(ctx, directive); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "persist dynamic directive: %s", err.Error()).WithCause(err)
	}

	star := &schema.Star{
		ID:          uuid.New().String(),
		Name:        taskTitle(task.Description),
		Kind:        schema.StarWorker,
		DirectiveID: directive.ID,
		AIGenerated: true,
		Hidden:      true,
	}
	if err := ec.registry.CreateStar(ctx, ec.Constellation.ID, star); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "persist dynamic star: %s", err.Error()).WithCause(err)
	}

	ec.shared.mu.Lock()
	ec.Constellation.Stars = append(ec.Constellation.Stars, *star)
	ec.shared.mu.Unlock()

	return star, nil
}

func taskTitle(description string) string {
	const max = 60
	title := strings.TrimSpace(description)
	if len(title) > max {
		title = title[:max]
	}
	return title
}

// --- Expression scope ---

// Scope builds the expression/interpolation scope from the current run
// state. Node outputs are flattened to plain data.
func (ec *ExecContext) Scope() *expressions.RunScope {
	nodes := make(map[string]any)

	ec.shared.mu.Lock()
	for id, no := range ec.shared.nodeOutputs {
		if no.Output == nil {
			continue
		}
		raw, err := json.Marshal(no.Output)
		if err != nil {
			continue
		}
		var data any
		if json.Unmarshal(raw, &data) == nil {
			nodes[id] = data
		}
	}
	ec.shared.mu.Unlock()

	return &expressions.RunScope{
		Variables: ec.Variables,
		Nodes:     nodes,
		Run: map[string]any{
			"run_id":           ec.RunID,
			"constellation_id": ec.Constellation.ID,
			"loop_count":       ec.LoopCount,
			"current_node":     ec.currentNodeID,
		},
		Query: ec.OriginalQuery,
	}
}

// Interpolate resolves ${{...}} references in s against the current scope.
func (ec *ExecContext) Interpolate(ctx context.Context, s string) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	return ec.interp.InterpolateString(ctx, s, ec.Scope())
}

// --- Event emission ---

// emit delivers an event to the attached stream, silently no-oping when no
// stream is attached.
func (ec *ExecContext) emit(eventType string, payload map[string]any) {
	if ec.stream == nil {
		return
	}
	_ = ec.stream.Emit(streaming.Event{
		Type:      eventType,
		RunID:     ec.RunID,
		NodeID:    ec.currentNodeID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// EmitThought surfaces intermediate model reasoning.
func (ec *ExecContext) EmitThought(text string) {
	if text == "" {
		return
	}
	ec.emit(schema.EventThought, map[string]any{"text": text})
}

// EmitToolCall surfaces a probe invocation request.
func (ec *ExecContext) EmitToolCall(probe string, args map[string]any) {
	ec.emit(schema.EventToolCall, map[string]any{"probe": probe, "args": args})
}

// EmitToolResult surfaces a probe result or error.
func (ec *ExecContext) EmitToolResult(probe string, result any, err error) {
	payload := map[string]any{"probe": probe}
	if err != nil {
		payload["error"] = err.Error()
	} else {
		payload["result"] = result
	}
	ec.emit(schema.EventToolResult, payload)
}

// EmitProgress surfaces a human-readable progress message.
func (ec *ExecContext) EmitProgress(message string) {
	ec.emit(schema.EventProgress, map[string]any{"message": message})
}

// EmitLog surfaces a leveled log line to stream consumers.
func (ec *ExecContext) EmitLog(level, message string) {
	ec.emit(schema.EventLog, map[string]any{"level": level, "message": message})
}
