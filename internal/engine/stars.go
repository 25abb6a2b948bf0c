package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/pkg/schema"
)

// StarResult is what a star executor hands back to the runner: the typed
// output payload plus the ordered probe calls made along the way. The runner
// writes the NodeOutput; stars never mutate node_outputs themselves.
type StarResult struct {
	Output    *schema.StarOutput
	ToolCalls []schema.ToolCallRecord
}

// StarExecutor is the polymorphic execution contract. One implementation
// per star kind, dispatched by the runner through an ExecutorSet.
type StarExecutor interface {
	Kind() schema.StarKind
	Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error)
}

// ExecutorSet dispatches star execution by kind. Adding a star kind means
// registering one more executor.
type ExecutorSet struct {
	byKind map[schema.StarKind]StarExecutor
}

// NewExecutorSet builds the default executor set over the given LLM client.
func NewExecutorSet(client llm.Client) *ExecutorSet {
	breakers := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	worker := &WorkerExecutor{llm: client, breakers: breakers}

	set := &ExecutorSet{byKind: make(map[schema.StarKind]StarExecutor)}
	set.Register(worker)
	set.Register(&PlanningExecutor{llm: client})
	set.Register(&ExecutionExecutor{worker: worker})
	set.Register(&EvalExecutor{llm: client, breakers: breakers, expr: expressions.NewExprEngine()})
	set.Register(&SynthesisExecutor{llm: client})
	set.Register(&DocumentExtractionExecutor{})
	return set
}

// Register adds an executor, replacing any previous one for the same kind.
func (s *ExecutorSet) Register(exec StarExecutor) {
	s.byKind[exec.Kind()] = exec
}

// Get returns the executor for a star kind.
func (s *ExecutorSet) Get(kind schema.StarKind) (StarExecutor, error) {
	exec, ok := s.byKind[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "no executor registered for star kind %q", kind)
	}
	return exec, nil
}

// --- Shared helpers ---

// bindProbes resolves the union of directive-level and star-level probe ids
// against the registry. Unresolvable probes are logged and skipped, never
// fatal.
func bindProbes(ec *ExecContext, directive *schema.Directive, star *schema.Star) ([]llm.ToolDefinition, map[string]probes.Probe) {
	seen := make(map[string]bool)
	var names []string
	for _, id := range append(append([]string{}, directive.ProbeIDs...), star.ProbeIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		names = append(names, id)
	}

	var defs []llm.ToolDefinition
	bound := make(map[string]probes.Probe, len(names))
	for _, name := range names {
		p, err := ec.Probes().Get(name)
		if err != nil {
			ec.EmitLog("warn", fmt.Sprintf("probe %q not registered, skipping", name))
			continue
		}
		bound[name] = p
		defs = append(defs, llm.ToolDefinition{
			Name:        p.Name(),
			Description: p.Description(),
			Parameters:  p.Parameters(),
		})
	}
	return defs, bound
}

// invokeProbe executes one tool call, consulting the run-wide result cache
// and the per-probe circuit breaker. The bool reports a cache hit.
func invokeProbe(ctx context.Context, ec *ExecContext, breakers *CircuitBreakerRegistry, bound map[string]probes.Probe, name string, args map[string]any) (any, bool, error) {
	if result, ok := ec.CachedToolResult(name, args); ok {
		return result, true, nil
	}

	p, ok := bound[name]
	if !ok {
		return nil, false, schema.NewErrorf(schema.ErrCodeProbe, "probe %q not bound to this star", name)
	}

	if breakers != nil {
		if err := breakers.AllowRequest(name); err != nil {
			return nil, false, err
		}
	}

	result, err := p.Invoke(ctx, args)
	if err != nil {
		if breakers != nil {
			breakers.RecordFailure(name)
		}
		return nil, false, err
	}
	if breakers != nil {
		breakers.RecordSuccess(name)
	}

	ec.CacheToolResult(name, args, result)
	return result, false, nil
}

// runToolCalls executes a round of model-requested tool calls, recording
// each as a ToolCallRecord and appending the tool replies to the
// conversation. Individual call failures become record errors, never abort
// the round.
func runToolCalls(ctx context.Context, ec *ExecContext, breakers *CircuitBreakerRegistry, bound map[string]probes.Probe, calls []llm.ToolCall, messages []llm.Message) ([]llm.Message, []schema.ToolCallRecord) {
	records := make([]schema.ToolCallRecord, 0, len(calls))

	for _, call := range calls {
		var args map[string]any
		if len(call.Args) > 0 {
			_ = json.Unmarshal(call.Args, &args)
		}

		ec.EmitToolCall(call.Name, args)
		result, cached, err := invokeProbe(ctx, ec, breakers, bound, call.Name, args)
		ec.EmitToolResult(call.Name, result, err)

		rec := schema.ToolCallRecord{Probe: call.Name, Args: args, Cached: cached}
		var content string
		if err != nil {
			rec.Error = err.Error()
			content = "error: " + err.Error()
		} else {
			rec.Result = result
			content = stringifyResult(result)
		}
		records = append(records, rec)

		messages = append(messages, llm.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: call.ID,
		})
	}

	return messages, records
}

func stringifyResult(v any) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case string:
		return tv
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// extractJSON pulls the first JSON object out of model text, tolerating
// markdown fences and surrounding prose.
func extractJSON(text string) (json.RawMessage, bool) {
	s := strings.TrimSpace(text)
	if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end != -1 {
			s = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return json.RawMessage(candidate), true
					}
					return nil, false
				}
			}
		}
	}
	return nil, false
}

// summarizeOutputs renders upstream outputs as labeled text blocks for
// prompting, in deterministic node-id order.
func summarizeOutputs(outputs map[string]*schema.StarOutput) string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		text := outputText(outputs[id])
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", id, text)
	}
	return strings.TrimSpace(b.String())
}

// outputText flattens a star output to plain text by shape.
func outputText(out *schema.StarOutput) string {
	if out == nil {
		return ""
	}
	switch out.Kind {
	case schema.OutputWorker:
		if out.Worker != nil {
			if out.Worker.Error != "" {
				return fmt.Sprintf("%s (status: %s, error: %s)", out.Worker.Result, out.Worker.Status, out.Worker.Error)
			}
			return out.Worker.Result
		}
	case schema.OutputSynthesis:
		if out.Synthesis != nil {
			return out.Synthesis.FormattedResult
		}
	case schema.OutputExecution:
		if out.Execution != nil {
			var b strings.Builder
			for _, w := range out.Execution.Workers {
				if w.Result == "" && w.Error == "" {
					continue
				}
				if w.Error != "" {
					fmt.Fprintf(&b, "- task %s failed: %s\n", w.TaskID, w.Error)
					continue
				}
				fmt.Fprintf(&b, "- %s\n", w.Result)
			}
			return strings.TrimSpace(b.String())
		}
	case schema.OutputPlan:
		if out.Plan != nil {
			var b strings.Builder
			for _, t := range out.Plan.Tasks {
				fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Description)
			}
			return strings.TrimSpace(b.String())
		}
	case schema.OutputEval:
		if out.Eval != nil {
			return fmt.Sprintf("decision: %s (%s)", out.Eval.Decision, out.Eval.Reasoning)
		}
	case schema.OutputDocuments:
		if out.Documents != nil {
			var b strings.Builder
			for _, d := range out.Documents.Documents {
				fmt.Fprintf(&b, "%s\n", d.Content)
			}
			return strings.TrimSpace(b.String())
		}
	}
	return ""
}
