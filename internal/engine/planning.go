package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/pkg/schema"
)

// planPrompt instructs the model on the exact plan shape expected back.
const planPrompt = `Respond with a single JSON object of the form:
{"tasks":[{"id":"task_1","description":"...","dependencies":[]}],"context":"...","success_criteria":"..."}
Every task needs a unique id. List dependencies as task ids. No prose outside the JSON.`

// PlanningExecutor runs Planning stars: one LLM call producing a task plan.
// Unparseable output falls back to a single-task plan wrapping the original
// query verbatim, so planning never fails a run by itself.
type PlanningExecutor struct {
	llm llm.Client
}

// Kind implements StarExecutor.
func (p *PlanningExecutor) Kind() schema.StarKind { return schema.StarPlanning }

// Execute implements StarExecutor.
func (p *PlanningExecutor) Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error) {
	directive, err := ec.GetDirective(ctx, star.DirectiveID)
	if err != nil {
		return nil, err
	}

	system, err := ec.Interpolate(ctx, directive.Content)
	if err != nil {
		system = directive.Content
	}
	system += "\n\n" + planPrompt

	user := "Query: " + ec.OriginalQuery
	if len(ec.Variables) > 0 {
		if raw, merr := json.Marshal(ec.Variables); merr == nil {
			user += "\nVariables: " + string(raw)
		}
	}

	resp, err := p.llm.Invoke(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: "user", Content: user}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ec.EmitLog("warn", "planning call failed, using fallback plan: "+err.Error())
		return fallbackPlan(ec), nil
	}

	plan, ok := parsePlan(resp.Text)
	if !ok {
		ec.EmitLog("warn", "plan output did not parse, using fallback plan")
		return fallbackPlan(ec), nil
	}

	return &StarResult{Output: &schema.StarOutput{Kind: schema.OutputPlan, Plan: plan}}, nil
}

// parsePlan extracts and validates the plan JSON from model text.
func parsePlan(text string) (*schema.Plan, bool) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, false
	}
	var plan schema.Plan
	if err := json.Unmarshal(raw, &plan); err != nil || len(plan.Tasks) == 0 {
		return nil, false
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].ID == "" {
			plan.Tasks[i].ID = fmt.Sprintf("task_%d", i+1)
		}
		if plan.Tasks[i].Description == "" {
			return nil, false
		}
	}
	return &plan, true
}

// fallbackPlan wraps the original query in a single task.
func fallbackPlan(ec *ExecContext) *StarResult {
	description := ec.OriginalQuery
	if description == "" {
		description = "Carry out the directive."
	}
	return &StarResult{
		Output: &schema.StarOutput{
			Kind: schema.OutputPlan,
			Plan: &schema.Plan{
				Tasks: []schema.PlanTask{{ID: "task_1", Description: description}},
			},
		},
	}
}
