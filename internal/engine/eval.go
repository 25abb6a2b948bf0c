package engine

import (
	"context"
	"encoding/json"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/pkg/schema"
)

// evalIterations bounds the verification tool loop inside an Eval star.
const evalIterations = 3

// evalPrompt instructs the model on the verdict shape.
const evalPrompt = `Decide whether the results satisfy the success criteria.
Respond with a single JSON object: {"decision":"continue"|"loop","reasoning":"..."}.
"loop" sends the run back to planning for rework; "continue" accepts the results.`

// EvalExecutor runs Eval stars: it reads the Plan's success criteria and the
// direct upstream results, optionally calls probes to verify, and asks the
// LLM for a continue/loop verdict. Fail-open: any error or unparseable
// verdict defaults to continue so an Eval problem never blocks a run.
//
// One EvalExecutor serves every run of a Runner concurrently, so all fields
// are set at construction and never written afterwards.
type EvalExecutor struct {
	llm      llm.Client
	breakers *CircuitBreakerRegistry
	expr     *expressions.ExprEngine
}

// Kind implements StarExecutor.
func (e *EvalExecutor) Kind() schema.StarKind { return schema.StarEval }

// Execute implements StarExecutor.
func (e *EvalExecutor) Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error) {
	directive, err := ec.GetDirective(ctx, star.DirectiveID)
	if err != nil {
		return nil, err
	}

	// Deterministic short-circuit: a success_expr in the star config that
	// evaluates true accepts the results without an LLM call.
	if successExpr, ok := star.Config["success_expr"].(string); ok && successExpr != "" {
		if out, exprErr := e.expr.Evaluate(ctx, successExpr, ec.Scope().Data()); exprErr == nil {
			if pass, isBool := out.(bool); isBool && pass {
				return evalVerdict(schema.DecisionContinue, "success expression satisfied"), nil
			}
		}
	}

	criteria := ""
	if planOut := ec.GetUpstreamOutput(schema.OutputPlan); planOut != nil && planOut.Plan != nil {
		criteria = planOut.Plan.SuccessCriteria
	}

	system, err := ec.Interpolate(ctx, directive.Content)
	if err != nil {
		system = directive.Content
	}
	system += "\n\n" + evalPrompt

	user := "Success criteria: " + criteria
	if results := summarizeOutputs(ec.GetDirectUpstreamOutputs()); results != "" {
		user += "\n\nResults to evaluate:\n" + results
	}

	tools, bound := bindProbes(ec, directive, star)

	messages := []llm.Message{{Role: "user", Content: user}}
	var records []schema.ToolCallRecord

	for iter := 0; iter < evalIterations; iter++ {
		resp, err := e.llm.Invoke(ctx, llm.Request{
			System:   system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			ec.EmitLog("warn", "eval call failed, defaulting to continue: "+err.Error())
			res := evalVerdict(schema.DecisionContinue, "evaluation unavailable: "+err.Error())
			res.ToolCalls = records
			return res, nil
		}

		if len(resp.ToolCalls) > 0 {
			ec.EmitThought(resp.Text)
			messages = append(messages, llm.Message{
				Role:      "assistant",
				Content:   resp.Text,
				ToolCalls: resp.ToolCalls,
			})
			var round []schema.ToolCallRecord
			messages, round = runToolCalls(ctx, ec, e.breakers, bound, resp.ToolCalls, messages)
			records = append(records, round...)
			continue
		}

		decision, ok := parseVerdict(resp.Text)
		if !ok {
			ec.EmitLog("warn", "eval verdict did not parse, defaulting to continue")
			decision = &schema.EvalDecision{
				Decision:  schema.DecisionContinue,
				Reasoning: "verdict unparseable",
			}
		}
		return &StarResult{
			Output:    &schema.StarOutput{Kind: schema.OutputEval, Eval: decision},
			ToolCalls: records,
		}, nil
	}

	// Verification loop exhausted without a verdict: fail-open.
	res := evalVerdict(schema.DecisionContinue, "verification budget exhausted")
	res.ToolCalls = records
	return res, nil
}

func parseVerdict(text string) (*schema.EvalDecision, bool) {
	raw, ok := extractJSON(text)
	if !ok {
		return nil, false
	}
	var verdict schema.EvalDecision
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, false
	}
	if verdict.Decision != schema.DecisionContinue && verdict.Decision != schema.DecisionLoop {
		return nil, false
	}
	return &verdict, true
}

func evalVerdict(decision, reasoning string) *StarResult {
	return &StarResult{
		Output: &schema.StarOutput{
			Kind: schema.OutputEval,
			Eval: &schema.EvalDecision{Decision: decision, Reasoning: reasoning},
		},
	}
}
