package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/pkg/schema"
)

func newEvalFixture(t *testing.T, client llm.Client, probeReg *probes.Registry) (*EvalExecutor, *ExecContext, *schema.Constellation) {
	t.Helper()
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, probeReg)
	ec.SetCurrentNode("check")
	return &EvalExecutor{
		llm:      client,
		breakers: NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig()),
		expr:     expressions.NewExprEngine(),
	}, ec, c
}

func seedEvalInputs(ec *ExecContext, criteria string) {
	ec.SetNodeOutput("plan", &schema.NodeOutput{NodeID: "plan", Output: &schema.StarOutput{
		Kind: schema.OutputPlan,
		Plan: &schema.Plan{
			Tasks:           []schema.PlanTask{{ID: "t1", Description: "gather data"}},
			SuccessCriteria: criteria,
		},
	}})
	ec.SetNodeOutput("exec", &schema.NodeOutput{NodeID: "exec", Output: workerOutput("1.6 TW installed")})
}

func TestEvalReturnsLoopVerdict(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("Success criteria:", `{"decision":"loop","reasoning":"numbers missing for Asia"}`)

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "figures for all regions")

	res, err := exec.Execute(context.Background(), ec, c.StarByID("check"))
	require.NoError(t, err)
	require.Equal(t, schema.OutputEval, res.Output.Kind)
	assert.Equal(t, schema.DecisionLoop, res.Output.Eval.Decision)
	assert.Equal(t, "numbers missing for Asia", res.Output.Eval.Reasoning)

	// The prompt carried the criteria and the upstream results.
	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[0].Content, "figures for all regions")
	assert.Contains(t, reqs[0].Messages[0].Content, "1.6 TW installed")
}

func TestEvalContinueVerdict(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("Success criteria:", `{"decision":"continue","reasoning":"criteria satisfied"}`)

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "any figures")

	res, err := exec.Execute(context.Background(), ec, c.StarByID("check"))
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
}

func TestEvalFailsOpenOnLLMError(t *testing.T) {
	client := llm.NewMockClient()
	client.FailWith(errors.New("provider down"))

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "whatever")

	res, err := exec.Execute(context.Background(), ec, c.StarByID("check"))
	require.NoError(t, err, "eval must never block the run")
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
}

func TestEvalFailsOpenOnUnparseableVerdict(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("Success criteria:", "looks good to me!")

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "whatever")

	res, err := exec.Execute(context.Background(), ec, c.StarByID("check"))
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
}

func TestEvalFailsOpenOnUnknownDecision(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("Success criteria:", `{"decision":"retry","reasoning":"?"}`)

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "whatever")

	res, err := exec.Execute(context.Background(), ec, c.StarByID("check"))
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
}

func TestEvalSuccessExprShortCircuitsLLM(t *testing.T) {
	client := llm.NewMockClient()

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "whatever")
	ec.Variables["approved"] = true

	star := *c.StarByID("check")
	star.Config = map[string]any{"success_expr": "variables.approved == true"}

	res, err := exec.Execute(context.Background(), ec, &star)
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
	assert.Empty(t, client.Requests(), "deterministic check must skip the LLM")
}

func TestEvalSuccessExprFalseFallsThroughToLLM(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("Success criteria:", `{"decision":"loop","reasoning":"not approved"}`)

	exec, ec, c := newEvalFixture(t, client, nil)
	seedEvalInputs(ec, "whatever")
	ec.Variables["approved"] = false

	star := *c.StarByID("check")
	star.Config = map[string]any{"success_expr": "variables.approved == true"}

	res, err := exec.Execute(context.Background(), ec, &star)
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionLoop, res.Output.Eval.Decision)
	assert.Len(t, client.Requests(), 1)
}

// One executor set serves every run of a Runner, so success_expr evaluation
// must be safe when runs overlap.
func TestEvalSuccessExprConcurrentRuns(t *testing.T) {
	client := llm.NewMockClient()
	set := NewExecutorSet(client)
	ev, err := set.Get(schema.StarEval)
	require.NoError(t, err)
	require.NotNil(t, ev.(*EvalExecutor).expr, "expression engine must exist before the first execution")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ms := newMockStore()
			c := pipelineConstellation()
			seedConstellation(ms, c)
			ec := newTestContext(c, ms, nil)
			ec.SetCurrentNode("check")
			seedEvalInputs(ec, "whatever")
			ec.Variables["approved"] = true

			star := *c.StarByID("check")
			star.Config = map[string]any{"success_expr": "variables.approved == true"}

			res, execErr := ev.Execute(context.Background(), ec, &star)
			assert.NoError(t, execErr)
			if execErr == nil {
				assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
			}
		}()
	}
	wg.Wait()
	assert.Empty(t, client.Requests(), "deterministic checks must skip the LLM")
}

func TestEvalVerificationToolLoop(t *testing.T) {
	probe := &fakeProbe{name: "verify", fn: func(_ context.Context, _ map[string]any) (any, error) {
		return "checks out", nil
	}}
	reg := probes.NewRegistry()
	require.NoError(t, reg.Register(probe))

	client := llm.NewMockClient()
	args, _ := json.Marshal(map[string]any{"target": "figures"})
	client.QueueToolCalls(llm.ToolCall{ID: "v1", Name: "verify", Args: args})
	client.AddResponse("Success criteria:", `{"decision":"continue","reasoning":"verified"}`)

	exec, ec, c := newEvalFixture(t, client, reg)
	seedEvalInputs(ec, "verified by probe")

	star := *c.StarByID("check")
	star.ProbeIDs = []string{"verify"}

	res, err := exec.Execute(context.Background(), ec, &star)
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "verify", res.ToolCalls[0].Probe)
	assert.Equal(t, 1, probe.callCount())
}

func TestEvalBudgetExhaustedDefaultsToContinue(t *testing.T) {
	probe := &fakeProbe{name: "verify"}
	reg := probes.NewRegistry()
	require.NoError(t, reg.Register(probe))

	client := llm.NewMockClient()
	for i := 0; i < evalIterations; i++ {
		args, _ := json.Marshal(map[string]any{"round": i})
		client.QueueToolCalls(llm.ToolCall{ID: "v", Name: "verify", Args: args})
	}

	exec, ec, c := newEvalFixture(t, client, reg)
	seedEvalInputs(ec, "never answered")

	star := *c.StarByID("check")
	star.ProbeIDs = []string{"verify"}

	res, err := exec.Execute(context.Background(), ec, &star)
	require.NoError(t, err)
	assert.Equal(t, schema.DecisionContinue, res.Output.Eval.Decision)
	assert.Len(t, res.ToolCalls, evalIterations)
}
