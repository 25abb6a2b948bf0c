package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/pkg/schema"
)

func newExecutionFixture(t *testing.T, client llm.Client) (*ExecutionExecutor, *ExecContext, *schema.Constellation, *mockStore) {
	t.Helper()
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)
	ec.SetCurrentNode("exec")
	worker := &WorkerExecutor{
		llm:      client,
		breakers: NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig()),
	}
	return &ExecutionExecutor{worker: worker}, ec, c, ms
}

func seedPlan(ec *ExecContext, tasks ...schema.PlanTask) {
	ec.SetNodeOutput("plan", &schema.NodeOutput{NodeID: "plan", Output: &schema.StarOutput{
		Kind: schema.OutputPlan,
		Plan: &schema.Plan{Tasks: tasks},
	}})
}

func TestExecutionFailsWithoutPlan(t *testing.T) {
	exec, ec, c, _ := newExecutionFixture(t, llm.NewMockClient())

	res, err := exec.Execute(context.Background(), ec, c.StarByID("exec"))
	require.NoError(t, err, "missing plan is a soft failure")
	require.Equal(t, schema.OutputExecution, res.Output.Kind)
	assert.Equal(t, schema.ExecutionStatusFailed, res.Output.Execution.Status)
	assert.Empty(t, res.Output.Execution.Workers)
}

func TestExecutionRunsTasksViaDynamicStars(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("capacity figures", "1.6 TW")
	client.AddResponse("growth trend", "up 20% YoY")

	exec, ec, c, ms := newExecutionFixture(t, client)
	seedPlan(ec,
		schema.PlanTask{ID: "t1", Description: "gather capacity figures"},
		schema.PlanTask{ID: "t2", Description: "analyze growth trend", Dependencies: []string{"t1"}},
	)

	res, err := exec.Execute(context.Background(), ec, c.StarByID("exec"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, res.Output.Execution.Status)
	require.Len(t, res.Output.Execution.Workers, 2)

	// Independent batch first, dependent second: t1 precedes t2.
	assert.Equal(t, "t1", res.Output.Execution.Workers[0].TaskID)
	assert.Equal(t, "1.6 TW", res.Output.Execution.Workers[0].Result)
	assert.Equal(t, "t2", res.Output.Execution.Workers[1].TaskID)
	assert.Equal(t, "up 20% YoY", res.Output.Execution.Workers[1].Result)

	// Each task minted a hidden, ai-generated worker star.
	crec, err := ms.GetConstellation(context.Background(), c.ID)
	require.NoError(t, err)
	minted := 0
	for _, star := range crec.Definition.Stars {
		if star.AIGenerated {
			assert.Equal(t, schema.StarWorker, star.Kind)
			assert.True(t, star.Hidden)
			minted++
		}
	}
	assert.Equal(t, 2, minted)
}

func TestExecutionReusesMatchingWorkerStar(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("weather forecast", "sunny")

	exec, ec, c, ms := newExecutionFixture(t, client)
	c.Stars = append(c.Stars, schema.Star{
		ID: "w-weather", Name: "Fetch weather forecast",
		Kind: schema.StarWorker, DirectiveID: "d-weather",
	})
	seedConstellation(ms, c)
	seedPlan(ec, schema.PlanTask{ID: "t1", Description: "fetch the weather forecast for Berlin"})

	res, err := exec.Execute(context.Background(), ec, c.StarByID("exec"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, res.Output.Execution.Status)

	// No dynamic star minted: the existing worker matched.
	crec, err := ms.GetConstellation(context.Background(), c.ID)
	require.NoError(t, err)
	for _, star := range crec.Definition.Stars {
		assert.False(t, star.AIGenerated)
	}
}

func TestExecutionAggregatesPartialFailures(t *testing.T) {
	client := llm.NewMockClient()
	client.AddResponse("capacity figures", "1.6 TW")

	exec, ec, c, ms := newExecutionFixture(t, client)
	// A worker star whose directive does not exist: any task routed to it
	// fails while the other task succeeds through a dynamic star.
	c.Stars = append(c.Stars, schema.Star{
		ID: "w-broken", Name: "Fetch weather forecast",
		Kind: schema.StarWorker, DirectiveID: "d-missing",
	})
	seedConstellation(ms, c)
	_ = ms.DeleteDirective(context.Background(), "d-missing")
	seedPlan(ec,
		schema.PlanTask{ID: "t1", Description: "gather capacity figures"},
		schema.PlanTask{ID: "t2", Description: "fetch the weather forecast"},
	)

	res, err := exec.Execute(context.Background(), ec, c.StarByID("exec"))
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusPartial, res.Output.Execution.Status)
	require.Len(t, res.Output.Execution.Workers, 2)
	assert.Equal(t, schema.WorkerStatusCompleted, res.Output.Execution.Workers[0].Status)
	assert.Equal(t, schema.WorkerStatusFailed, res.Output.Execution.Workers[1].Status)
	assert.NotEmpty(t, res.Output.Execution.Workers[1].Error)
}

func TestExecutionAllTasksFailed(t *testing.T) {
	client := llm.NewMockClient()
	client.FailWith(errors.New("provider down"))

	exec, ec, c, _ := newExecutionFixture(t, client)
	seedPlan(ec,
		schema.PlanTask{ID: "t1", Description: "gather capacity figures"},
		schema.PlanTask{ID: "t2", Description: "analyze growth trend"},
	)

	res, err := exec.Execute(context.Background(), ec, c.StarByID("exec"))
	require.NoError(t, err, "task failures aggregate, they do not abort the star")
	assert.Equal(t, schema.ExecutionStatusFailed, res.Output.Execution.Status)
	require.Len(t, res.Output.Execution.Workers, 2)
	for _, w := range res.Output.Execution.Workers {
		assert.Equal(t, schema.WorkerStatusFailed, w.Status)
		assert.NotEmpty(t, w.Error)
	}
}

func TestExecutionTaskIDsSurviveConcurrency(t *testing.T) {
	client := llm.NewMockClient()

	exec, ec, c, _ := newExecutionFixture(t, client)
	tasks := []schema.PlanTask{
		{ID: "t1", Description: "alpha analysis work"},
		{ID: "t2", Description: "beta analysis work"},
		{ID: "t3", Description: "gamma analysis work"},
		{ID: "t4", Description: "delta analysis work"},
		{ID: "t5", Description: "epsilon analysis work"},
	}
	seedPlan(ec, tasks...)

	res, err := exec.Execute(context.Background(), ec, c.StarByID("exec"))
	require.NoError(t, err)
	require.Len(t, res.Output.Execution.Workers, 5)
	for i, w := range res.Output.Execution.Workers {
		assert.Equal(t, tasks[i].ID, w.TaskID, "results keep plan order despite concurrent execution")
	}
}
