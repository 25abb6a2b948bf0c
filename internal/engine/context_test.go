package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/pkg/schema"
)

func planOutput(tasks ...schema.PlanTask) *schema.StarOutput {
	return &schema.StarOutput{Kind: schema.OutputPlan, Plan: &schema.Plan{Tasks: tasks}}
}

func workerOutput(result string) *schema.StarOutput {
	return &schema.StarOutput{
		Kind:   schema.OutputWorker,
		Worker: &schema.WorkerOutput{Result: result, Status: schema.WorkerStatusCompleted},
	}
}

func TestForkSharesOutputsAndCache(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)

	sub := ec.Fork()
	sub.Task = "gather figures"
	sub.SetCurrentNode("other")

	sub.SetNodeOutput("plan", &schema.NodeOutput{NodeID: "plan", Output: planOutput()})
	assert.NotNil(t, ec.NodeOutput("plan"), "fork writes must be visible to the parent")

	sub.CacheToolResult("search", map[string]any{"q": "solar"}, "hit")
	got, ok := ec.CachedToolResult("search", map[string]any{"q": "solar"})
	require.True(t, ok)
	assert.Equal(t, "hit", got)

	assert.Empty(t, ec.Task, "parent task must stay independent")
	assert.NotEqual(t, ec.CurrentNode(), sub.CurrentNode())
}

func TestToolCacheKeyIgnoresMapOrder(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)

	ec.CacheToolResult("search", map[string]any{"a": 1, "b": 2}, "v")
	_, ok := ec.CachedToolResult("search", map[string]any{"b": 2, "a": 1})
	assert.True(t, ok)

	_, ok = ec.CachedToolResult("search", map[string]any{"a": 1})
	assert.False(t, ok, "different args must miss")
	_, ok = ec.CachedToolResult("fetch", map[string]any{"a": 1, "b": 2})
	assert.False(t, ok, "different probe must miss")
}

func TestGetUpstreamOutputsFollowsTransitivePredecessors(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)

	ec.SetNodeOutput("plan", &schema.NodeOutput{NodeID: "plan", Output: planOutput(schema.PlanTask{ID: "t1", Description: "x"})})
	ec.SetNodeOutput("exec", &schema.NodeOutput{NodeID: "exec", Output: workerOutput("data")})

	// report sees plan and exec through the chain; check is upstream too but
	// has no output yet.
	out := ec.GetUpstreamOutputs("report")
	assert.Len(t, out, 2)
	assert.Contains(t, out, "plan")
	assert.Contains(t, out, "exec")

	// exec must not see check through the loop edge.
	out = ec.GetUpstreamOutputs("exec")
	assert.Contains(t, out, "plan")
	assert.NotContains(t, out, "check")
}

func TestGetUpstreamOutputByKindFindsPlan(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)
	ec.SetCurrentNode("exec")

	assert.Nil(t, ec.GetUpstreamOutput(schema.OutputPlan))

	ec.SetNodeOutput("plan", &schema.NodeOutput{NodeID: "plan", Output: planOutput(schema.PlanTask{ID: "t1", Description: "x"})})
	got := ec.GetUpstreamOutput(schema.OutputPlan)
	require.NotNil(t, got)
	assert.Equal(t, schema.OutputPlan, got.Kind)
}

func TestGetDirectUpstreamOutputsFallsBackForDynamicNodes(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)

	ec.SetNodeOutput("exec", &schema.NodeOutput{NodeID: "exec", Output: workerOutput("data")})

	// A dynamic star id has no graph entry: fall back to everything recorded.
	ec.SetCurrentNode("dynamic-star-xyz")
	out := ec.GetDirectUpstreamOutputs()
	assert.Contains(t, out, "exec")

	// A graph node sees only its immediate predecessors.
	ec.SetCurrentNode("check")
	out = ec.GetDirectUpstreamOutputs()
	assert.Contains(t, out, "exec")
	assert.Len(t, out, 1)
}

func TestFindStarForTaskRequiresTwoSharedWords(t *testing.T) {
	c := &schema.Constellation{
		ID: "c1",
		Stars: []schema.Star{
			{ID: "w1", Name: "Fetch weather forecast", Kind: schema.StarWorker, DirectiveID: "d1"},
			{ID: "p1", Name: "Fetch weather planning", Kind: schema.StarPlanning, DirectiveID: "d2"},
		},
	}
	ms := newMockStore()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)

	star := ec.FindStarForTask("fetch the weather forecast for Berlin")
	require.NotNil(t, star)
	assert.Equal(t, "w1", star.ID, "only worker stars are candidates")

	assert.Nil(t, ec.FindStarForTask("fetch stock prices"), "one shared word is not enough")
	assert.Nil(t, ec.FindStarForTask("summarize the report"))
}

func TestCreateDynamicStarPersistsDirectiveAndStar(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)

	before := len(c.Stars)
	star, err := ec.CreateDynamicStar(context.Background(), schema.PlanTask{
		ID:          "t1",
		Description: "compare solar capacity figures across countries",
	})
	require.NoError(t, err)

	assert.Equal(t, schema.StarWorker, star.Kind)
	assert.True(t, star.AIGenerated)
	assert.True(t, star.Hidden)
	assert.Len(t, c.Stars, before+1)

	// Directive persisted with the task description as content.
	rec, err := ms.GetDirective(context.Background(), star.DirectiveID)
	require.NoError(t, err)
	assert.Equal(t, "compare solar capacity figures across countries", rec.Directive.Content)
	assert.True(t, rec.Directive.AIGenerated)

	// Constellation record grew and is flagged ai_generated.
	crec, err := ms.GetConstellation(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, crec.AIGenerated)

	// The minted star is now findable for similar tasks.
	found := ec.FindStarForTask("compare solar capacity numbers")
	require.NotNil(t, found)
	assert.Equal(t, star.ID, found.ID)
}

func TestInterpolateResolvesScope(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)
	ec.Variables["region"] = "EMEA"
	ec.OriginalQuery = "solar adoption"
	ec.SetNodeOutput("exec", &schema.NodeOutput{NodeID: "exec", Output: workerOutput("12 GW installed")})

	got, err := ec.Interpolate(context.Background(), "Region ${{ variables.region }} for ${{ query }}: ${{ nodes.exec.worker.result }}")
	require.NoError(t, err)
	assert.Equal(t, "Region EMEA for solar adoption: 12 GW installed", got)

	// No markers: returned verbatim without touching the scope.
	got, err = ec.Interpolate(context.Background(), "plain text")
	require.NoError(t, err)
	assert.Equal(t, "plain text", got)

	_, err = ec.Interpolate(context.Background(), "${{ variables.missing }}")
	require.Error(t, err)
	var cerr *schema.ConstellateError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, schema.ErrCodeInterpolation, cerr.Code)
}

func TestScopeExposesRunMetadata(t *testing.T) {
	ms := newMockStore()
	c := pipelineConstellation()
	seedConstellation(ms, c)
	ec := newTestContext(c, ms, nil)
	ec.LoopCount = 2
	ec.SetCurrentNode("check")

	data := ec.Scope().Data()
	run, ok := data["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", run["run_id"])
	assert.Equal(t, c.ID, run["constellation_id"])
	assert.Equal(t, 2, run["loop_count"])
	assert.Equal(t, "check", run["current_node"])
}

func TestSignificantWordsFiltersStopWordsAndShortTokens(t *testing.T) {
	words := significantWords("Fetch the weather for a BIG city, then use it")
	assert.True(t, words["fetch"])
	assert.True(t, words["weather"])
	assert.True(t, words["big"])
	assert.True(t, words["city"])
	assert.False(t, words["the"], "stop word")
	assert.False(t, words["for"], "stop word")
	assert.False(t, words["it"], "too short")
	assert.False(t, words["then"], "stop word")
}
