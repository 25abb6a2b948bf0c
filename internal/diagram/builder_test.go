package diagram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/schema"
)

// --- Test constellation builders ---

func chainConstellation() *schema.Constellation {
	return &schema.Constellation{
		ID:   "c-chain",
		Name: "Research Chain",
		Stars: []schema.Star{
			{ID: "fetch", Name: "Fetch Sources", Kind: schema.StarWorker, DirectiveID: "d-fetch"},
			{ID: "digest", Name: "Digest", Kind: schema.StarWorker, DirectiveID: "d-digest"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "fetch"},
			{Source: "fetch", Target: "digest"},
			{Source: "digest", Target: schema.NodeEnd},
		},
	}
}

func pipelineConstellation() *schema.Constellation {
	return &schema.Constellation{
		ID:   "c-pipeline",
		Name: "Plan and Execute",
		Stars: []schema.Star{
			{ID: "plan", Name: "Plan", Kind: schema.StarPlanning, DirectiveID: "d-plan"},
			{ID: "exec", Name: "Execute", Kind: schema.StarExecution, DirectiveID: "d-exec"},
			{ID: "check", Name: "Check", Kind: schema.StarEval, DirectiveID: "d-check"},
			{ID: "synth", Name: "Synthesize", Kind: schema.StarSynthesis, DirectiveID: "d-synth"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "plan"},
			{Source: "plan", Target: "exec"},
			{Source: "exec", Target: "check"},
			{Source: "check", Target: "synth", Condition: schema.ConditionContinue},
			{Source: "check", Target: "plan", Condition: schema.ConditionLoop},
			{Source: "synth", Target: schema.NodeEnd},
		},
	}
}

func fanOutConstellation() *schema.Constellation {
	return &schema.Constellation{
		ID:   "c-fan",
		Name: "Fan Out",
		Stars: []schema.Star{
			{ID: "a", Name: "Branch A", Kind: schema.StarWorker, DirectiveID: "d-a"},
			{ID: "b", Name: "Branch B", Kind: schema.StarWorker, DirectiveID: "d-b"},
			{ID: "merge", Name: "Merge", Kind: schema.StarSynthesis, DirectiveID: "d-merge"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "a"},
			{Source: schema.NodeStart, Target: "b"},
			{Source: "a", Target: "merge"},
			{Source: "b", Target: "merge"},
			{Source: "merge", Target: schema.NodeEnd},
		},
	}
}

// --- Tests ---

func TestBuildChain(t *testing.T) {
	model, err := Build(chainConstellation(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Research Chain", model.Title)
	// 2 stars + start + end.
	require.Len(t, model.Nodes, 4)
	assert.Len(t, model.Edges, 3)

	fetch := findNode(model.Nodes, "fetch")
	require.NotNil(t, fetch)
	assert.Equal(t, "Fetch Sources", fetch.Label)
	assert.Equal(t, NodeKindWorker, fetch.Kind)
	assert.Nil(t, fetch.Status)
}

func TestBuildSentinelNodes(t *testing.T) {
	model, err := Build(chainConstellation(), nil)
	require.NoError(t, err)

	start := findNode(model.Nodes, schema.NodeStart)
	require.NotNil(t, start)
	assert.Equal(t, NodeKindStart, start.Kind)
	assert.Equal(t, "Start", start.Label)

	end := findNode(model.Nodes, schema.NodeEnd)
	require.NotNil(t, end)
	assert.Equal(t, NodeKindEnd, end.Kind)
}

func TestBuildStarKinds(t *testing.T) {
	model, err := Build(pipelineConstellation(), nil)
	require.NoError(t, err)

	assert.Equal(t, NodeKindPlanning, findNode(model.Nodes, "plan").Kind)
	assert.Equal(t, NodeKindExecution, findNode(model.Nodes, "exec").Kind)
	assert.Equal(t, NodeKindEval, findNode(model.Nodes, "check").Kind)
	assert.Equal(t, NodeKindSynthesis, findNode(model.Nodes, "synth").Kind)
}

func TestBuildLoopEdge(t *testing.T) {
	model, err := Build(pipelineConstellation(), nil)
	require.NoError(t, err)

	var loop *Edge
	for i := range model.Edges {
		if model.Edges[i].Loop {
			loop = &model.Edges[i]
		}
	}
	require.NotNil(t, loop)
	assert.Equal(t, "check", loop.From)
	assert.Equal(t, "plan", loop.To)
}

func TestBuildLevels(t *testing.T) {
	model, err := Build(pipelineConstellation(), nil)
	require.NoError(t, err)

	// Linear pipeline: start, plan, exec, check, synth, end each on
	// their own level. The loop edge does not affect depth.
	require.Len(t, model.Levels, 6)
	assert.Equal(t, []string{schema.NodeStart}, model.Levels[0])
	assert.Equal(t, []string{"plan"}, model.Levels[1])
	assert.Equal(t, []string{"synth"}, model.Levels[4])
	assert.Equal(t, []string{schema.NodeEnd}, model.Levels[5])
}

func TestBuildFanOutLevels(t *testing.T) {
	model, err := Build(fanOutConstellation(), nil)
	require.NoError(t, err)

	require.Len(t, model.Levels, 4)
	assert.ElementsMatch(t, []string{"a", "b"}, model.Levels[1])
	assert.Equal(t, []string{"merge"}, model.Levels[2])
}

func TestBuildStatusOverlay(t *testing.T) {
	outputs := []*store.NodeOutputRecord{
		{NodeID: "fetch", Status: schema.NodeStatusCompleted, DurationMs: 120, Attempts: 1},
		{NodeID: "digest", Status: schema.NodeStatusFailed, Attempts: 3,
			Error: json.RawMessage(`"llm call failed"`)},
	}

	model, err := Build(chainConstellation(), outputs)
	require.NoError(t, err)

	fetch := findNode(model.Nodes, "fetch")
	require.NotNil(t, fetch.Status)
	assert.Equal(t, "completed", fetch.Status.Status)
	assert.Equal(t, int64(120), fetch.Status.DurationMs)

	digest := findNode(model.Nodes, "digest")
	require.NotNil(t, digest.Status)
	assert.Equal(t, "failed", digest.Status.Status)
	assert.Equal(t, 3, digest.Status.Attempts)
	assert.Contains(t, digest.Status.Error, "llm call failed")

	// Sentinels carry no status.
	assert.Nil(t, findNode(model.Nodes, schema.NodeStart).Status)
}

func TestBuildUntitledConstellation(t *testing.T) {
	c := chainConstellation()
	c.Name = ""

	model, err := Build(c, nil)
	require.NoError(t, err)
	assert.Equal(t, "Constellation", model.Title)
}

func TestBuildCyclicConstellationFails(t *testing.T) {
	c := &schema.Constellation{
		ID: "c-cyclic",
		Stars: []schema.Star{
			{ID: "a", Kind: schema.StarWorker, DirectiveID: "d-a"},
			{ID: "b", Kind: schema.StarWorker, DirectiveID: "d-b"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "a"},
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
			{Source: "b", Target: schema.NodeEnd},
		},
	}

	_, err := Build(c, nil)
	require.Error(t, err)
}
