package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/pkg/schema"
)

type fakeDirectives map[string]bool

func (f fakeDirectives) HasDirective(_ context.Context, id string) bool { return f[id] }

type fakeProbes map[string]bool

func (f fakeProbes) HasProbe(name string) bool { return f[name] }

func newTestValidator(t *testing.T) *ConstellationValidator {
	t.Helper()
	v, err := NewConstellationValidator(
		fakeDirectives{"d-plan": true, "d-exec": true, "d-check": true, "d-synth": true, "d-work": true},
		fakeProbes{"http.fetch": true, "jq": true},
	)
	require.NoError(t, err)
	return v
}

func validPipeline() *schema.Constellation {
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

func validWorkerChain() *schema.Constellation {
	return &schema.Constellation{
		ID:   "c-chain",
		Name: "Worker Chain",
		Stars: []schema.Star{
			{ID: "w1", Name: "Work", Kind: schema.StarWorker, DirectiveID: "d-work"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "w1"},
			{Source: "w1", Target: schema.NodeEnd},
		},
	}
}

func errorMessages(r *schema.ValidationResult) []string {
	out := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		out = append(out, issue.Message)
	}
	return out
}

func TestValidatePipeline(t *testing.T) {
	v := newTestValidator(t)

	res := v.Validate(context.Background(), validPipeline())
	assert.True(t, res.Valid(), "errors: %v", errorMessages(res))
	assert.Empty(t, res.Warnings)
}

func TestValidateWorkerChain(t *testing.T) {
	v := newTestValidator(t)

	res := v.Validate(context.Background(), validWorkerChain())
	assert.True(t, res.Valid(), "errors: %v", errorMessages(res))
}

func TestValidateNilConstellation(t *testing.T) {
	v := newTestValidator(t)

	res := v.Validate(context.Background(), nil)
	assert.False(t, res.Valid())
}

func TestValidateUnknownDirectiveIsFatal(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars[0].DirectiveID = "d-ghost"

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "unknown directive")
}

func TestValidateUnknownProbeIsWarning(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars[0].ProbeIDs = []string{"http.fetch", "shell.exec"}

	res := v.Validate(context.Background(), c)
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "shell.exec")
}

func TestValidateNilLookupsSkipChecks(t *testing.T) {
	v, err := NewConstellationValidator(nil, nil)
	require.NoError(t, err)

	c := validWorkerChain()
	c.Stars[0].DirectiveID = "d-ghost"
	c.Stars[0].ProbeIDs = []string{"anything"}

	res := v.Validate(context.Background(), c)
	assert.True(t, res.Valid(), "errors: %v", errorMessages(res))
}

func TestValidateMalformedGuard(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars[0].Guard = "variables.approved =="

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "invalid guard expression")
}

func TestValidateReservedStarID(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars = append(c.Stars, schema.Star{ID: "start", Name: "Bad", Kind: schema.StarWorker, DirectiveID: "d-work"})

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "reserved")
}

func TestValidateDuplicateStarID(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars = append(c.Stars, schema.Star{ID: "w1", Name: "Dup", Kind: schema.StarWorker, DirectiveID: "d-work"})

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "duplicate star ID")
}

func TestValidateDanglingEdge(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Edges = append(c.Edges, schema.Edge{Source: "w1", Target: "ghost"})

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "does not resolve")
}

func TestValidateStartEndDirection(t *testing.T) {
	v := newTestValidator(t)

	c := validWorkerChain()
	c.Edges = append(c.Edges, schema.Edge{Source: "w1", Target: schema.NodeStart})
	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "start node cannot have incoming edges")

	c = validWorkerChain()
	c.Edges = append(c.Edges, schema.Edge{Source: schema.NodeEnd, Target: "w1"})
	res = v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "end node cannot have outgoing edges")
}

func TestValidateEvalEdgesMustCarryConditions(t *testing.T) {
	v := newTestValidator(t)
	c := validPipeline()
	c.Edges[3].Condition = schema.ConditionNone // check -> synth

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "must carry a condition")
}

func TestValidateOnlyEvalEdgesMayCarryConditions(t *testing.T) {
	v := newTestValidator(t)
	c := validPipeline()
	c.Edges[1].Condition = schema.ConditionContinue // plan -> exec

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "only eval stars")
}

func TestValidateLoopEdgeMustTargetPlanning(t *testing.T) {
	v := newTestValidator(t)
	c := validPipeline()
	c.Edges[4].Target = "exec" // loop edge check -> exec

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "must target a planning star")
}

func TestValidateCycleReportsPath(t *testing.T) {
	v := newTestValidator(t)
	c := validPipeline()
	// A dependency back edge, not a loop edge, closes a real cycle.
	c.Edges = append(c.Edges, schema.Edge{Source: "synth", Target: "exec"})

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, schema.ErrCodeCycleDetected, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Message, "exec -> check -> synth -> exec")
}

func TestValidateOrphanStar(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars = append(c.Stars, schema.Star{ID: "lonely", Name: "Lonely", Kind: schema.StarWorker, DirectiveID: "d-work"})

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "no connections")
}

func TestValidateUnreachableStar(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars = append(c.Stars,
		schema.Star{ID: "a", Name: "A", Kind: schema.StarWorker, DirectiveID: "d-work"},
		schema.Star{ID: "b", Name: "B", Kind: schema.StarWorker, DirectiveID: "d-work"},
	)
	// a and b feed each other... but that is a cycle; connect them forward
	// from nothing instead: a -> b with no path from start.
	c.Edges = append(c.Edges, schema.Edge{Source: "a", Target: "b"})

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "not reachable from start")
}

func TestValidateSynthesisCannotBeEntry(t *testing.T) {
	v := newTestValidator(t)
	c := &schema.Constellation{
		ID:   "c-bad",
		Name: "Bad",
		Stars: []schema.Star{
			{ID: "synth", Name: "Synth", Kind: schema.StarSynthesis, DirectiveID: "d-synth"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "synth"},
			{Source: "synth", Target: schema.NodeEnd},
		},
	}

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "cannot be an entry node")
}

func TestValidatePlanningNeedsDownstreamExecution(t *testing.T) {
	v := newTestValidator(t)
	c := &schema.Constellation{
		ID:   "c-bad",
		Name: "Bad",
		Stars: []schema.Star{
			{ID: "plan", Name: "Plan", Kind: schema.StarPlanning, DirectiveID: "d-plan"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "plan"},
			{Source: "plan", Target: schema.NodeEnd},
		},
	}

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "no downstream execution star")
}

func TestValidateExecutionNeedsUpstreamPlanning(t *testing.T) {
	v := newTestValidator(t)
	c := &schema.Constellation{
		ID:   "c-bad",
		Name: "Bad",
		Stars: []schema.Star{
			{ID: "exec", Name: "Exec", Kind: schema.StarExecution, DirectiveID: "d-exec"},
			{ID: "synth", Name: "Synth", Kind: schema.StarSynthesis, DirectiveID: "d-synth"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "exec"},
			{Source: "exec", Target: "synth"},
			{Source: "synth", Target: schema.NodeEnd},
		},
	}

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "no upstream planning star")
}

func TestValidateExecutionWithoutSynthesisIsWarning(t *testing.T) {
	v := newTestValidator(t)
	c := &schema.Constellation{
		ID:   "c-warn",
		Name: "Warn",
		Stars: []schema.Star{
			{ID: "plan", Name: "Plan", Kind: schema.StarPlanning, DirectiveID: "d-plan"},
			{ID: "exec", Name: "Exec", Kind: schema.StarExecution, DirectiveID: "d-exec"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "plan"},
			{Source: "plan", Target: "exec"},
			{Source: "exec", Target: schema.NodeEnd},
		},
	}

	res := v.Validate(context.Background(), c)
	assert.True(t, res.Valid(), "errors: %v", errorMessages(res))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "no downstream synthesis star")
}

func TestValidateEvalRequiresPlanning(t *testing.T) {
	v := newTestValidator(t)
	c := &schema.Constellation{
		ID:   "c-bad",
		Name: "Bad",
		Stars: []schema.Star{
			{ID: "w1", Name: "Work", Kind: schema.StarWorker, DirectiveID: "d-work"},
			{ID: "check", Name: "Check", Kind: schema.StarEval, DirectiveID: "d-check"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "w1"},
			{Source: "w1", Target: "check"},
			{Source: "check", Target: schema.NodeEnd, Condition: schema.ConditionContinue},
		},
	}

	res := v.Validate(context.Background(), c)
	require.False(t, res.Valid())
	assert.Contains(t, errorMessages(res)[0], "requires a planning star")
}

func TestValidateConfirmationPromptWarning(t *testing.T) {
	v := newTestValidator(t)
	c := validWorkerChain()
	c.Stars[0].RequiresConfirmation = true

	res := v.Validate(context.Background(), c)
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "no prompt text")
}

func TestValidateStructuralRejectsMissingFields(t *testing.T) {
	v := newTestValidator(t)
	c := &schema.Constellation{ID: "c-empty"}

	res := v.Validate(context.Background(), c)
	assert.False(t, res.Valid())
}

func TestValidateDefinitionToError(t *testing.T) {
	v := newTestValidator(t)

	assert.NoError(t, v.ValidateDefinition(context.Background(), validPipeline()))

	bad := validWorkerChain()
	bad.Stars[0].DirectiveID = "d-ghost"
	err := v.ValidateDefinition(context.Background(), bad)
	require.Error(t, err)
}
