// Package validation checks constellations, stars, and directive references
// against structural and semantic rules before they are persisted or run.
// Fatal findings block the create/update operation; warnings are returned
// alongside the validated object so callers can surface them.
package validation

import (
	"context"
	"fmt"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/internal/graph"
	"github.com/constellate-io/constellate/pkg/schema"
)

// DirectiveLookup resolves directive references. May be nil to skip
// directive existence checks (e.g. in unit tests).
type DirectiveLookup interface {
	HasDirective(ctx context.Context, id string) bool
}

// ProbeLookup resolves probe references. May be nil to skip probe
// existence checks.
type ProbeLookup interface {
	HasProbe(name string) bool
}

// ConstellationValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (references, edge conditions, star-kind relationship rules)
// 3. Graph (cycles with path reporting, orphans, reachability)
type ConstellationValidator struct {
	jsonSchema *JSONSchemaValidator
	cel        *expressions.CELEngine
	directives DirectiveLookup
	probes     ProbeLookup
}

// NewConstellationValidator creates a ConstellationValidator. Either lookup
// may be nil to skip the corresponding existence checks.
func NewConstellationValidator(directives DirectiveLookup, probes ProbeLookup) (*ConstellationValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &ConstellationValidator{
		jsonSchema: jsv,
		cel:        cel,
		directives: directives,
		probes:     probes,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (v *ConstellationValidator) Validate(ctx context.Context, c *schema.Constellation) *schema.ValidationResult {
	if c == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "constellation is nil")
		return r
	}

	result := v.validateStructural(c)
	if !result.Valid() {
		return result
	}

	result.Merge(v.validateSemantic(ctx, c))

	// Graph checks are skipped when semantic errors exist: the adjacency
	// may reference nodes that do not resolve.
	if result.Valid() {
		g := graph.New(c)
		result.Merge(checkGraph(c, g))
		if result.Valid() {
			result.Merge(v.validateRelationships(c, g))
		}
	}

	return result
}

// ValidateDefinition runs Validate and converts fatal findings to an error.
func (v *ConstellationValidator) ValidateDefinition(ctx context.Context, c *schema.Constellation) error {
	return v.Validate(ctx, c).ToError()
}

// ValidateStar checks a single star: the directive reference must exist
// (fatal), each referenced probe should exist (warning only), and the
// optional guard expression must compile (fatal).
func (v *ConstellationValidator) ValidateStar(ctx context.Context, star *schema.Star) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	path := starPath(star.ID)

	if !schema.ValidStarKinds[star.Kind] {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("star %q has unknown kind %q", star.ID, star.Kind))
	}

	if star.DirectiveID == "" {
		result.AddError(path, schema.ErrCodeValidation,
			fmt.Sprintf("star %q has no directive reference", star.ID))
	} else if v.directives != nil && !v.directives.HasDirective(ctx, star.DirectiveID) {
		result.AddError(path, schema.ErrCodeNotFound,
			fmt.Sprintf("star %q references unknown directive %q", star.ID, star.DirectiveID))
	}

	if v.probes != nil {
		for _, probe := range star.ProbeIDs {
			if !v.probes.HasProbe(probe) {
				result.AddWarning(path, schema.ErrCodeNotFound,
					fmt.Sprintf("star %q references unregistered probe %q", star.ID, probe))
			}
		}
	}

	if star.Guard != "" {
		if err := v.cel.Compile(star.Guard); err != nil {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("star %q has invalid guard expression: %s", star.ID, err.Error()))
		}
	}

	return result
}

// ValidateConfirmationNodes warns about confirmation-gated stars with no
// prompt text. Non-fatal: the UI may supply a default.
func (v *ConstellationValidator) ValidateConfirmationNodes(c *schema.Constellation) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	for i := range c.Stars {
		star := &c.Stars[i]
		if star.RequiresConfirmation && star.ConfirmationPrompt == "" {
			result.AddWarning(starPath(star.ID), schema.ErrCodeValidation,
				fmt.Sprintf("star %q requires confirmation but has no prompt text", star.ID))
		}
	}
	return result
}

func (v *ConstellationValidator) validateStructural(c *schema.Constellation) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.jsonSchema.ValidateDefinition(c)
	if err == nil {
		return result
	}

	cErr, ok := err.(*schema.ConstellateError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if cErr.Details != nil {
		if violations, ok := cErr.Details["violations"].([]string); ok {
			for _, msg := range violations {
				result.AddError("/", schema.ErrCodeValidation, msg)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, cErr.Message)
	return result
}

func (v *ConstellationValidator) validateSemantic(ctx context.Context, c *schema.Constellation) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	kinds := make(map[string]schema.StarKind, len(c.Stars))
	seen := make(map[string]bool, len(c.Stars))
	for i := range c.Stars {
		star := &c.Stars[i]
		if star.ID == schema.NodeStart || star.ID == schema.NodeEnd {
			result.AddError(starPath(star.ID), schema.ErrCodeValidation,
				fmt.Sprintf("star ID %q is reserved", star.ID))
			continue
		}
		if seen[star.ID] {
			result.AddError(starPath(star.ID), schema.ErrCodeConflict,
				fmt.Sprintf("duplicate star ID %q", star.ID))
			continue
		}
		seen[star.ID] = true
		kinds[star.ID] = star.Kind

		result.Merge(v.ValidateStar(ctx, star))
	}

	nodeExists := func(id string) bool {
		return id == schema.NodeStart || id == schema.NodeEnd || seen[id]
	}

	for i, e := range c.Edges {
		path := fmt.Sprintf("edges[%d]", i)

		if !nodeExists(e.Source) {
			result.AddError(path, schema.ErrCodeNotFound,
				fmt.Sprintf("edge source %q does not resolve to a node", e.Source))
			continue
		}
		if !nodeExists(e.Target) {
			result.AddError(path, schema.ErrCodeNotFound,
				fmt.Sprintf("edge target %q does not resolve to a node", e.Target))
			continue
		}

		// Start has no incoming edges, End no outgoing.
		if e.Target == schema.NodeStart {
			result.AddError(path, schema.ErrCodeValidation, "start node cannot have incoming edges")
		}
		if e.Source == schema.NodeEnd {
			result.AddError(path, schema.ErrCodeValidation, "end node cannot have outgoing edges")
		}

		// Condition rules: every edge leaving an Eval star carries a
		// condition; no other node's outgoing edges may.
		sourceIsEval := kinds[e.Source] == schema.StarEval
		switch {
		case sourceIsEval && e.Condition == schema.ConditionNone:
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge from eval star %q must carry a condition", e.Source))
		case !sourceIsEval && e.Condition != schema.ConditionNone:
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge from %q carries condition %q but only eval stars may have conditional edges", e.Source, e.Condition))
		case e.Condition == schema.ConditionLoop && kinds[e.Target] != schema.StarPlanning:
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("loop edge from %q must target a planning star, got %q", e.Source, e.Target))
		}
	}

	result.Merge(v.ValidateConfirmationNodes(c))

	return result
}

// validateRelationships enforces the per-kind relationship rules over the
// non-loop graph. Called only on a structurally sound, acyclic graph.
func (v *ConstellationValidator) validateRelationships(c *schema.Constellation, g *graph.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	kinds := make(map[string]schema.StarKind, len(c.Stars))
	hasPlanning := false
	for i := range c.Stars {
		kinds[c.Stars[i].ID] = c.Stars[i].Kind
		if c.Stars[i].Kind == schema.StarPlanning {
			hasPlanning = true
		}
	}

	entrySet := make(map[string]bool)
	for _, id := range g.EntryNodes() {
		entrySet[id] = true
	}

	for i := range c.Stars {
		star := &c.Stars[i]
		path := starPath(star.ID)

		switch star.Kind {
		case schema.StarPlanning:
			if !containsKind(g, star.ID, kinds, schema.StarExecution, downstream) {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("planning star %q has no downstream execution star", star.ID))
			}

		case schema.StarExecution:
			if !containsKind(g, star.ID, kinds, schema.StarPlanning, upstream) {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("execution star %q has no upstream planning star", star.ID))
			}
			if !containsKind(g, star.ID, kinds, schema.StarSynthesis, downstream) {
				result.AddWarning(path, schema.ErrCodeValidation,
					fmt.Sprintf("execution star %q has no downstream synthesis star", star.ID))
			}

		case schema.StarSynthesis:
			if entrySet[star.ID] {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("synthesis star %q cannot be an entry node", star.ID))
			}
			if len(g.UpstreamNodes(star.ID)) == 0 {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("synthesis star %q has no upstream nodes", star.ID))
			}

		case schema.StarEval:
			if !hasPlanning {
				result.AddError(path, schema.ErrCodeValidation,
					fmt.Sprintf("eval star %q requires a planning star in the constellation", star.ID))
			}
		}
	}

	return result
}

type direction int

const (
	upstream direction = iota
	downstream
)

// containsKind walks the transitive non-loop neighborhood of a node in the
// given direction, reporting whether any visited star has the wanted kind.
func containsKind(g *graph.Graph, from string, kinds map[string]schema.StarKind, want schema.StarKind, dir direction) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		var next []string
		if dir == downstream {
			next = g.DownstreamNodes(node)
		} else {
			next = g.UpstreamNodes(node)
		}

		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			if kinds[n] == want {
				return true
			}
			queue = append(queue, n)
		}
	}
	return false
}
