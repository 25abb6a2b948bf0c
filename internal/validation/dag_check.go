package validation

import (
	"fmt"
	"strings"

	"github.com/constellate-io/constellate/internal/graph"
	"github.com/constellate-io/constellate/pkg/schema"
)

// findCycle runs a DFS with recursion-stack tracking over the non-loop edge
// set and returns the offending path when a cycle exists, nil otherwise.
// Loop edges (Eval -> Planning rewinds) never participate.
func findCycle(g *graph.Graph) []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the recursion stack
		black = 2 // fully explored
	)

	color := make(map[string]int)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = grey
		stack = append(stack, id)

		for _, next := range g.DownstreamNodes(id) {
			if !g.Has(next) {
				continue
			}
			switch color[next] {
			case grey:
				// Found a back edge: slice the stack from the first
				// occurrence of next to close the cycle.
				for i, n := range stack {
					if n == next {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.Nodes() {
		if color[id] == white {
			if cycle := visit(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// checkGraph performs the graph-level checks on a constellation: cycle
// detection with path reporting, orphan nodes, and Start reachability.
func checkGraph(c *schema.Constellation, g *graph.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if cycle := findCycle(g); cycle != nil {
		result.AddError("edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("constellation contains a cycle: %s", strings.Join(cycle, " -> ")))
		return result // reachability is meaningless with a cycle present
	}

	reachable := g.Reachable()
	for i := range c.Stars {
		id := c.Stars[i].ID
		if !g.Connected(id) {
			result.AddError(starPath(id), schema.ErrCodeValidation,
				fmt.Sprintf("star %q has no connections", id))
			continue
		}
		if !reachable[id] {
			result.AddError(starPath(id), schema.ErrCodeValidation,
				fmt.Sprintf("star %q is not reachable from start", id))
		}
	}
	if !reachable[schema.NodeEnd] {
		result.AddError("edges", schema.ErrCodeValidation, "end node is not reachable from start")
	}

	return result
}

func starPath(id string) string {
	return fmt.Sprintf("stars[%s]", id)
}
