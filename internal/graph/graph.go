// Package graph builds the in-memory adjacency view of a constellation and
// answers read-only structural queries: entry nodes, upstream/downstream
// neighbors, reachability, and topological order.
package graph

import (
	"github.com/constellate-io/constellate/pkg/schema"
)

// Graph is the directed-graph view of a constellation. Node IDs cover Start,
// every star, and End. Loop edges are kept in Edges but excluded from the
// dependency adjacency used for ordering.
type Graph struct {
	nodes    []string            // declaration order: start, stars..., end
	nodeSet  map[string]bool
	outgoing map[string][]schema.Edge // all edges by source, incl. loop
	incoming map[string][]schema.Edge // all edges by target, incl. loop
}

// New builds a Graph from a constellation. It does not validate; unknown
// endpoints referenced by edges simply have no node entry (the validator
// reports those).
func New(c *schema.Constellation) *Graph {
	g := &Graph{
		nodeSet:  make(map[string]bool, len(c.Stars)+2),
		outgoing: make(map[string][]schema.Edge),
		incoming: make(map[string][]schema.Edge),
	}

	g.addNode(schema.NodeStart)
	for i := range c.Stars {
		g.addNode(c.Stars[i].ID)
	}
	g.addNode(schema.NodeEnd)

	for _, e := range c.Edges {
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	return g
}

func (g *Graph) addNode(id string) {
	if g.nodeSet[id] {
		return
	}
	g.nodeSet[id] = true
	g.nodes = append(g.nodes, id)
}

// Nodes returns all node IDs in declaration order (Start first, End last).
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Has reports whether the graph contains the given node ID.
func (g *Graph) Has(id string) bool { return g.nodeSet[id] }

// EntryNodes returns the nodes with an edge from Start.
func (g *Graph) EntryNodes() []string {
	var out []string
	for _, e := range g.outgoing[schema.NodeStart] {
		out = append(out, e.Target)
	}
	return out
}

// UpstreamNodes returns the immediate predecessors of the given node,
// excluding loop edges.
func (g *Graph) UpstreamNodes(id string) []string {
	var out []string
	for _, e := range g.incoming[id] {
		if e.IsLoop() {
			continue
		}
		out = append(out, e.Source)
	}
	return out
}

// DownstreamNodes returns the immediate successors of the given node,
// excluding loop edges.
func (g *Graph) DownstreamNodes(id string) []string {
	var out []string
	for _, e := range g.outgoing[id] {
		if e.IsLoop() {
			continue
		}
		out = append(out, e.Target)
	}
	return out
}

// OutgoingEdges returns all edges leaving the node, including loop edges.
func (g *Graph) OutgoingEdges(id string) []schema.Edge {
	out := make([]schema.Edge, len(g.outgoing[id]))
	copy(out, g.outgoing[id])
	return out
}

// IncomingEdges returns all edges entering the node, including loop edges.
func (g *Graph) IncomingEdges(id string) []schema.Edge {
	out := make([]schema.Edge, len(g.incoming[id]))
	copy(out, g.incoming[id])
	return out
}

// LoopTarget returns the target of the node's outgoing loop edge, or "" if
// the node has none.
func (g *Graph) LoopTarget(id string) string {
	for _, e := range g.outgoing[id] {
		if e.IsLoop() {
			return e.Target
		}
	}
	return ""
}

// TopologicalOrder computes a topological ordering of all nodes using
// Kahn's algorithm over the non-loop edge set. Loop edges are a runtime
// rewind instruction, not a dependency, so they never contribute to
// in-degree or adjacency. Tie-break among zero-in-degree nodes is stable
// FIFO over declaration order, so the result is deterministic for a fixed
// edge list. Returns a CYCLE_DETECTED error if the non-loop subgraph
// contains a cycle.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.nodes {
		inDegree[id] = 0
	}
	for _, id := range g.nodes {
		for _, e := range g.outgoing[id] {
			if e.IsLoop() || !g.nodeSet[e.Target] {
				continue
			}
			inDegree[e.Target]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, id := range g.nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		for _, e := range g.outgoing[node] {
			if e.IsLoop() || !g.nodeSet[e.Target] {
				continue
			}
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected,
			"constellation contains a cycle outside loop edges")
	}
	return sorted, nil
}

// Reachable returns the set of nodes reachable from Start following all
// edges (loop edges included; a node fed only by a loop edge is still
// connected).
func (g *Graph) Reachable() map[string]bool {
	reachable := map[string]bool{schema.NodeStart: true}
	queue := []string{schema.NodeStart}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[node] {
			if !g.nodeSet[e.Target] || reachable[e.Target] {
				continue
			}
			reachable[e.Target] = true
			queue = append(queue, e.Target)
		}
	}
	return reachable
}

// Connected reports whether a node has at least one edge in either
// direction. Nodes with no connections are orphans.
func (g *Graph) Connected(id string) bool {
	return len(g.outgoing[id]) > 0 || len(g.incoming[id]) > 0
}
