package diagram

import (
	"fmt"

	"github.com/constellate-io/constellate/internal/graph"
	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/schema"
)

// Build constructs a DiagramModel from a constellation and optional node
// output records. Node outputs overlay runtime status onto the topology.
func Build(c *schema.Constellation, outputs []*store.NodeOutputRecord) (*DiagramModel, error) {
	g := graph.New(c)
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("diagram: order nodes: %w", err)
	}

	outputMap := make(map[string]*store.NodeOutputRecord, len(outputs))
	for _, rec := range outputs {
		outputMap[rec.NodeID] = rec
	}

	nodes := make([]*Node, 0, len(order))
	for _, id := range order {
		node := buildNode(c, id)
		overlayStatus(node, outputMap)
		nodes = append(nodes, node)
	}

	edges := make([]Edge, 0, len(c.Edges))
	for _, e := range c.Edges {
		edges = append(edges, Edge{
			From:  e.Source,
			To:    e.Target,
			Label: string(e.Condition),
			Loop:  e.IsLoop(),
		})
	}

	return &DiagramModel{
		Title:  title(c),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(g, order),
	}, nil
}

// buildNode maps one topological node (star or sentinel) to a diagram Node.
func buildNode(c *schema.Constellation, id string) *Node {
	switch id {
	case schema.NodeStart:
		return &Node{ID: id, Label: "Start", Kind: NodeKindStart}
	case schema.NodeEnd:
		return &Node{ID: id, Label: "End", Kind: NodeKindEnd}
	}

	star := c.StarByID(id)
	if star == nil {
		return &Node{ID: id, Label: id, Kind: NodeKindWorker}
	}
	label := star.Name
	if label == "" {
		label = star.ID
	}
	return &Node{ID: id, Label: label, Kind: starKind(star.Kind)}
}

func starKind(k schema.StarKind) NodeKind {
	switch k {
	case schema.StarPlanning:
		return NodeKindPlanning
	case schema.StarExecution:
		return NodeKindExecution
	case schema.StarEval:
		return NodeKindEval
	case schema.StarSynthesis:
		return NodeKindSynthesis
	case schema.StarDocumentExtraction:
		return NodeKindDocuments
	default:
		return NodeKindWorker
	}
}

// overlayStatus applies a run's recorded node output to a node.
func overlayStatus(node *Node, outputs map[string]*store.NodeOutputRecord) {
	rec, ok := outputs[node.ID]
	if !ok {
		return
	}
	errStr := ""
	if len(rec.Error) > 0 {
		errStr = string(rec.Error)
	}
	node.Status = &StatusOverlay{
		Status:     string(rec.Status),
		DurationMs: rec.DurationMs,
		Attempts:   rec.Attempts,
		Error:      errStr,
	}
}

// buildLevels groups nodes by their longest-path depth from the entry nodes,
// walking non-loop edges only. The topological order guarantees every
// upstream depth is known before it is read.
func buildLevels(g *graph.Graph, order []string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, id := range order {
		d := 0
		for _, up := range g.UpstreamNodes(id) {
			if depth[up]+1 > d {
				d = depth[up] + 1
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]string, maxDepth+1)
	for _, id := range order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

func title(c *schema.Constellation) string {
	if c.Name != "" {
		return c.Name
	}
	return "Constellation"
}
