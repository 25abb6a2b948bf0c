// Package diagram renders constellations as ASCII, Mermaid, DOT-backed PNG
// images, with an optional runtime status overlay from a run's node outputs.
package diagram

// NodeKind classifies a diagram node by its star kind.
type NodeKind string

const (
	NodeKindWorker    NodeKind = "worker"
	NodeKindPlanning  NodeKind = "planning"
	NodeKindExecution NodeKind = "execution"
	NodeKindEval      NodeKind = "eval"
	NodeKindSynthesis NodeKind = "synthesis"
	NodeKindDocuments NodeKind = "document_extraction"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single star (or the start/end sentinel) in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.NodeStatus
	DurationMs int64
	Attempts   int
	Error      string
}

// Edge represents a dependency between two nodes. Loop edges are rendered
// dashed: they rewind execution instead of expressing a dependency.
type Edge struct {
	From  string
	To    string
	Label string
	Loop  bool
}
