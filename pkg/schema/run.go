package schema

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning              RunStatus = "running"
	RunStatusAwaitingConfirmation RunStatus = "awaiting_confirmation"
	RunStatusCompleted            RunStatus = "completed"
	RunStatusFailed               RunStatus = "failed"
	RunStatusCancelled            RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// NodeStatus represents the lifecycle state of a single node within a run.
// StatusMaxIterations marks a worker that exhausted its tool loop without a
// final answer; the run still proceeds.
type NodeStatus string

const (
	NodeStatusPending       NodeStatus = "pending"
	NodeStatusRunning       NodeStatus = "running"
	NodeStatusCompleted     NodeStatus = "completed"
	NodeStatusRetrying      NodeStatus = "retrying"
	NodeStatusFailed        NodeStatus = "failed"
	NodeStatusSkipped       NodeStatus = "skipped"
	NodeStatusMaxIterations NodeStatus = "max_iterations"
)

// Run is one execution instance of a constellation. Created when execution
// starts, mutated only by the Runner, terminal once completed/failed/cancelled.
type Run struct {
	ID                string    `json:"id"`
	ConstellationID   string    `json:"constellation_id"`
	ConstellationName string    `json:"constellation_name,omitempty"`
	Status            RunStatus `json:"status"`

	Variables     map[string]any `json:"variables,omitempty"`
	OriginalQuery string         `json:"original_query,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	NodeOutputs map[string]*NodeOutput `json:"node_outputs,omitempty"`
	FinalOutput string                 `json:"final_output,omitempty"`
	Error       string                 `json:"error,omitempty"`

	// LoopCount is the number of Eval loop-backs taken so far; persisted so
	// a resumed run keeps its loop budget.
	LoopCount int `json:"loop_count,omitempty"`

	// Set while paused on a confirmation-gated node.
	AwaitingNodeID string `json:"awaiting_node_id,omitempty"`
	AwaitingPrompt string `json:"awaiting_prompt,omitempty"`
}

// NodeOutput records the result of executing one node within a run.
type NodeOutput struct {
	NodeID string     `json:"node_id"`
	StarID string     `json:"star_id"`
	Status NodeStatus `json:"status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Output    *StarOutput      `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Attempts  int              `json:"attempts,omitempty"`
}

// ToolCallRecord is one probe invocation made while executing a node,
// in call order.
type ToolCallRecord struct {
	Probe  string         `json:"probe"`
	Args   map[string]any `json:"args,omitempty"`
	Result any            `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Cached bool           `json:"cached,omitempty"`
}

// OutputKind tags the concrete payload carried by a StarOutput.
type OutputKind string

const (
	OutputPlan      OutputKind = "plan"
	OutputWorker    OutputKind = "worker"
	OutputEval      OutputKind = "eval"
	OutputExecution OutputKind = "execution"
	OutputSynthesis OutputKind = "synthesis"
	OutputDocuments OutputKind = "documents"
)

// StarOutput is the closed set of output shapes, one per star variant.
// Exactly one payload field is non-nil, selected by Kind.
type StarOutput struct {
	Kind      OutputKind       `json:"kind"`
	Plan      *Plan            `json:"plan,omitempty"`
	Worker    *WorkerOutput    `json:"worker,omitempty"`
	Eval      *EvalDecision    `json:"eval,omitempty"`
	Execution *ExecutionResult `json:"execution,omitempty"`
	Synthesis *SynthesisOutput `json:"synthesis,omitempty"`
	Documents *DocumentPayload `json:"documents,omitempty"`
}

// Plan is the output of a Planning star.
type Plan struct {
	Tasks           []PlanTask `json:"tasks"`
	Context         string     `json:"context,omitempty"`
	SuccessCriteria string     `json:"success_criteria,omitempty"`
}

// PlanTask is one unit of delegated work within a plan.
type PlanTask struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Worker result statuses.
const (
	WorkerStatusCompleted     = "completed"
	WorkerStatusFailed        = "failed"
	WorkerStatusMaxIterations = "max_iterations"
)

// WorkerOutput is the output of a Worker star or a single task within an
// Execution star.
type WorkerOutput struct {
	TaskID string `json:"task_id,omitempty"`
	Result string `json:"result,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Eval decisions.
const (
	DecisionContinue = "continue"
	DecisionLoop     = "loop"
)

// EvalDecision is the output of an Eval star.
type EvalDecision struct {
	Decision  string `json:"decision"` // continue | loop
	Reasoning string `json:"reasoning,omitempty"`
}

// Execution aggregate statuses.
const (
	ExecutionStatusCompleted = "completed"
	ExecutionStatusPartial   = "partial"
	ExecutionStatusFailed    = "failed"
)

// ExecutionResult is the output of an Execution star: the aggregated
// worker outputs for every task in the consumed plan.
type ExecutionResult struct {
	Status  string         `json:"status"` // completed | partial | failed
	Workers []WorkerOutput `json:"workers,omitempty"`
}

// SynthesisOutput is the output of a Synthesis star.
type SynthesisOutput struct {
	FormattedResult string `json:"formatted_result"`
}

// DocumentPayload is the output of a DocumentExtraction star.
type DocumentPayload struct {
	Documents []Document `json:"documents"`
}

// Document is a named piece of extracted content.
type Document struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}
