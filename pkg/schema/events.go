package schema

// Event type constants for the run event stream and the persisted event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"
	EventRunResumed   = "run_resumed"

	EventAwaitingConfirmation = "awaiting_confirmation"

	EventNodeStarted   = "node_started"
	EventNodeCompleted = "node_completed"
	EventNodeFailed    = "node_failed"
	EventNodeSkipped   = "node_skipped"
	EventNodeRetrying  = "node_retrying"

	EventLoopRewound = "loop_rewound"

	EventThought    = "thought"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventProgress   = "progress"
	EventLog        = "log"
)
