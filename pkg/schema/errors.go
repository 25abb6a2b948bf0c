package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeNodeFailed        = "NODE_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeProbe             = "PROBE_ERROR"
	ErrCodeLLM               = "LLM_ERROR"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
)

// ConstellateError is the structured error type for all engine operations.
type ConstellateError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ConstellateError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ConstellateError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ConstellateError.
func NewError(code, message string) *ConstellateError {
	return &ConstellateError{Code: code, Message: message}
}

// NewErrorf creates a new ConstellateError with a formatted message.
func NewErrorf(code, format string, args ...any) *ConstellateError {
	return &ConstellateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *ConstellateError) WithNode(nodeID string) *ConstellateError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *ConstellateError) WithCause(err error) *ConstellateError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ConstellateError) WithDetails(details map[string]any) *ConstellateError {
	e.Details = details
	return e
}
