package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/constellate-io/constellate/pkg/schema"
)

// nonRetryableCodes are error codes that no number of retries can fix.
var nonRetryableCodes = map[string]bool{
	schema.ErrCodeValidation:        true,
	schema.ErrCodeNotFound:          true,
	schema.ErrCodeConflict:          true,
	schema.ErrCodeInvalidTransition: true,
	schema.ErrCodeCycleDetected:     true,
	schema.ErrCodeCancelled:         true,
	schema.ErrCodeInterpolation:     true,
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, transient LLM/probe/store
// failures. Non-retryable: validation and reference errors, cancellation.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is retryable (per-call timeout, not run shutdown).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled means the run is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var cerr *schema.ConstellateError
	if errors.As(err, &cerr) {
		return !nonRetryableCodes[cerr.Code]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common transient patterns from collaborators.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
		"overloaded",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable (conservative — the attempt budget bounds it).
	return true
}

// Backoff computes the delay before retry number attempt (0-based):
// base * 2^attempt seconds. base is the constellation's retry_delay_base,
// already clamped by Normalize.
func Backoff(base float64, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= 2
	}
	return time.Duration(base * multiplier * float64(time.Second))
}

// WaitForBackoff sleeps for the given delay or returns early if the context
// is cancelled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
