package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/pkg/schema"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"context cancelled", context.Canceled, false},
		{"validation code", schema.NewError(schema.ErrCodeValidation, "bad graph"), false},
		{"not found code", schema.NewError(schema.ErrCodeNotFound, "missing"), false},
		{"conflict code", schema.NewError(schema.ErrCodeConflict, "dup"), false},
		{"interpolation code", schema.NewError(schema.ErrCodeInterpolation, "bad ref"), false},
		{"llm code", schema.NewError(schema.ErrCodeLLM, "rate limited"), true},
		{"probe code", schema.NewError(schema.ErrCodeProbe, "flaky"), true},
		{"store code", schema.NewError(schema.ErrCodeStore, "locked"), true},
		{"wrapped non-retryable", schema.NewError(schema.ErrCodeCancelled, "stop").WithCause(errors.New("x")), false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"service unavailable", errors.New("503 Service Unavailable"), true},
		{"too many requests", errors.New("429 Too Many Requests"), true},
		{"unknown defaults retryable", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryableError(tt.err))
		})
	}
}

func TestBackoffDoubles(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(2.0, 0))
	assert.Equal(t, 4*time.Second, Backoff(2.0, 1))
	assert.Equal(t, 8*time.Second, Backoff(2.0, 2))
	assert.Equal(t, 500*time.Millisecond, Backoff(0.5, 0))
	assert.Equal(t, time.Duration(0), Backoff(0, 3))
}

func TestWaitForBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := WaitForBackoff(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForBackoffZeroDelay(t *testing.T) {
	require.NoError(t, WaitForBackoff(context.Background(), 0))
}
