package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResultValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())

	r.AddWarning("stars[w1]", ErrCodeNotFound, "unregistered probe")
	assert.True(t, r.Valid(), "warnings do not invalidate")

	r.AddError("edges[0]", ErrCodeValidation, "dangling target")
	assert.False(t, r.Valid())
}

func TestValidationResultMerge(t *testing.T) {
	a := &ValidationResult{}
	a.AddError("/", ErrCodeValidation, "first")

	b := &ValidationResult{}
	b.AddError("/", ErrCodeValidation, "second")
	b.AddWarning("/", ErrCodeValidation, "heads up")

	a.Merge(b)
	assert.Len(t, a.Errors, 2)
	assert.Len(t, a.Warnings, 1)

	a.Merge(nil)
	assert.Len(t, a.Errors, 2)
}

func TestValidationResultToError(t *testing.T) {
	r := &ValidationResult{}
	assert.NoError(t, r.ToError())

	r.AddError("/", ErrCodeValidation, "broken")
	err := r.ToError()
	require.Error(t, err)

	var cerr *ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, ErrCodeValidation, cerr.Code)
	assert.Equal(t, "broken", cerr.Message)

	r.AddError("/", ErrCodeValidation, "also broken")
	err = r.ToError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors")
}

func TestConstellateErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrCodeStore, "save failed").WithCause(cause).WithNode("w1")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "node w1")
	assert.Contains(t, err.Error(), ErrCodeStore)
}

func intRef(n int) *int { return &n }

func TestNormalizeClampsConstraints(t *testing.T) {
	c := &Constellation{}
	c.Normalize()
	assert.Equal(t, DefaultLoopIterations, c.MaxLoopIterations)
	assert.Equal(t, DefaultRetryDelayBase, c.RetryDelayBase)

	c = &Constellation{MaxLoopIterations: 99, MaxRetryAttempts: intRef(42), RetryDelayBase: 100}
	c.Normalize()
	assert.Equal(t, MaxLoopIterations, c.MaxLoopIterations)
	assert.Equal(t, MaxRetryAttempts, *c.MaxRetryAttempts)
	assert.Equal(t, MaxRetryDelayBase, c.RetryDelayBase)
}

func TestNormalizeRetryAttemptsDefault(t *testing.T) {
	c := &Constellation{}
	c.Normalize()
	require.NotNil(t, c.MaxRetryAttempts)
	assert.Equal(t, DefaultRetryAttempts, *c.MaxRetryAttempts)
	assert.Equal(t, DefaultRetryAttempts, c.RetryAttempts())
}

func TestNormalizeKeepsExplicitZeroRetries(t *testing.T) {
	c := &Constellation{MaxRetryAttempts: intRef(0)}
	c.Normalize()
	require.NotNil(t, c.MaxRetryAttempts)
	assert.Equal(t, 0, *c.MaxRetryAttempts)
	assert.Equal(t, 0, c.RetryAttempts())
}

func TestRetryAttemptsFromJSON(t *testing.T) {
	var c Constellation
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","name":"C1"}`), &c))
	c.Normalize()
	assert.Equal(t, DefaultRetryAttempts, c.RetryAttempts())

	var z Constellation
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","name":"C1","max_retry_attempts":0}`), &z))
	z.Normalize()
	assert.Equal(t, 0, z.RetryAttempts())
}
