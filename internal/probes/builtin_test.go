package probes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/pkg/schema"
)

func assertProbeError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeProbe, cerr.Code)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, HTTPConfig{}))

	for _, name := range []string{"time.now", "math.eval", "jq", "http.fetch"} {
		assert.True(t, reg.HasProbe(name), "missing builtin %s", name)
	}
}

func TestTimeNowProbe(t *testing.T) {
	p := NewTimeNowProbe()
	out, err := p.Invoke(context.Background(), map[string]any{})
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UTC", m["timezone"])

	ts, ok := m["time"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
}

func TestTimeNowProbe_Timezone(t *testing.T) {
	p := NewTimeNowProbe()
	out, err := p.Invoke(context.Background(), map[string]any{"timezone": "America/New_York"})
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", out.(map[string]any)["timezone"])
}

func TestTimeNowProbe_BadTimezone(t *testing.T) {
	p := NewTimeNowProbe()
	_, err := p.Invoke(context.Background(), map[string]any{"timezone": "Mars/Olympus"})
	assertProbeError(t, err)
}

func TestMathEvalProbe(t *testing.T) {
	p := NewMathEvalProbe()
	out, err := p.Invoke(context.Background(), map[string]any{
		"expression": "a * b + 2",
		"variables":  map[string]any{"a": 3, "b": 4},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 14, out.(map[string]any)["result"])
}

func TestMathEvalProbe_MissingExpression(t *testing.T) {
	p := NewMathEvalProbe()
	_, err := p.Invoke(context.Background(), map[string]any{})
	assertProbeError(t, err)
}

func TestMathEvalProbe_BadExpression(t *testing.T) {
	p := NewMathEvalProbe()
	_, err := p.Invoke(context.Background(), map[string]any{"expression": "1 +* 2"})
	assertProbeError(t, err)
}

func TestJQProbe(t *testing.T) {
	p := NewJQProbe()
	out, err := p.Invoke(context.Background(), map[string]any{
		"query": ".items | length",
		"input": map[string]any{"items": []any{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, out.(map[string]any)["result"])
}

func TestJQProbe_NonObjectInput(t *testing.T) {
	p := NewJQProbe()
	out, err := p.Invoke(context.Background(), map[string]any{
		"query": "length",
		"input": []any{"a", "b"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out.(map[string]any)["result"])
}

func TestJQProbe_MissingQuery(t *testing.T) {
	p := NewJQProbe()
	_, err := p.Invoke(context.Background(), map[string]any{})
	assertProbeError(t, err)
}

func TestHTTPFetchProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-123", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"hello": "world"})
	}))
	defer srv.Close()

	p := NewHTTPFetchProbe(HTTPConfig{})
	out, err := p.Invoke(context.Background(), map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Api-Key": "token-123"},
	})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, 200, m["status_code"])
	body, ok := m["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "world", body["hello"])
}

func TestHTTPFetchProbe_InvalidURL(t *testing.T) {
	p := NewHTTPFetchProbe(HTTPConfig{})
	_, err := p.Invoke(context.Background(), map[string]any{"url": "ftp://nope"})
	assertProbeError(t, err)

	_, err = p.Invoke(context.Background(), map[string]any{})
	assertProbeError(t, err)
}

func TestHTTPFetchProbe_TextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	p := NewHTTPFetchProbe(HTTPConfig{})
	out, err := p.Invoke(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "plain text", out.(map[string]any)["body"])
}
