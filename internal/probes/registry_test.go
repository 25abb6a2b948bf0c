package probes

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/constellate-io/constellate/pkg/schema"
)

// stubProbe is a minimal Probe for registry tests.
type stubProbe struct {
	name string
	desc string
}

func (s *stubProbe) Name() string        { return s.name }
func (s *stubProbe) Description() string { return s.desc }
func (s *stubProbe) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}
func (s *stubProbe) Invoke(_ context.Context, _ map[string]any) (any, error) {
	return map[string]any{"ok": true}, nil
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubProbe{name: "test.probe", desc: "A test probe"})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.HasProbe("test.probe"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProbe{name: "dup"}))

	err := reg.Register(&stubProbe{name: "dup"})
	require.Error(t, err)

	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeConflict, cerr.Code)
}

func TestRegistry_Register_Nil(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(nil)
	require.Error(t, err)

	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeValidation, cerr.Code)
}

func TestRegistry_Register_EmptyName(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubProbe{name: ""})
	require.Error(t, err)

	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeValidation, cerr.Code)
}

func TestRegistry_Get_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProbe{name: "fetch"}))

	got, err := reg.Get("fetch")
	require.NoError(t, err)
	assert.Equal(t, "fetch", got.Name())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("missing")
	require.Error(t, err)

	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeProbe, cerr.Code)
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProbe{name: "z.probe", desc: "last"}))
	require.NoError(t, reg.Register(&stubProbe{name: "a.probe", desc: "first"}))
	require.NoError(t, reg.Register(&stubProbe{name: "m.probe", desc: "middle"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "a.probe", infos[0].Name)
	assert.Equal(t, "first", infos[0].Description)
	assert.Equal(t, "m.probe", infos[1].Name)
	assert.Equal(t, "z.probe", infos[2].Name)
}

func TestRegistry_RegisterNamespace(t *testing.T) {
	reg := NewRegistry()
	remote := []Probe{
		&stubProbe{name: "forecast", desc: "Weather forecast"},
		&stubProbe{name: "current", desc: "Current conditions"},
	}

	n, err := reg.RegisterNamespace("weather", remote)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, reg.HasProbe("weather.forecast"))
	assert.True(t, reg.HasProbe("weather.current"))

	got, err := reg.Get("weather.forecast")
	require.NoError(t, err)
	assert.Equal(t, "weather.forecast", got.Name())
	assert.Equal(t, "Weather forecast", got.Description())
}

func TestRegistry_RegisterNamespace_EmptyPrefix(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.RegisterNamespace("", nil)
	require.Error(t, err)

	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeValidation, cerr.Code)
}

func TestRegistry_RegisterNamespace_Conflict(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubProbe{name: "w.forecast"}))

	_, err := reg.RegisterNamespace("w", []Probe{
		&stubProbe{name: "forecast"},
	})
	require.Error(t, err)

	var cerr *schema.ConstellateError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, schema.ErrCodeConflict, cerr.Code)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 3)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			name := "concurrent." + string(rune('a'+i%26)) + string(rune('0'+i/26))
			_ = reg.Register(&stubProbe{name: name})
		}(i)
	}
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = reg.Get("concurrent.a0")
		}()
	}
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}

	wg.Wait()
	assert.True(t, reg.Count() > 0)
}
