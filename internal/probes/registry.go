package probes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/constellate-io/constellate/pkg/schema"
)

// Registry is a thread-safe probe registry.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		probes: make(map[string]Probe),
	}
}

// Register adds a probe to the registry. Returns error on duplicate name.
func (r *Registry) Register(probe Probe) error {
	if probe == nil {
		return schema.NewError(schema.ErrCodeValidation, "probe is nil")
	}
	name := probe.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "probe name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.probes[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "probe %q already registered", name)
	}

	r.probes[name] = probe
	return nil
}

// Get retrieves a probe by name.
func (r *Registry) Get(name string) (Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	probe, ok := r.probes[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "probe %q not registered", name)
	}
	return probe, nil
}

// List returns info for all registered probes, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.probes))
	for _, p := range r.probes {
		infos = append(infos, Info{
			Name:        p.Name(),
			Description: p.Description(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// RegisterNamespace bulk-registers probes under a prefixed namespace.
// Each probe name becomes "prefix.originalName" (e.g. "weather.forecast").
func (r *Registry) RegisterNamespace(prefix string, probes []Probe) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "namespace prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, p := range probes {
		prefixed := fmt.Sprintf("%s.%s", prefix, p.Name())
		if _, exists := r.probes[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "probe %q already registered", prefixed)
		}
		r.probes[prefixed] = &prefixedProbe{inner: p, name: prefixed}
		registered++
	}
	return registered, nil
}

// HasProbe checks if a probe is registered. Satisfies the validator's
// probe lookup.
func (r *Registry) HasProbe(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.probes[name]
	return ok
}

// Count returns the number of registered probes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.probes)
}

// prefixedProbe wraps a namespaced probe with a prefixed name.
type prefixedProbe struct {
	inner Probe
	name  string
}

func (p *prefixedProbe) Name() string               { return p.name }
func (p *prefixedProbe) Description() string        { return p.inner.Description() }
func (p *prefixedProbe) Parameters() map[string]any { return p.inner.Parameters() }

func (p *prefixedProbe) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return p.inner.Invoke(ctx, args)
}
