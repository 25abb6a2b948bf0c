package engine

import (
	"context"

	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/schema"
)

// Registry is the collaborator interface through which the engine resolves
// constellations and directives, and persists objects minted at runtime
// (dynamic stars and their directives).
type Registry interface {
	GetConstellation(ctx context.Context, id string) (*schema.Constellation, error)
	GetDirective(ctx context.Context, id string) (*schema.Directive, error)
	CreateDirective(ctx context.Context, d *schema.Directive) error
	CreateStar(ctx context.Context, constellationID string, star *schema.Star) error
}

// storeRegistry backs the Registry with the persistence layer.
type storeRegistry struct {
	store store.Store
}

// NewStoreRegistry creates a Registry backed by the given store.
func NewStoreRegistry(s store.Store) Registry {
	return &storeRegistry{store: s}
}

func (r *storeRegistry) GetConstellation(ctx context.Context, id string) (*schema.Constellation, error) {
	rec, err := r.store.GetConstellation(ctx, id)
	if err != nil {
		return nil, err
	}
	c := rec.Definition
	return &c, nil
}

func (r *storeRegistry) GetDirective(ctx context.Context, id string) (*schema.Directive, error) {
	rec, err := r.store.GetDirective(ctx, id)
	if err != nil {
		return nil, err
	}
	d := rec.Directive
	return &d, nil
}

func (r *storeRegistry) CreateDirective(ctx context.Context, d *schema.Directive) error {
	return r.store.SaveDirective(ctx, &store.DirectiveRecord{ID: d.ID, Directive: *d})
}

// CreateStar appends a dynamically created star to the persisted
// constellation definition.
func (r *storeRegistry) CreateStar(ctx context.Context, constellationID string, star *schema.Star) error {
	rec, err := r.store.GetConstellation(ctx, constellationID)
	if err != nil {
		return err
	}
	rec.Definition.Stars = append(rec.Definition.Stars, *star)
	if star.AIGenerated {
		rec.AIGenerated = true
	}
	return r.store.SaveConstellation(ctx, rec)
}
