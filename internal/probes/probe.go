// Package probes defines the tool contract exposed to LLM-driven stars and
// ships the built-in probe set plus an MCP client adapter for remote tools.
package probes

import (
	"context"
)

// Probe is a callable tool a star may invoke during execution. Parameters
// returns a JSON Schema object describing the accepted arguments.
type Probe interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Info is a summary of a registered probe for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
