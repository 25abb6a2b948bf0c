package expressions

import "context"

// Engine evaluates expressions against a run scope.
// Three implementations: CEL (star guards), Expr (eval success checks and
// builtin probes), GoJQ (path extraction and transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
