package expressions

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/constellate-io/constellate/pkg/schema"
)

// Interpolator resolves ${{...}} references in directive content and probe
// params. References are either dotted paths over the run-scope namespaces
// (variables.*, nodes.*, run.*, query) or raw jq expressions (leading dot),
// delegated to the GoJQ engine.
type Interpolator struct {
	jq *GoJQEngine
}

// NewInterpolator creates a new Interpolator.
func NewInterpolator(jq *GoJQEngine) *Interpolator {
	if jq == nil {
		jq = NewGoJQEngine()
	}
	return &Interpolator{jq: jq}
}

// HasInterpolation reports whether the input contains a ${{ marker.
func HasInterpolation(raw []byte) bool {
	return strings.Contains(string(raw), "${{")
}

// InterpolateString resolves every ${{...}} token in s against the scope.
// Non-string values are JSON-encoded into place. Unresolvable references
// are an error; the caller decides whether that fails the node.
func (interp *Interpolator) InterpolateString(ctx context.Context, s string, scope *RunScope) (string, error) {
	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		expr := strings.TrimSpace(s[start:end])
		if expr == "" {
			return "", schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}
		if strings.Contains(expr, "${{") {
			return "", schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := interp.resolveExpr(ctx, expr, scope)
		if err != nil {
			return "", err
		}
		result.WriteString(stringify(val))

		i = end + 2
	}

	return result.String(), nil
}

// Resolve performs interpolation on raw JSON, preserving JSON validity.
// A string value consisting of exactly one token is replaced by the typed
// value; mixed content is string-substituted.
func (interp *Interpolator) Resolve(ctx context.Context, raw json.RawMessage, scope *RunScope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Not JSON: treat as plain text.
		s, ierr := interp.InterpolateString(ctx, string(raw), scope)
		if ierr != nil {
			return nil, ierr
		}
		return json.RawMessage(s), nil
	}

	resolved, err := interp.resolveValue(ctx, doc, scope)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "re-encode params: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

// ResolveMap interpolates every string leaf of a map in place-copy fashion.
func (interp *Interpolator) ResolveMap(ctx context.Context, m map[string]any, scope *RunScope) (map[string]any, error) {
	resolved, err := interp.resolveValue(ctx, m, scope)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "resolved params are not an object")
	}
	return out, nil
}

func (interp *Interpolator) resolveValue(ctx context.Context, v any, scope *RunScope) (any, error) {
	switch tv := v.(type) {
	case string:
		trimmed := strings.TrimSpace(tv)
		if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") &&
			strings.Count(trimmed, "${{") == 1 {
			// Whole-token value: substitute the typed value.
			expr := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
			return interp.resolveExpr(ctx, expr, scope)
		}
		if strings.Contains(tv, "${{") {
			return interp.InterpolateString(ctx, tv, scope)
		}
		return tv, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			rv, err := interp.resolveValue(ctx, val, scope)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			rv, err := interp.resolveValue(ctx, val, scope)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveExpr resolves a single expression: jq when it starts with ".",
// otherwise a dotted path over the scope namespaces.
func (interp *Interpolator) resolveExpr(ctx context.Context, expr string, scope *RunScope) (any, error) {
	if strings.HasPrefix(expr, ".") {
		return interp.jq.Evaluate(ctx, expr, scope.Data())
	}
	return resolvePath(expr, scope)
}

func resolvePath(path string, scope *RunScope) (any, error) {
	data := scope.Data()
	segments := strings.Split(path, ".")

	var cur any = data
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"unresolved reference %q: key %q not found", path, seg)
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"unresolved reference %q: invalid index %q", path, seg)
			}
			cur = node[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"unresolved reference %q: cannot descend into %T at %q", path, cur, seg)
		}
	}
	return cur, nil
}

func stringify(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
