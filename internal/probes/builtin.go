package probes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/constellate-io/constellate/internal/expressions"
	"github.com/constellate-io/constellate/pkg/schema"
)

// HTTPConfig configures the http.fetch probe.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// RegisterBuiltins registers all built-in probes in the given registry.
func RegisterBuiltins(reg *Registry, httpCfg HTTPConfig) error {
	all := []Probe{
		NewTimeNowProbe(),
		NewMathEvalProbe(),
		NewJQProbe(),
		NewHTTPFetchProbe(httpCfg),
	}
	for _, p := range all {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// Param helpers used by all probe files.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

// --- TimeNowProbe ---

// TimeNowProbe implements the "time.now" probe.
type TimeNowProbe struct{}

// NewTimeNowProbe creates a new time.now probe.
func NewTimeNowProbe() *TimeNowProbe { return &TimeNowProbe{} }

func (p *TimeNowProbe) Name() string { return "time.now" }

func (p *TimeNowProbe) Description() string {
	return "Return the current time, optionally formatted and in a named timezone."
}

func (p *TimeNowProbe) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"format":   map[string]any{"type": "string", "description": "Go reference layout, defaults to RFC3339"},
			"timezone": map[string]any{"type": "string", "description": "IANA timezone name, defaults to UTC"},
		},
	}
}

func (p *TimeNowProbe) Invoke(_ context.Context, args map[string]any) (any, error) {
	loc := time.UTC
	if tz := stringParam(args, "timezone", ""); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeProbe, "time.now: unknown timezone %q", tz)
		}
		loc = parsed
	}
	format := stringParam(args, "format", time.RFC3339)
	now := time.Now().In(loc)
	return map[string]any{
		"time":     now.Format(format),
		"unix":     now.Unix(),
		"timezone": loc.String(),
		"weekday":  now.Weekday().String(),
	}, nil
}

// --- MathEvalProbe ---

// MathEvalProbe implements the "math.eval" probe over the expr engine.
type MathEvalProbe struct {
	engine *expressions.ExprEngine
}

// NewMathEvalProbe creates a new math.eval probe.
func NewMathEvalProbe() *MathEvalProbe {
	return &MathEvalProbe{engine: expressions.NewExprEngine()}
}

func (p *MathEvalProbe) Name() string { return "math.eval" }

func (p *MathEvalProbe) Description() string {
	return "Evaluate an arithmetic or boolean expression, with optional named variables."
}

func (p *MathEvalProbe) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{"type": "string"},
			"variables":  map[string]any{"type": "object"},
		},
		"required": []any{"expression"},
	}
}

func (p *MathEvalProbe) Invoke(ctx context.Context, args map[string]any) (any, error) {
	expression := stringParam(args, "expression", "")
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeProbe, "math.eval: missing required param 'expression'")
	}
	vars := map[string]any{}
	if raw, ok := args["variables"]; ok {
		if m, ok := raw.(map[string]any); ok {
			vars = m
		}
	}
	result, err := p.engine.Evaluate(ctx, expression, vars)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "math.eval: %v", err).WithCause(err)
	}
	return map[string]any{"result": result}, nil
}

// --- JQProbe ---

// JQProbe implements the "jq" probe over the gojq engine.
type JQProbe struct {
	engine *expressions.GoJQEngine
}

// NewJQProbe creates a new jq probe.
func NewJQProbe() *JQProbe {
	return &JQProbe{engine: expressions.NewGoJQEngine()}
}

func (p *JQProbe) Name() string { return "jq" }

func (p *JQProbe) Description() string {
	return "Run a jq query against a JSON input document."
}

func (p *JQProbe) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"input": map[string]any{"description": "JSON value the query runs against"},
		},
		"required": []any{"query"},
	}
}

func (p *JQProbe) Invoke(ctx context.Context, args map[string]any) (any, error) {
	query := stringParam(args, "query", "")
	if query == "" {
		return nil, schema.NewError(schema.ErrCodeProbe, "jq: missing required param 'query'")
	}
	input := map[string]any{}
	if raw, ok := args["input"]; ok {
		if m, ok := raw.(map[string]any); ok {
			input = m
		} else {
			// wrap non-object input so the engine sees a document root
			input = map[string]any{"value": raw}
			if !strings.HasPrefix(query, ".value") && query != "." {
				query = ".value | " + query
			}
		}
	}
	result, err := p.engine.Evaluate(ctx, query, input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "jq: %v", err).WithCause(err)
	}
	return map[string]any{"result": result}, nil
}

// --- HTTPFetchProbe ---

// HTTPFetchProbe implements the "http.fetch" probe.
type HTTPFetchProbe struct {
	config HTTPConfig
}

// NewHTTPFetchProbe creates a new http.fetch probe.
func NewHTTPFetchProbe(cfg HTTPConfig) *HTTPFetchProbe {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPFetchProbe{config: cfg}
}

func (p *HTTPFetchProbe) Name() string { return "http.fetch" }

func (p *HTTPFetchProbe) Description() string {
	return "Fetch a URL over HTTP GET and return status, headers, and parsed body."
}

func (p *HTTPFetchProbe) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string"},
			"headers": map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
			"timeout": map[string]any{"type": "string", "description": "Go duration string, defaults to 30s"},
		},
		"required": []any{"url"},
	}
}

func (p *HTTPFetchProbe) Invoke(ctx context.Context, args map[string]any) (any, error) {
	rawURL := stringParam(args, "url", "")
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeProbe, "http.fetch: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "http.fetch: invalid url %q", rawURL)
	}

	timeout := p.config.DefaultTimeout
	if ts := stringParam(args, "timeout", ""); ts != "" {
		if d, perr := time.ParseDuration(ts); perr == nil {
			timeout = d
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeProbe, "http.fetch: failed to create request").WithCause(err)
	}
	if hdrs, ok := args["headers"]; ok {
		if hm, ok := hdrs.(map[string]any); ok {
			for k, v := range hm {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "http.fetch: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeProbe, "http.fetch: failed to read response body").WithCause(err)
	}

	contentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(contentType, "application/json") {
		var jsonBody any
		if uerr := json.Unmarshal(bodyBytes, &jsonBody); uerr == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      headers,
		"body":         parsedBody,
		"content_type": contentType,
		"duration_ms":  durationMs,
	}, nil
}
