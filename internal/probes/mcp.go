package probes

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/constellate-io/constellate/pkg/schema"
)

// MCPClient is the slice of the MCP client surface the adapter needs.
// *client.Client from mcp-go satisfies it.
type MCPClient interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPProbe exposes a single remote MCP tool as a Probe.
type MCPProbe struct {
	client MCPClient
	tool   mcp.Tool
	params map[string]any
}

// NewMCPProbe wraps one MCP tool. The tool's input schema is converted to a
// plain JSON Schema map once at construction.
func NewMCPProbe(client MCPClient, tool mcp.Tool) *MCPProbe {
	params := map[string]any{"type": "object"}
	if raw, err := json.Marshal(tool.InputSchema); err == nil {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil && len(m) > 0 {
			params = m
		}
	}
	return &MCPProbe{client: client, tool: tool, params: params}
}

func (p *MCPProbe) Name() string               { return p.tool.Name }
func (p *MCPProbe) Description() string        { return p.tool.Description }
func (p *MCPProbe) Parameters() map[string]any { return p.params }

// Invoke calls the remote tool and normalizes its content blocks. A single
// JSON text block is decoded; plain text is returned as-is; multiple blocks
// become a slice.
func (p *MCPProbe) Invoke(ctx context.Context, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = p.tool.Name
	req.Params.Arguments = args

	res, err := p.client.CallTool(ctx, req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "mcp tool %q call failed", p.tool.Name).WithCause(err)
	}

	texts := make([]string, 0, len(res.Content))
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}

	if res.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeProbe, "mcp tool %q returned an error: %s",
			p.tool.Name, strings.Join(texts, "; "))
	}

	switch len(texts) {
	case 0:
		return nil, nil
	case 1:
		var decoded any
		if err := json.Unmarshal([]byte(texts[0]), &decoded); err == nil {
			return decoded, nil
		}
		return texts[0], nil
	default:
		out := make([]any, len(texts))
		for i, t := range texts {
			out[i] = t
		}
		return out, nil
	}
}

// RegisterMCPProbes lists the server's tools and registers each under the
// given namespace (e.g. "weather.forecast"). Returns the number registered.
func RegisterMCPProbes(ctx context.Context, reg *Registry, namespace string, client MCPClient) (int, error) {
	res, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, schema.NewError(schema.ErrCodeProbe, "mcp list tools failed").WithCause(err)
	}

	probes := make([]Probe, 0, len(res.Tools))
	for _, tool := range res.Tools {
		probes = append(probes, NewMCPProbe(client, tool))
	}
	return reg.RegisterNamespace(namespace, probes)
}
