package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/constellate-io/constellate/pkg/schema"
)

// AnthropicOptions configures the Anthropic adapter.
type AnthropicOptions struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// AnthropicClient wraps the Anthropic Messages API behind the Client
// interface.
type AnthropicClient struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicClient creates an Anthropic client using the official SDK.
// The API key falls back to the SDK's environment lookup when unset.
func NewAnthropicClient(optFns ...func(o *AnthropicOptions)) *AnthropicClient {
	opts := AnthropicOptions{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicClient{client: &client, opts: opts}
}

// Invoke implements Client over the non-streaming Messages API.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:       c.opts.Model,
		Messages:    buildAnthropicMessages(req.Messages),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(c.opts.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeLLM, "anthropic api error").WithCause(err)
	}

	out := &Response{StopReason: normalizeAnthropicStop(string(resp.StopReason))}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "tool_use":
			tb := block.AsToolUse()
			var args json.RawMessage
			if tb.Input != nil {
				if raw, merr := json.Marshal(tb.Input); merr == nil {
					args = raw
				}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   tb.ID,
				Name: tb.Name,
				Args: args,
			})
		}
	}
	out.Usage = &Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return out, nil
}

// Info implements Client.
func (c *AnthropicClient) Info() Info {
	return Info{Name: string(c.opts.Model), Provider: "anthropic"}
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &input); err != nil {
						input = string(tc.Args)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			// Anthropic expects tool results as user-role tool_result blocks.
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		default:
			if m.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return out
}

func buildAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Parameters != nil {
			if properties, ok := tool.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := tool.Parameters["required"]; ok {
				inputSchema.Required = toStringSlice(required)
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	}
	return out
}

func normalizeAnthropicStop(reason string) string {
	switch reason {
	case "tool_use":
		return StopReasonToolCalls
	case "max_tokens":
		return StopReasonLength
	default:
		return StopReasonStop
	}
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
