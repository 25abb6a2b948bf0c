package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"

	"github.com/constellate-io/constellate/pkg/schema"
)

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// OpenAIClient wraps the OpenAI Chat Completions API behind the Client
// interface.
type OpenAIClient struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIClient creates an OpenAI client using the official SDK. The API
// key comes from the SDK's environment lookup.
func NewOpenAIClient(optFns ...func(o *OpenAIOptions)) *OpenAIClient {
	client := openai.NewClient()
	return NewOpenAIClientFrom(&client, optFns...)
}

// NewOpenAIClientFrom creates an OpenAI client from an existing SDK client.
func NewOpenAIClientFrom(client *openai.Client, optFns ...func(o *OpenAIOptions)) *OpenAIClient {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &OpenAIClient{client: client, opts: opts}
}

// Invoke implements Client over the non-streaming Chat Completions API.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildOpenAIMessages(req),
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tool := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  tool.Parameters,
				},
			}
		}
		params.Tools = tools
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeLLM, "openai api error").WithCause(err)
	}
	if len(resp.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeLLM, "openai returned no choices")
	}

	choice := resp.Choices[0]
	out := &Response{
		Text:       choice.Message.Content,
		StopReason: normalizeOpenAIStop(choice.FinishReason),
		Usage: &Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Info implements Client.
func (c *OpenAIClient) Info() Info {
	return Info{Name: c.opts.Model, Provider: "openai"}
}

func buildOpenAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func normalizeOpenAIStop(reason string) string {
	switch reason {
	case "tool_calls", "function_call":
		return StopReasonToolCalls
	case "length":
		return StopReasonLength
	default:
		return StopReasonStop
	}
}
