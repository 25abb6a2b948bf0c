// Package llm defines the language-model client contract used by star
// executors, plus provider adapters for Anthropic and OpenAI. Requests and
// responses are normalized so executor logic never branches per vendor.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/constellate-io/constellate/pkg/schema"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolDefinition exposes a callable probe to the model. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Message is one turn of a conversation. Role is "user", "assistant" or
// "tool"; tool messages carry the ToolCallID they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Request is the normalized model input built by star executors.
type Request struct {
	System   string           `json:"system,omitempty"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// Usage captures token accounting for a completed call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's reply: accumulated text plus any tool calls it
// requested. StopReason is the provider's finish reason normalized to
// "stop", "tool_calls" or "length".
type Response struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// Info describes a client implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Client is the minimal interface star executors need to drive generation.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	Info() Info
}

// StopReason values normalized across providers.
const (
	StopReasonStop      = "stop"
	StopReasonToolCalls = "tool_calls"
	StopReasonLength    = "length"
)

// MockClient is an in-memory Client for tests. Responses are matched by
// substring against the last user message; unmatched prompts get a generic
// echo. Queued tool calls are returned once, in order, before text replies.
type MockClient struct {
	mu        sync.Mutex
	responses map[string]string
	toolCalls [][]ToolCall
	calls     []Request
	err       error
}

// NewMockClient constructs an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{responses: make(map[string]string)}
}

// AddResponse registers a canned text reply for prompts containing match.
func (m *MockClient) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[match] = response
}

// QueueToolCalls enqueues one round of tool calls to return on the next
// Invoke.
func (m *MockClient) QueueToolCalls(calls ...ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = append(m.toolCalls, calls)
}

// FailWith makes every subsequent Invoke return err.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests seen so far.
func (m *MockClient) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Invoke implements Client.
func (m *MockClient) Invoke(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if m.err != nil {
		return nil, schema.NewError(schema.ErrCodeLLM, "mock failure").WithCause(m.err)
	}

	if len(m.toolCalls) > 0 {
		calls := m.toolCalls[0]
		m.toolCalls = m.toolCalls[1:]
		return &Response{ToolCalls: calls, StopReason: StopReasonToolCalls}, nil
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}
	for match, resp := range m.responses {
		if strings.Contains(prompt, match) {
			return &Response{Text: resp, StopReason: StopReasonStop}, nil
		}
	}
	return &Response{Text: "mock response to: " + prompt, StopReason: StopReasonStop}, nil
}

// Info implements Client.
func (m *MockClient) Info() Info {
	return Info{Name: "mock", Provider: "mock"}
}
