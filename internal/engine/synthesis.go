package engine

import (
	"context"

	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/pkg/schema"
)

// SynthesisExecutor runs Synthesis stars: it concatenates all upstream
// outputs into a single prompt and asks the LLM for one coherent, formatted
// final answer. On any LLM failure it falls back to the raw concatenation
// rather than failing the run.
type SynthesisExecutor struct {
	llm llm.Client
}

// Kind implements StarExecutor.
func (s *SynthesisExecutor) Kind() schema.StarKind { return schema.StarSynthesis }

// Execute implements StarExecutor.
func (s *SynthesisExecutor) Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error) {
	directive, err := ec.GetDirective(ctx, star.DirectiveID)
	if err != nil {
		return nil, err
	}

	combined := summarizeOutputs(ec.GetUpstreamOutputs(ec.CurrentNode()))
	if combined == "" {
		combined = ec.OriginalQuery
	}

	system, err := ec.Interpolate(ctx, directive.Content)
	if err != nil {
		system = directive.Content
	}

	user := "Combine the following results into one coherent, well-formatted answer."
	if ec.OriginalQuery != "" {
		user += "\nOriginal query: " + ec.OriginalQuery
	}
	user += "\n\n" + combined

	resp, err := s.llm.Invoke(ctx, llm.Request{
		System:   system,
		Messages: []llm.Message{{Role: "user", Content: user}},
	})
	if err != nil || resp.Text == "" {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			ec.EmitLog("warn", "synthesis call failed, returning raw concatenation: "+err.Error())
		}
		return synthesisOutput(combined), nil
	}

	return synthesisOutput(resp.Text), nil
}

func synthesisOutput(text string) *StarResult {
	return &StarResult{
		Output: &schema.StarOutput{
			Kind:      schema.OutputSynthesis,
			Synthesis: &schema.SynthesisOutput{FormattedResult: text},
		},
	}
}
