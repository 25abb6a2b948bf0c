package engine

import (
	"context"

	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/pkg/schema"
)

// DefaultWorkerIterations bounds the worker tool loop when the star does
// not set max_iterations.
const DefaultWorkerIterations = 10

// WorkerExecutor runs Worker stars: interpolated directive as system prompt,
// bound probes as tools, iterate-until-done tool loop against the LLM.
type WorkerExecutor struct {
	llm      llm.Client
	breakers *CircuitBreakerRegistry
}

// Kind implements StarExecutor.
func (w *WorkerExecutor) Kind() schema.StarKind { return schema.StarWorker }

// Execute implements StarExecutor. Ordinary task failures (LLM errors,
// interpolation errors) come back as a failed WorkerOutput, not as an
// error; a missing directive is a programmer error and fails hard.
func (w *WorkerExecutor) Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error) {
	directive, err := ec.GetDirective(ctx, star.DirectiveID)
	if err != nil {
		return nil, err
	}

	system, err := ec.Interpolate(ctx, directive.Content)
	if err != nil {
		return workerFailure(taskID(ec), "interpolate directive: "+err.Error()), nil
	}

	tools, bound := bindProbes(ec, directive, star)

	task := ec.Task
	if task == "" {
		task = ec.OriginalQuery
	}
	if task == "" {
		task = "Carry out the directive."
	}

	maxIter := star.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultWorkerIterations
	}

	messages := []llm.Message{{Role: "user", Content: task}}
	var records []schema.ToolCallRecord

	for iter := 0; iter < maxIter; iter++ {
		resp, err := w.llm.Invoke(ctx, llm.Request{
			System:   system,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			out := workerFailure(taskID(ec), err.Error())
			out.ToolCalls = records
			return out, nil
		}

		if len(resp.ToolCalls) == 0 {
			return &StarResult{
				Output: &schema.StarOutput{
					Kind: schema.OutputWorker,
					Worker: &schema.WorkerOutput{
						TaskID: taskID(ec),
						Result: resp.Text,
						Status: schema.WorkerStatusCompleted,
					},
				},
				ToolCalls: records,
			}, nil
		}

		ec.EmitThought(resp.Text)
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		var round []schema.ToolCallRecord
		messages, round = runToolCalls(ctx, ec, w.breakers, bound, resp.ToolCalls, messages)
		records = append(records, round...)
	}

	// Loop bound hit without a final answer. Non-fatal: the run proceeds.
	return &StarResult{
		Output: &schema.StarOutput{
			Kind: schema.OutputWorker,
			Worker: &schema.WorkerOutput{
				TaskID: taskID(ec),
				Status: schema.WorkerStatusMaxIterations,
			},
		},
		ToolCalls: records,
	}, nil
}

func workerFailure(taskID, errMsg string) *StarResult {
	return &StarResult{
		Output: &schema.StarOutput{
			Kind: schema.OutputWorker,
			Worker: &schema.WorkerOutput{
				TaskID: taskID,
				Status: schema.WorkerStatusFailed,
				Error:  errMsg,
			},
		},
	}
}

func taskID(ec *ExecContext) string {
	if ec.Task != "" {
		if id, ok := ec.Variables["task_id"].(string); ok {
			return id
		}
	}
	return ""
}
