package engine

import (
	"context"
	"sync"

	"github.com/constellate-io/constellate/pkg/schema"
)

// DefaultTaskConcurrency bounds the Execution star's task fan-out.
const DefaultTaskConcurrency = 4

// ExecutionExecutor runs Execution stars: it consumes the upstream Plan,
// partitions tasks into independent and dependent groups, and executes each
// group as a concurrent batch of worker stars.
//
// Dependent tasks run as a single second batch rather than in true
// dependency order within the star; tasks with inter-dependencies inside
// that batch see only the first batch's results. TODO: dependency-DAG
// scheduling within a single Execution star.
type ExecutionExecutor struct {
	worker *WorkerExecutor
}

// Kind implements StarExecutor.
func (e *ExecutionExecutor) Kind() schema.StarKind { return schema.StarExecution }

// Execute implements StarExecutor. Per-task failures are captured per task
// and never abort the batch; the aggregate status is completed (no
// failures), partial (some), or failed (all).
func (e *ExecutionExecutor) Execute(ctx context.Context, ec *ExecContext, star *schema.Star) (*StarResult, error) {
	planOut := ec.GetUpstreamOutput(schema.OutputPlan)
	if planOut == nil || planOut.Plan == nil || len(planOut.Plan.Tasks) == 0 {
		return &StarResult{
			Output: &schema.StarOutput{
				Kind: schema.OutputExecution,
				Execution: &schema.ExecutionResult{
					Status: schema.ExecutionStatusFailed,
				},
			},
		}, nil
	}
	plan := planOut.Plan

	var independent, dependent []schema.PlanTask
	for _, task := range plan.Tasks {
		if len(task.Dependencies) == 0 {
			independent = append(independent, task)
		} else {
			dependent = append(dependent, task)
		}
	}

	pool := NewTaskPool(DefaultTaskConcurrency)
	defer pool.Shutdown()

	results := make([]schema.WorkerOutput, 0, len(plan.Tasks))
	results = append(results, e.runBatch(ctx, ec, pool, independent)...)
	results = append(results, e.runBatch(ctx, ec, pool, dependent)...)

	failures := 0
	for _, w := range results {
		if w.Status == schema.WorkerStatusFailed {
			failures++
		}
	}
	status := schema.ExecutionStatusCompleted
	switch {
	case failures == len(results) && len(results) > 0:
		status = schema.ExecutionStatusFailed
	case failures > 0:
		status = schema.ExecutionStatusPartial
	}

	return &StarResult{
		Output: &schema.StarOutput{
			Kind: schema.OutputExecution,
			Execution: &schema.ExecutionResult{
				Status:  status,
				Workers: results,
			},
		},
	}, nil
}

// runBatch executes one group of tasks concurrently through the pool.
// Completion order within the batch is unspecified; results are collected
// into a slice indexed by task position so the aggregate is deterministic.
func (e *ExecutionExecutor) runBatch(ctx context.Context, ec *ExecContext, pool *TaskPool, tasks []schema.PlanTask) []schema.WorkerOutput {
	if len(tasks) == 0 {
		return nil
	}

	results := make([]schema.WorkerOutput, len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		err := pool.Submit(ctx, func(taskCtx context.Context) error {
			defer wg.Done()
			results[i] = e.runTask(taskCtx, ec, task)
			return nil
		})
		if err != nil {
			wg.Done()
			results[i] = schema.WorkerOutput{
				TaskID: task.ID,
				Status: schema.WorkerStatusFailed,
				Error:  err.Error(),
			}
		}
	}

	wg.Wait()
	return results
}

// runTask resolves or mints a worker star for the task and executes it
// against a narrowed sub-context.
func (e *ExecutionExecutor) runTask(ctx context.Context, ec *ExecContext, task schema.PlanTask) schema.WorkerOutput {
	star := ec.FindStarForTask(task.Description)
	if star == nil {
		created, err := ec.CreateDynamicStar(ctx, task)
		if err != nil {
			return schema.WorkerOutput{
				TaskID: task.ID,
				Status: schema.WorkerStatusFailed,
				Error:  err.Error(),
			}
		}
		star = created
	}

	sub := ec.Fork()
	sub.Task = task.Description
	sub.SetCurrentNode(star.ID)
	vars := make(map[string]any, len(ec.Variables)+1)
	for k, v := range ec.Variables {
		vars[k] = v
	}
	vars["task_id"] = task.ID
	sub.Variables = vars

	res, err := e.worker.Execute(ctx, sub, star)
	if err != nil {
		return schema.WorkerOutput{
			TaskID: task.ID,
			Status: schema.WorkerStatusFailed,
			Error:  err.Error(),
		}
	}

	out := *res.Output.Worker
	if out.TaskID == "" {
		out.TaskID = task.ID
	}
	return out
}
