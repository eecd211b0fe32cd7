package durable

import (
	"context"
	"log/slog"
	"sync"

	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// RunAll dispatches one evaluation workflow per task and blocks until every
// workflow completes, bounded by maxParallel concurrent workflows. Tasks
// that fail to dispatch or decode surface as ERROR results; individual task
// failures never abort the batch. Resumability across process restarts
// comes from Temporal itself, which is why this path has no checkpoint
// manager.
func RunAll(ctx context.Context, c client.Client, tasks []task.Task, solutions task.Solutions, modelName, sharedOrgAlias string, maxParallel int, logger *slog.Logger) []*runner.Result {
	if logger == nil {
		logger = slog.Default()
	}
	if maxParallel <= 0 {
		maxParallel = 3
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []*runner.Result

	for i := range tasks {
		t := tasks[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			req := EvaluationRequest{
				Task:           t,
				PatchDiff:      solutions[t.InstanceID],
				ModelName:      modelName,
				SharedOrgAlias: sharedOrgAlias,
			}

			result := &runner.Result{TaskID: t.InstanceID, Status: runner.StatusError}
			run, err := StartEvaluation(ctx, c, req)
			if err != nil {
				result.ErrorMessage = err.Error()
			} else if err := run.Get(ctx, &result); err != nil {
				result = &runner.Result{TaskID: t.InstanceID, Status: runner.StatusError, ErrorMessage: err.Error()}
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			logger.Info("task completed", "task", t.InstanceID, "status", string(result.Status), "backend", "durable")
		}()
	}
	wg.Wait()
	return results
}
