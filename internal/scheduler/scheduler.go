// Package scheduler dispatches evaluation tasks to a bounded worker pool,
// persists every result to disk as it lands, and keeps the checkpoint
// current so an interrupted run can resume.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/antigravity-dev/sfbench/internal/checkpoint"
	"github.com/antigravity-dev/sfbench/internal/config"
	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// TaskRunner evaluates one task. runner.Lifecycle is the production
// implementation; tests substitute their own.
type TaskRunner interface {
	Run(ctx context.Context, t *task.Task, patchDiff string) *runner.Result
}

// Engine owns the tasks and results of one evaluation run.
type Engine struct {
	cfg          *config.Config
	taskRunner   TaskRunner
	checkpoints  *checkpoint.Manager
	evaluationID string
	logger       *slog.Logger

	// observers are notified of each result as it lands, after it has been
	// persisted. Used for run-history recording and audit finalization.
	observers []func(t *task.Task, result *runner.Result)

	// resultMu serializes result writes: the per-task JSON files, the
	// summary aggregate, and the checkpoint rewrite.
	resultMu sync.Mutex
	results  []*runner.Result
	byTask   map[string]*runner.Result
}

// New returns an Engine. checkpoints may be nil to disable resume.
func New(cfg *config.Config, taskRunner TaskRunner, checkpoints *checkpoint.Manager, evaluationID string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:          cfg,
		taskRunner:   taskRunner,
		checkpoints:  checkpoints,
		evaluationID: evaluationID,
		logger:       logger,
		byTask:       map[string]*runner.Result{},
	}
}

// Observe registers a callback invoked, under the result lock, for every
// freshly completed task.
func (e *Engine) Observe(fn func(t *task.Task, result *runner.Result)) {
	e.observers = append(e.observers, fn)
}

// Run evaluates every task not already completed in a valid checkpoint,
// using a bounded pool of cfg.General.MaxWorkers workers. Each worker runs
// one task from setup through teardown before pulling the next. Results are
// written to disk immediately on completion; ordering across tasks is
// completion order and deliberately unspecified.
func (e *Engine) Run(ctx context.Context, tasks []task.Task, solutions task.Solutions) ([]*runner.Result, error) {
	if err := os.MkdirAll(e.cfg.Paths.Results, 0o755); err != nil {
		return nil, fmt.Errorf("scheduler: creating results directory: %w", err)
	}

	completed := e.loadCheckpoint()

	pending := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if completed[t.InstanceID] {
			e.logger.Info("skipping completed task", "task", t.InstanceID)
			continue
		}
		pending = append(pending, t)
	}

	jobs := make(chan task.Task)
	var wg sync.WaitGroup
	workers := e.cfg.General.MaxWorkers
	if workers <= 0 {
		workers = 3
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				e.runOne(ctx, t, solutions[t.InstanceID])
			}
		}()
	}

	for _, t := range pending {
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	if err := e.writeSummary(); err != nil {
		return nil, err
	}

	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return append([]*runner.Result(nil), e.results...), nil
}

// runOne evaluates a single task and persists its result. A panicking
// runner is downgraded to an ERROR result so one broken task never takes
// down the pool.
func (e *Engine) runOne(ctx context.Context, t task.Task, patchDiff string) {
	result := e.taskRunner.Run(ctx, &t, patchDiff)
	if result == nil {
		result = &runner.Result{TaskID: t.InstanceID, Status: runner.StatusError, ErrorMessage: "runner returned no result"}
	}

	e.resultMu.Lock()
	e.results = append(e.results, result)
	e.byTask[t.InstanceID] = result
	if err := e.writeResult(result); err != nil {
		e.logger.Error("failed to persist result", "task", t.InstanceID, "error", err)
	}
	if err := e.saveCheckpoint(); err != nil {
		e.logger.Error("failed to save checkpoint", "task", t.InstanceID, "error", err)
	}
	for _, observe := range e.observers {
		observe(&t, result)
	}
	e.resultMu.Unlock()

	e.logger.Info("task completed", "task", t.InstanceID, "status", string(result.Status),
		"duration_s", result.DurationSeconds)
	fmt.Printf("Completed: %s - %s\n", t.InstanceID, result.Status)
}

// writeResult persists one result to <results>/<task_id>.json. Caller holds
// resultMu.
func (e *Engine) writeResult(result *runner.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(e.cfg.Paths.Results, result.TaskID+".json"), data, 0o644)
}

// Summary mirrors the aggregate statistics block of summary.json.
type Summary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Timeout  int     `json:"timeout"`
	Error    int     `json:"error"`
	PassRate float64 `json:"pass_rate"`
}

// Summarize computes pass/fail statistics over a result set.
func Summarize(results []*runner.Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case runner.StatusPass:
			s.Passed++
		case runner.StatusFail:
			s.Failed++
		case runner.StatusTimeout:
			s.Timeout++
		case runner.StatusError:
			s.Error++
		}
	}
	if s.Total > 0 {
		s.PassRate = math.Round(float64(s.Passed)/float64(s.Total)*10000) / 100
	}
	return s
}

func (e *Engine) writeSummary() error {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()

	summary := struct {
		Statistics Summary          `json:"statistics"`
		Results    []*runner.Result `json:"results"`
	}{
		Statistics: Summarize(e.results),
		Results:    e.results,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: encoding summary: %w", err)
	}
	path := filepath.Join(e.cfg.Paths.Results, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("scheduler: writing %s: %w", path, err)
	}
	e.logger.Info("summary saved", "path", path,
		"total", summary.Statistics.Total, "passed", summary.Statistics.Passed,
		"pass_rate", summary.Statistics.PassRate)
	return nil
}

// loadCheckpoint returns the set of already-completed task IDs from a prior
// checkpoint matching this evaluation, merging its stored results into the
// in-memory map. A checkpoint that fails integrity verification is treated
// as absent.
func (e *Engine) loadCheckpoint() map[string]bool {
	completed := map[string]bool{}
	if e.checkpoints == nil {
		return completed
	}
	cp := e.checkpoints.Load(e.evaluationID)
	if cp == nil {
		return completed
	}

	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	for _, taskID := range cp.CompletedTasks {
		completed[taskID] = true
	}
	for taskID, raw := range cp.Results {
		var result runner.Result
		if err := json.Unmarshal(raw, &result); err != nil {
			e.logger.Warn("checkpoint result unreadable, task will re-run", "task", taskID, "error", err)
			delete(completed, taskID)
			continue
		}
		e.results = append(e.results, &result)
		e.byTask[taskID] = &result
	}
	e.logger.Info("resuming from checkpoint", "evaluation_id", e.evaluationID, "completed", len(completed))
	return completed
}

// saveCheckpoint rewrites the checkpoint from the current result map.
// Caller holds resultMu.
func (e *Engine) saveCheckpoint() error {
	if e.checkpoints == nil {
		return nil
	}
	cp := &checkpoint.Checkpoint{
		EvaluationID:   e.evaluationID,
		CompletedTasks: make([]string, 0, len(e.byTask)),
		Results:        make(map[string]json.RawMessage, len(e.byTask)),
		Metadata:       map[string]any{"worker_count": e.cfg.General.MaxWorkers},
	}
	for taskID, result := range e.byTask {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		cp.CompletedTasks = append(cp.CompletedTasks, taskID)
		cp.Results[taskID] = data
	}
	return e.checkpoints.Save(cp)
}
