package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/antigravity-dev/sfbench/internal/audit"
	"github.com/antigravity-dev/sfbench/internal/checkpoint"
	"github.com/antigravity-dev/sfbench/internal/config"
	"github.com/antigravity-dev/sfbench/internal/durable"
	"github.com/antigravity-dev/sfbench/internal/history"
	"github.com/antigravity-dev/sfbench/internal/orgprovider"
	"github.com/antigravity-dev/sfbench/internal/report"
	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/scheduler"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
	"github.com/antigravity-dev/sfbench/internal/task"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "", "path to TOML config file (optional)")
	tasksPath := flag.String("tasks", "tasks.json", "path to tasks file (JSON array or single object)")
	solutionsPath := flag.String("solutions", "", "solution source: directory of .patch/.diff files or a JSON map")
	modelName := flag.String("model", "unknown", "name of the model under evaluation")
	dataset := flag.String("dataset", "verified", "dataset label for the report")
	runID := flag.String("run-id", "", "run identifier (generated when empty)")
	evaluationID := flag.String("evaluation-id", "", "evaluation identifier used for checkpoint/resume (defaults to run id)")
	sharedOrg := flag.String("scratch-org-alias", "", "externally created scratch org alias; never deleted on teardown")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	workerMode := flag.Bool("worker", false, "run as a Temporal worker for the durable backend and exit")
	temporalHost := flag.String("temporal-host", "127.0.0.1:7233", "Temporal frontend address for -worker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := configureLogger(cfg.General.LogLevel, *dev || cfg.General.LogDev)
	slog.SetDefault(logger)

	gateway := subprocess.New(cfg.Dispatch.WarningPrefixes)
	var execRunner subprocess.Runner = gateway
	if cfg.Dispatch.Containerized {
		containerRunner, err := subprocess.NewContainerRunner(cfg.Dispatch.ContainerImage)
		if err != nil {
			logger.Error("containerized dispatch unavailable", "error", err)
			os.Exit(1)
		}
		execRunner = containerRunner
	}

	orgs := orgprovider.New(execRunner, cfg.OrgProvider.DefinitionTemplateDir,
		cfg.OrgProvider.DurationDays, cfg.Timeouts.OrgCreate.Duration, cfg.Timeouts.OrgDelete.Duration,
		subprocess.FromConfig(cfg.Retries.OrgCreation), logger)

	if *workerMode {
		if err := durable.StartWorker(*temporalHost, cfg, execRunner, orgs, logger); err != nil {
			logger.Error("temporal worker failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Inputs: a failure to load them exits non-zero, as do the other
	// startup failures below. Individual task failures never do.
	tasks, err := task.LoadTasks(*tasksPath)
	if err != nil {
		logger.Error("failed to load tasks", "path", *tasksPath, "error", err)
		os.Exit(1)
	}
	solutions, err := task.LoadSolutions(*solutionsPath)
	if err != nil {
		logger.Error("failed to load solutions", "path", *solutionsPath, "error", err)
		os.Exit(1)
	}

	if *runID == "" {
		*runID = uuid.NewString()
	}
	if *evaluationID == "" {
		*evaluationID = *runID
	}
	logger.Info("sfbench starting", "run_id", *runID, "model", *modelName,
		"tasks", len(tasks), "solutions", len(solutions), "workers", cfg.General.MaxWorkers)

	ctx := context.Background()

	// Preflight capacity check. Insufficient quota refuses the start;
	// an unreachable inventory is informational only.
	inventory := orgprovider.NewInventory(execRunner, logger)
	if needsOrgs(tasks) && *sharedOrg == "" {
		if err := inventory.CheckFloor(ctx, cfg.OrgProvider.DailyCapacityFloor); err != nil {
			if strings.Contains(err.Error(), "insufficient") {
				logger.Error("refusing to start", "error", err)
				os.Exit(1)
			}
			logger.Warn("capacity inventory unavailable, continuing", "error", err)
		}
	}

	evalHash, err := checkpoint.EvaluationHash(*modelName, *tasksPath, cfg)
	if err != nil {
		logger.Warn("failed to compute evaluation hash", "error", err)
	}

	checkpoints, err := checkpoint.NewManager(cfg.Paths.CheckpointDir, logger)
	if err != nil {
		logger.Error("failed to initialize checkpoint manager", "error", err)
		os.Exit(1)
	}

	auditDir := filepath.Join(cfg.Paths.Logs, *runID, "audit")
	auditLog, err := audit.NewLogger(*evaluationID, auditDir, logger)
	if err != nil {
		logger.Error("failed to initialize audit logger", "error", err)
		os.Exit(1)
	}

	// Run history: a queryable record across runs, next to the canonical
	// JSON artifacts.
	var store *history.Store
	if cfg.Paths.HistoryDB != "" {
		store, err = history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			logger.Warn("run history unavailable", "error", err)
			store = nil
		} else {
			defer store.Close()
			if err := store.StartRun(*runID, *evaluationID, *modelName, *dataset, evalHash, len(tasks)); err != nil {
				logger.Warn("failed to record run start", "error", err)
			}
		}
	}

	// recordResult runs once per completed task on either backend: the
	// audit record, the organized instance log, and the history row.
	recordResult := func(t *task.Task, result *runner.Result) {
		record := auditLog.Create(*modelName, t.InstanceID, t.ProblemDescription, solutions[t.InstanceID])
		for _, line := range result.ExecutionLog {
			auditLog.LogExecution(record, "INFO", line)
		}
		if result.Functional != nil {
			auditLog.SetValidationResults(record, map[string]any{
				"score":    result.Functional.Score,
				"resolved": result.Functional.Resolved(),
				"status":   result.Functional.OverallStatus,
			})
		}
		auditLog.Finalize(record, string(result.Status), evalHash)
		writeInstanceLog(cfg.Paths.Logs, *runID, *modelName, t.InstanceID, result, logger)

		if store != nil {
			row := history.TaskRecord{
				RunID:           *runID,
				TaskID:          t.InstanceID,
				TaskType:        string(t.TaskType),
				Status:          string(result.Status),
				DurationSeconds: result.DurationSeconds,
				ErrorMessage:    result.ErrorMessage,
			}
			if result.Functional != nil {
				row.Score = result.Functional.Score
				row.Resolved = result.Functional.Resolved()
			} else {
				row.Resolved = result.Status == runner.StatusPass
			}
			if err := store.RecordTask(row); err != nil {
				logger.Warn("failed to record task history", "task", t.InstanceID, "error", err)
			}
		}
	}

	var results []*runner.Result
	if cfg.General.Backend == "durable" {
		c, err := client.Dial(client.Options{HostPort: *temporalHost})
		if err != nil {
			logger.Error("failed to dial temporal for durable backend", "error", err)
			os.Exit(1)
		}
		defer c.Close()

		results = durable.RunAll(ctx, c, tasks, solutions, *modelName, *sharedOrg, cfg.General.MaxWorkers, logger)

		taskByID := make(map[string]*task.Task, len(tasks))
		for i := range tasks {
			taskByID[tasks[i].InstanceID] = &tasks[i]
		}
		for _, result := range results {
			if t := taskByID[result.TaskID]; t != nil {
				recordResult(t, result)
			}
			writeResultFile(cfg.Paths.Results, result, logger)
		}
		writeSummaryFile(cfg.Paths.Results, results, logger)
	} else {
		lifecycle := runner.NewLifecycle(cfg, execRunner, orgs, *sharedOrg, logger)
		engine := scheduler.New(cfg, lifecycle, checkpoints, *evaluationID, logger)
		engine.Observe(recordResult)

		results, err = engine.Run(ctx, tasks, solutions)
		if err != nil {
			logger.Error("scheduler failed", "error", err)
			os.Exit(1)
		}
	}

	if store != nil {
		stats := scheduler.Summarize(results)
		if err := store.CompleteRun(*runID, stats.Passed, stats.Failed, stats.Timeout, stats.Error, stats.PassRate); err != nil {
			logger.Warn("failed to record run completion", "error", err)
		}
	}

	// The canonical schema-v2 report plus its markdown rendering.
	rpt := report.New(*runID, *modelName, *dataset, configAsMap(cfg))
	rpt.EvaluationHash = evalHash
	rpt.Environment = environmentSnapshot()
	for _, result := range results {
		rpt.AddInstance(report.InstanceFromResult(*modelName, result, result.Functional, solutions[result.TaskID]))
	}
	files, err := report.Emit(rpt, cfg.Paths.Results)
	if err != nil {
		logger.Error("failed to emit report", "error", err)
		os.Exit(1)
	}
	logger.Info("run complete", "report", files["json"], "summary", files["markdown"],
		"resolved", rpt.Summary.ResolvedInstances, "total", rpt.Summary.TotalInstances)
}

// needsOrgs reports whether any task will provision a scratch org.
func needsOrgs(tasks []task.Task) bool {
	for _, t := range tasks {
		if t.TaskType != task.TypeLWC {
			return true
		}
	}
	return false
}

// writeInstanceLog drops the per-task result under the organized log tree:
// logs/<run_id>/<model>/<instance_id>/run_instance.log.
func writeInstanceLog(logsDir, runID, modelName, instanceID string, result *runner.Result, logger *slog.Logger) {
	dir := filepath.Join(logsDir, runID, modelName, instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create instance log directory", "dir", dir, "error", err)
		return
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "run_instance.log"), data, 0o644); err != nil {
		logger.Warn("failed to write instance log", "error", err)
	}
	if result.Functional != nil {
		if data, err := json.MarshalIndent(result.Functional, "", "  "); err == nil {
			_ = os.WriteFile(filepath.Join(dir, "functional_validation.log"), data, 0o644)
		}
	}
}

// writeResultFile persists one result to <results>/<task_id>.json for the
// durable backend; the pool backend's scheduler does this itself.
func writeResultFile(resultsDir string, result *runner.Result, logger *slog.Logger) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		logger.Warn("failed to create results directory", "error", err)
		return
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(resultsDir, result.TaskID+".json"), data, 0o644); err != nil {
		logger.Warn("failed to write result file", "task", result.TaskID, "error", err)
	}
}

func writeSummaryFile(resultsDir string, results []*runner.Result, logger *slog.Logger) {
	summary := struct {
		Statistics scheduler.Summary `json:"statistics"`
		Results    []*runner.Result  `json:"results"`
	}{Statistics: scheduler.Summarize(results), Results: results}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(resultsDir, "summary.json"), data, 0o644); err != nil {
		logger.Warn("failed to write summary", "error", err)
	}
}

// configAsMap renders the effective config into the report's config block.
func configAsMap(cfg *config.Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// environmentSnapshot captures a minimal reproducibility record. Secrets
// are never read here: only non-sensitive runtime facts are included.
func environmentSnapshot() map[string]string {
	snapshot := map[string]string{}
	if hostname, err := os.Hostname(); err == nil {
		snapshot["hostname"] = hostname
	}
	if wd, err := os.Getwd(); err == nil {
		snapshot["working_dir"] = wd
	}
	return snapshot
}
