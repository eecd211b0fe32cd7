package durable

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/antigravity-dev/sfbench/internal/config"
	"github.com/antigravity-dev/sfbench/internal/orgprovider"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// StartWorker connects to Temporal and serves the evaluation task queue.
// The gateway and org provider are injected so activities share the same
// execution strategy and creation mutex as the in-process backend.
func StartWorker(hostPort string, cfg *config.Config, runner subprocess.Runner, orgs *orgprovider.Provider, logger *slog.Logger) error {
	if hostPort == "" {
		hostPort = "127.0.0.1:7233"
	}
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return fmt.Errorf("durable: dialing temporal at %s: %w", hostPort, err)
	}
	defer c.Close()

	w := worker.New(c, TaskQueue, worker.Options{})

	acts := &Activities{Cfg: cfg, Runner: runner, Orgs: orgs, Logger: logger}

	w.RegisterWorkflow(TaskEvaluationWorkflow)
	w.RegisterActivity(acts.SetupActivity)
	w.RegisterActivity(acts.PatchActivity)
	w.RegisterActivity(acts.EvaluateActivity)
	w.RegisterActivity(acts.TeardownActivity)

	if logger != nil {
		logger.Info("temporal worker started", "task_queue", TaskQueue, "host", hostPort)
	}
	return w.Run(worker.InterruptCh())
}
