package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/antigravity-dev/sfbench/internal/config"
	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/orgprovider"
	"github.com/antigravity-dev/sfbench/internal/patch"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
	"github.com/antigravity-dev/sfbench/internal/task"
	"github.com/antigravity-dev/sfbench/internal/validator"
	"github.com/antigravity-dev/sfbench/internal/workspace"
)

// Env is the per-task execution environment a variant operates in. The
// lifecycle driver owns its construction and teardown; variants only read it
// and populate Org during setup.
type Env struct {
	Task      *task.Task
	Workspace *workspace.Workspace
	Org       *orgprovider.Org
	Runner    subprocess.Runner
	Orgs      *orgprovider.Provider
	Logger    *slog.Logger

	setupTimeout time.Duration
	runTimeout   time.Duration
	gitRetry     subprocess.RetryPolicy
}

// SetupTimeout is the task's setup budget.
func (e *Env) SetupTimeout() time.Duration { return e.setupTimeout }

// RunTimeout is the task's evaluate budget.
func (e *Env) RunTimeout() time.Duration { return e.runTimeout }

// OrgTarget addresses the task's org: username preferred, alias fallback.
func (e *Env) OrgTarget() string {
	if e.Org == nil {
		return ""
	}
	if e.Org.Username != "" {
		return e.Org.Username
	}
	return e.Org.Alias
}

// variant is one task-type's distinguishing behavior. Teardown is not part
// of the interface: the driver supplies it once, for every variant.
type variant interface {
	Setup(ctx context.Context, env *Env) error
	Evaluate(ctx context.Context, env *Env) (*Result, error)
}

// Lifecycle drives a task from clone to teardown. One Lifecycle serves many
// tasks; all per-task state lives in the Env.
type Lifecycle struct {
	cfg    *config.Config
	runner subprocess.Runner
	orgs   *orgprovider.Provider
	logger *slog.Logger

	// sharedOrgAlias, when set, is an externally created org injected into
	// every task. The driver never deletes it.
	sharedOrgAlias string
}

// NewLifecycle returns a driver wired to the given gateway and org provider.
func NewLifecycle(cfg *config.Config, runner subprocess.Runner, orgs *orgprovider.Provider, sharedOrgAlias string, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		cfg:            cfg,
		runner:         runner,
		orgs:           orgs,
		logger:         logger,
		sharedOrgAlias: sharedOrgAlias,
	}
}

// Run evaluates one task, applying patchDiff when non-empty. The returned
// Result is always non-nil; errors are folded into its status per the
// attribution rule: model-attributable failures are FAIL, subprocess
// timeouts are TIMEOUT, everything else is ERROR.
func (l *Lifecycle) Run(ctx context.Context, t *task.Task, patchDiff string) (result *Result) {
	start := time.Now()
	logger := l.logger.With("task", t.InstanceID, "type", string(t.TaskType))

	v, err := l.variantFor(t.TaskType)
	if err != nil {
		return failWith(t.InstanceID, StatusError, start, err.Error())
	}

	env := &Env{
		Task: t,
		Workspace: workspace.New(l.runner, l.cfg.Paths.Workspace, t.InstanceID,
			l.cfg.Timeouts.Clone.Duration, l.cfg.Timeouts.Checkout.Duration, logger),
		Runner:       l.runner,
		Orgs:         l.orgs,
		Logger:       logger,
		setupTimeout: time.Duration(t.Timeouts.Setup) * time.Second,
		runTimeout:   time.Duration(t.Timeouts.Run) * time.Second,
		gitRetry:     subprocess.FromConfig(l.cfg.Retries.GitOperations),
	}
	if l.sharedOrgAlias != "" {
		env.Org = orgprovider.Shared(l.sharedOrgAlias)
	}

	var execLog []string
	note := func(format string, args ...any) {
		execLog = append(execLog, fmt.Sprintf(format, args...))
	}
	defer func() {
		if result != nil {
			result.ExecutionLog = append(execLog, result.ExecutionLog...)
		}
	}()

	// Teardown runs on every exit path, including panics and early returns
	// from setup, so no scratch org or workspace directory is leaked.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("runner panicked", "panic", r)
			result = failWith(t.InstanceID, StatusError, start, fmt.Sprintf("runner panic: %v", r))
		}
		l.teardown(env)
	}()

	if err := v.Setup(ctx, env); err != nil {
		logger.Warn("setup failed", "error", err)
		note("setup failed: %v", err)
		return ResultForError(t.InstanceID, start, err)
	}
	note("setup complete, workspace %s", env.Workspace.Dir)
	if env.Org != nil {
		note("org target %s", env.OrgTarget())
	}

	if patchDiff != "" {
		policy := subprocess.FromConfig(l.cfg.Retries.PatchPipeline)
		applied, err := patch.Run(ctx, l.runner, policy, env.Workspace.Dir, patchDiff,
			l.cfg.Timeouts.PatchApply.Duration, logger)
		if err != nil {
			logger.Warn("patch application failed", "error", err)
			note("patch application failed: %v", err)
			return ResultForError(t.InstanceID, start, err)
		}
		logger.Info("patch applied", "strategy", applied.Strategy)
		note("patch applied via %s", applied.Strategy)
	}

	res, err := v.Evaluate(ctx, env)
	if err != nil {
		logger.Warn("evaluate failed", "error", err)
		note("evaluate failed: %v", err)
		return ResultForError(t.InstanceID, start, err)
	}
	note("evaluate complete: %s", string(res.Status))

	if fr := l.runFunctional(ctx, env); fr != nil {
		res.Functional = fr
		note("functional validation: %s (score %.0f)", fr.OverallStatus, fr.Score)
	}

	res.DurationSeconds = roundSeconds(time.Since(start))
	return res
}

// runFunctional computes the 100-point score for tasks that declare a
// functional_validation recipe, while the workspace and org are still
// alive. Only the types with a defined functional flow run one.
func (l *Lifecycle) runFunctional(ctx context.Context, env *Env) *validator.Result {
	if env.Task.FunctionalValidation == nil {
		return nil
	}
	fv := validator.New(l.runner, env.OrgTarget(), l.cfg.Timeouts.FunctionalTest.Duration, env.Logger)
	switch env.Task.TaskType {
	case task.TypeApex:
		return fv.ValidateApex(ctx, env.Task, env.Workspace.Dir)
	case task.TypeFlow:
		return fv.ValidateFlow(ctx, env.Task, env.Workspace.Dir)
	case task.TypeLWC:
		return fv.ValidateLWC(ctx, env.Task, env.Workspace.Dir)
	default:
		return nil
	}
}

// teardown deletes the org (never a shared one) and the workspace directory.
// Failures are logged, never surfaced.
func (l *Lifecycle) teardown(env *Env) {
	if env.Org != nil && l.orgs != nil {
		// Teardown must not be cancelled along with the task context.
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Timeouts.OrgDelete.Duration)
		defer cancel()
		l.orgs.Delete(ctx, env.Org)
	}
	if env.Workspace != nil {
		env.Workspace.Teardown()
	}
}

// Evaluate runs only the evaluate step of t's variant against an already
// prepared workspace and org. The durable backend drives setup, patching,
// and teardown as separate workflow activities and calls this in between.
func (l *Lifecycle) Evaluate(ctx context.Context, t *task.Task, org *orgprovider.Org) (*Result, error) {
	v, err := l.variantFor(t.TaskType)
	if err != nil {
		return nil, err
	}
	logger := l.logger.With("task", t.InstanceID, "type", string(t.TaskType))
	env := &Env{
		Task: t,
		Workspace: workspace.New(l.runner, l.cfg.Paths.Workspace, t.InstanceID,
			l.cfg.Timeouts.Clone.Duration, l.cfg.Timeouts.Checkout.Duration, logger),
		Org:          org,
		Runner:       l.runner,
		Orgs:         l.orgs,
		Logger:       logger,
		setupTimeout: time.Duration(t.Timeouts.Setup) * time.Second,
		runTimeout:   time.Duration(t.Timeouts.Run) * time.Second,
		gitRetry:     subprocess.FromConfig(l.cfg.Retries.GitOperations),
	}
	return v.Evaluate(ctx, env)
}

// ResultForError maps a classified error to the task's terminal status per
// the attribution rule: timeouts are TIMEOUT, model-attributable failures
// are FAIL, everything else is ERROR.
func ResultForError(taskID string, start time.Time, err error) *Result {
	switch {
	case errkind.IsTimeout(err):
		return failWith(taskID, StatusTimeout, start, err.Error())
	case errkind.IsFailAttributable(err):
		return failWith(taskID, StatusFail, start, err.Error())
	default:
		return failWith(taskID, StatusError, start, err.Error())
	}
}

func failWith(taskID string, status Status, start time.Time, message string) *Result {
	r := newResult(taskID, status, time.Since(start))
	r.ErrorMessage = message
	return r
}
