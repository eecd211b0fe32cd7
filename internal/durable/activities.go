package durable

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/antigravity-dev/sfbench/internal/config"
	"github.com/antigravity-dev/sfbench/internal/orgprovider"
	"github.com/antigravity-dev/sfbench/internal/patch"
	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
	"github.com/antigravity-dev/sfbench/internal/task"
	"github.com/antigravity-dev/sfbench/internal/workspace"
)

// Activities holds the dependencies Temporal activity methods need: the
// same gateway and org provider the in-process backend uses.
type Activities struct {
	Cfg    *config.Config
	Runner subprocess.Runner
	Orgs   *orgprovider.Provider
	Logger *slog.Logger
}

func (a *Activities) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// SetupActivity clones the task repository, provisions (or adopts) the
// scratch org, and returns the state later phases operate on.
func (a *Activities) SetupActivity(ctx context.Context, req EvaluationRequest) (*EvalState, error) {
	t := &req.Task
	ws := workspace.New(a.Runner, a.Cfg.Paths.Workspace, t.InstanceID,
		a.Cfg.Timeouts.Clone.Duration, a.Cfg.Timeouts.Checkout.Duration, a.logger())
	if err := ws.Prepare(ctx, t.RepoURL, t.BaseCommit); err != nil {
		return nil, err
	}

	state := &EvalState{InstanceID: t.InstanceID, WorkspaceDir: ws.Dir}

	if req.SharedOrgAlias != "" {
		state.OrgAlias = req.SharedOrgAlias
		state.OrgUsername = req.SharedOrgAlias
		state.OrgShared = true
		return state, nil
	}

	// LWC tasks validate locally through npm; no org is needed.
	if req.Task.TaskType == task.TypeLWC {
		_, err := a.Runner.Run(ctx, subprocess.Command{
			Argv:    []string{"npm", "install"},
			Dir:     ws.Dir,
			Timeout: time.Duration(t.Timeouts.Setup) * time.Second,
		})
		return state, err
	}

	alias := fmt.Sprintf("sfbench-%s-%d", t.InstanceID, activity.GetInfo(ctx).Attempt)
	org, err := a.Orgs.Create(ctx, alias, ws.Dir)
	if err != nil {
		return state, err
	}
	state.OrgUsername = org.Username
	state.OrgAlias = org.Alias
	return state, nil
}

// PatchActivity runs the patch pipeline against the prepared workspace.
func (a *Activities) PatchActivity(ctx context.Context, state *EvalState, patchDiff string) error {
	if patchDiff == "" {
		return nil
	}
	policy := subprocess.FromConfig(a.Cfg.Retries.PatchPipeline)
	_, err := patch.Run(ctx, a.Runner, policy, state.WorkspaceDir, patchDiff,
		a.Cfg.Timeouts.PatchApply.Duration, a.logger())
	return err
}

// EvaluateActivity runs only the evaluate step of the task's variant
// against the workspace and org the setup activity prepared. Errors are
// folded into the result status here so the workflow sees a terminal
// outcome, not a retryable activity failure, for model-attributable cases.
func (a *Activities) EvaluateActivity(ctx context.Context, req EvaluationRequest, state *EvalState) (*runner.Result, error) {
	start := time.Now()
	lc := runner.NewLifecycle(a.Cfg, a.Runner, a.Orgs, "", a.logger())

	org := &orgprovider.Org{Username: state.OrgUsername, Alias: state.OrgAlias, Shared: state.OrgShared}
	result, err := lc.Evaluate(ctx, &req.Task, org)
	if err != nil {
		return runner.ResultForError(req.Task.InstanceID, start, err), nil
	}
	return result, nil
}

// TeardownActivity deletes the task's org (never a shared one) and removes
// the workspace. Failures are logged, never propagated: teardown is
// best-effort on every exit path.
func (a *Activities) TeardownActivity(ctx context.Context, state *EvalState) error {
	if state == nil {
		return nil
	}
	if state.OrgUsername != "" && !state.OrgShared {
		a.Orgs.Delete(ctx, &orgprovider.Org{Username: state.OrgUsername, Alias: state.OrgAlias})
	}
	ws := workspace.New(a.Runner, a.Cfg.Paths.Workspace, state.InstanceID,
		a.Cfg.Timeouts.Clone.Duration, a.Cfg.Timeouts.Checkout.Duration, a.logger())
	ws.Teardown()
	return nil
}
