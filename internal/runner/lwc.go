package runner

import (
	"context"
	"time"

	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// lwcVariant evaluates Lightning Web Component tasks. No org is needed:
// setup installs npm dependencies and evaluate runs the Jest-based
// validation command, exit code zero meaning PASS.
type lwcVariant struct{}

func (l *lwcVariant) Setup(ctx context.Context, env *Env) error {
	if err := cloneAndCheckout(ctx, env); err != nil {
		return err
	}
	_, err := env.Runner.Run(ctx, subprocess.Command{
		Argv:    []string{"npm", "install"},
		Dir:     env.Workspace.Dir,
		Timeout: env.SetupTimeout(),
	})
	return err
}

func (l *lwcVariant) Evaluate(ctx context.Context, env *Env) (*Result, error) {
	start := time.Now()

	runResult, err := runValidationCommand(ctx, env, false)
	if err != nil {
		// A failing test command is a model failure, not an error; the
		// classified error carries exit code and stderr for the record.
		if runResult.ExitCode > 0 {
			result := newResult(env.Task.InstanceID, StatusFail, time.Since(start))
			result.Details = map[string]any{
				"exit_code": runResult.ExitCode,
				"stdout":    tail(runResult.Stdout, 500),
				"stderr":    tail(runResult.Stderr, 500),
			}
			return result, nil
		}
		return nil, err
	}

	result := newResult(env.Task.InstanceID, StatusPass, time.Since(start))
	result.Details = map[string]any{
		"exit_code": runResult.ExitCode,
		"stdout":    tail(runResult.Stdout, 500),
		"stderr":    tail(runResult.Stderr, 500),
	}
	return result, nil
}
