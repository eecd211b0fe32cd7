package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// variantFor maps a task type (including aliases) to its runner variant.
func (l *Lifecycle) variantFor(t task.Type) (variant, error) {
	switch t {
	case task.TypeApex:
		return &apexVariant{}, nil
	case task.TypeLWC:
		return &lwcVariant{}, nil
	case task.TypeDeploy, task.TypeProfile, task.TypePermissionSet:
		return &deployVariant{}, nil
	case task.TypeFlow:
		return &flowVariant{}, nil
	case task.TypeLightningPage, task.TypePageLayout, task.TypeCommunity:
		return &dryRunDeployVariant{}, nil
	case task.TypeArchitecture, task.TypeSalesCloud, task.TypeServiceCloud,
		task.TypeMarketingCloud, task.TypeCommerceCloud, task.TypePlatformCloud,
		task.TypeIntegration, task.TypeDataModel, task.TypeSecurity:
		return &architectureVariant{}, nil
	default:
		return nil, fmt.Errorf("unknown task type: %s", t)
	}
}

// cloneAndCheckout prepares the task workspace at the pinned revision,
// retrying transient git failures with backoff. Timeouts are not retried.
func cloneAndCheckout(ctx context.Context, env *Env) error {
	return subprocess.Do(ctx, env.gitRetry, func(err error) bool {
		return !errkind.IsTimeout(err)
	}, func() error {
		return env.Workspace.Prepare(ctx, env.Task.RepoURL, env.Task.BaseCommit)
	})
}

// provisionOrg creates the task's scratch org unless a shared one was
// injected. The alias is suffixed so reruns of the same task never collide
// with a half-deleted predecessor.
func provisionOrg(ctx context.Context, env *Env) error {
	if env.Org != nil {
		return nil
	}
	alias := fmt.Sprintf("sfbench-%s-%s", env.Task.InstanceID, uuid.NewString()[:8])
	org, err := env.Orgs.Create(ctx, alias, env.Workspace.Dir)
	if err != nil {
		return err
	}
	env.Org = org
	return nil
}

// deployMetadata pushes the workspace sources to the task's org.
func deployMetadata(ctx context.Context, env *Env) error {
	_, err := env.Runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "project", "deploy", "start", "--target-org", env.OrgTarget(), "--json"},
		Dir:      env.Workspace.Dir,
		Timeout:  env.SetupTimeout(),
		WantJSON: true,
	})
	return err
}

// runValidationCommand executes the task's validation command in the
// workspace with the run timeout.
func runValidationCommand(ctx context.Context, env *Env, wantJSON bool) (subprocess.Result, error) {
	argv := subprocess.SplitCommand(env.Task.Validation.Command)
	if wantJSON && !contains(argv, "--json") {
		argv = append(argv, "--json")
	}
	return env.Runner.Run(ctx, subprocess.Command{
		Argv:     argv,
		Dir:      env.Workspace.Dir,
		Timeout:  env.RunTimeout(),
		WantJSON: wantJSON,
	})
}

func contains(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag {
			return true
		}
	}
	return false
}

// cliResult decodes the first JSON object in a CLI's stdout and returns its
// "result" member.
func cliResult(stdout string) (map[string]any, error) {
	trimmed := strings.TrimSpace(stdout)
	idx := strings.Index(trimmed, "{")
	if idx < 0 {
		return nil, fmt.Errorf("no JSON in CLI output")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed[idx:]), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in CLI output: %w", err)
	}
	if result, ok := payload["result"].(map[string]any); ok {
		return result, nil
	}
	return payload, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
