package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// flowVariant evaluates Flow automation tasks: clone, provision, deploy,
// then query Flow metadata in the org — an Active flow with a matching
// developer name is the pass criterion. A flow that merely deploys but
// stays Draft has not shipped.
type flowVariant struct{}

func (f *flowVariant) Setup(ctx context.Context, env *Env) error {
	if err := cloneAndCheckout(ctx, env); err != nil {
		return err
	}
	if err := provisionOrg(ctx, env); err != nil {
		return err
	}
	return deployMetadata(ctx, env)
}

func (f *flowVariant) Evaluate(ctx context.Context, env *Env) (*Result, error) {
	start := time.Now()

	// Push the patched flow metadata before inspecting it.
	if err := deployMetadata(ctx, env); err != nil {
		return nil, err
	}

	developerName := flowDeveloperName(env)
	query := "SELECT Id, MasterLabel, Status FROM Flow"
	if developerName != "" {
		query = fmt.Sprintf("SELECT Id, MasterLabel, Status FROM Flow WHERE DeveloperName = '%s'", developerName)
	}

	runResult, err := env.Runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "data", "query", "--target-org", env.OrgTarget(), "--query", query, "--use-tooling-api", "--json"},
		Dir:      env.Workspace.Dir,
		Timeout:  env.RunTimeout(),
		WantJSON: true,
	})
	if err != nil {
		return nil, err
	}

	active, label := activeFlow(runResult.Stdout)
	status := StatusFail
	if active {
		status = StatusPass
	}

	result := newResult(env.Task.InstanceID, status, time.Since(start))
	result.Details = map[string]any{
		"flow_active":    active,
		"flow_label":     label,
		"developer_name": developerName,
	}
	return result, nil
}

// flowDeveloperName reads the target flow's developer name from the task's
// functional-validation recipe or metadata.
func flowDeveloperName(env *Env) string {
	if fv := env.Task.FunctionalValidation; fv != nil && fv.FlowName != "" {
		return fv.FlowName
	}
	return env.Task.Metadata["flow_name"]
}

// activeFlow reports whether the query returned a record with Status Active,
// and that record's label.
func activeFlow(stdout string) (bool, string) {
	result, err := cliResult(stdout)
	if err != nil {
		return false, ""
	}
	records, _ := result["records"].([]any)
	for _, raw := range records {
		record, _ := raw.(map[string]any)
		if record == nil {
			continue
		}
		if status, _ := record["Status"].(string); status == "Active" {
			label, _ := record["MasterLabel"].(string)
			return true, label
		}
	}
	return false, ""
}
