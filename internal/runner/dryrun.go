package runner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// dryRunDeployVariant evaluates declarative-metadata tasks
// (LIGHTNING_PAGE, PAGE_LAYOUT, COMMUNITY): clone, provision, deploy, then
// run a non-mutating dry-run deploy and check that the fields the task
// expects are actually present in the modified sources.
type dryRunDeployVariant struct{}

func (d *dryRunDeployVariant) Setup(ctx context.Context, env *Env) error {
	if err := cloneAndCheckout(ctx, env); err != nil {
		return err
	}
	if err := provisionOrg(ctx, env); err != nil {
		return err
	}
	return deployMetadata(ctx, env)
}

func (d *dryRunDeployVariant) Evaluate(ctx context.Context, env *Env) (*Result, error) {
	start := time.Now()

	_, err := env.Runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "project", "deploy", "start", "--dry-run", "--target-org", env.OrgTarget(), "--json"},
		Dir:      env.Workspace.Dir,
		Timeout:  env.RunTimeout(),
		WantJSON: true,
	})
	dryRunPassed := err == nil
	// A failing dry-run is the model's failure to report; only a killed
	// subprocess escalates past this variant.
	if err != nil && errkind.IsTimeout(err) {
		return nil, err
	}

	missing := missingFields(env)
	status := StatusFail
	if dryRunPassed && len(missing) == 0 {
		status = StatusPass
	}

	result := newResult(env.Task.InstanceID, status, time.Since(start))
	result.Details = map[string]any{
		"dry_run_passed": dryRunPassed,
		"missing_fields": missing,
	}
	return result, nil
}

// expectedFields reads the field names the task requires from its validation
// expectations ("fields": [...]).
func expectedFields(env *Env) []string {
	raw, ok := env.Task.Validation.Expected["fields"]
	if !ok {
		return nil
	}
	items, _ := raw.([]any)
	fields := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			fields = append(fields, s)
		}
	}
	return fields
}

// missingFields scans the workspace's metadata sources for each expected
// field name and returns those not found anywhere.
func missingFields(env *Env) []string {
	fields := expectedFields(env)
	if len(fields) == 0 {
		return nil
	}

	found := make(map[string]bool, len(fields))
	root := filepath.Join(env.Workspace.Dir, "force-app")
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".xml", ".json", ".cls", ".js", ".html":
		default:
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		content := string(data)
		for _, field := range fields {
			if !found[field] && strings.Contains(content, field) {
				found[field] = true
			}
		}
		return nil
	})

	var missing []string
	for _, field := range fields {
		if !found[field] {
			missing = append(missing, field)
		}
	}
	return missing
}
