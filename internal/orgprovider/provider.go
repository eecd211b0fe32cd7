// Package orgprovider creates, addresses, and deletes the ephemeral cloud
// workspaces ("scratch orgs") a task runner deploys into. Creation is
// serialized by the subprocess gateway's org-creation mutex because the
// platform's org-create API is rate-limited per DevHub.
package orgprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// Org describes one provisioned scratch org. Username is the preferred
// address for subsequent commands; Alias is the fallback.
type Org struct {
	Username string
	Alias    string
	OrgID    string
	// Shared is true when the alias was externally provided. A shared org is
	// never deleted on teardown — ownership belongs to the caller.
	Shared bool
}

// Provider provisions and tears down scratch orgs through the subprocess
// gateway's JSON-authoritative policy.
type Provider struct {
	runner        subprocess.Runner
	templateDir   string
	durationDays  int
	createTimeout time.Duration
	deleteTimeout time.Duration
	retry         subprocess.RetryPolicy
	logger        *slog.Logger
}

// New returns a Provider. templateDir is searched for a canonical
// project-scratch-def.json; when absent the org is created without a
// definition file.
func New(runner subprocess.Runner, templateDir string, durationDays int, createTimeout, deleteTimeout time.Duration, retry subprocess.RetryPolicy, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if durationDays <= 0 {
		durationDays = 1
	}
	return &Provider{
		runner:        runner,
		templateDir:   templateDir,
		durationDays:  durationDays,
		createTimeout: createTimeout,
		deleteTimeout: deleteTimeout,
		retry:         retry,
		logger:        logger,
	}
}

// Shared wraps an externally created alias as an Org the runner may use but
// must not delete.
func Shared(alias string) *Org {
	return &Org{Alias: alias, Username: alias, Shared: true}
}

// Create provisions a scratch org with the given alias, retrying transient
// failures with exponential backoff. PlatformLimitationError is never
// retried: the model's solution needs platform features the workspace cannot
// provide, which is a model-attributable failure, not tool trouble.
func (p *Provider) Create(ctx context.Context, alias, cwd string) (*Org, error) {
	argv := []string{
		"sf", "org", "create", "scratch",
		"--alias", alias,
		"--duration-days", strconv.Itoa(p.durationDays),
	}
	if def := p.definitionFile(); def != "" {
		argv = append(argv, "--definition-file", def)
	}
	argv = append(argv, "--set-default", "--json")

	var org *Org
	err := subprocess.Do(ctx, p.retry, retryOrgCreation, func() error {
		result, runErr := p.runner.Run(ctx, subprocess.Command{
			Argv:     argv,
			Dir:      cwd,
			Timeout:  p.createTimeout,
			WantJSON: true,
		})
		if runErr != nil {
			return runErr
		}
		created, parseErr := parseCreateResult(result.Stdout)
		if parseErr != nil {
			return &errkind.OrgCreationError{
				Command:    strings.Join(argv, " "),
				ExitCode:   result.ExitCode,
				StderrTail: parseErr.Error(),
			}
		}
		created.Alias = alias
		org = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("scratch org created", "alias", alias, "username", org.Username)
	return org, nil
}

func retryOrgCreation(err error) bool {
	switch err.(type) {
	case *errkind.PlatformLimitationError:
		return false
	default:
		return true
	}
}

// definitionFile returns the canonical scratch-org definition from the
// templates directory, or "" when no template is present.
func (p *Provider) definitionFile() string {
	if p.templateDir == "" {
		return ""
	}
	path := filepath.Join(p.templateDir, "project-scratch-def.json")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// parseCreateResult extracts the org username and id from the CLI's JSON
// stdout. The username is required; creation without one is a failure even
// when the process exited zero.
func parseCreateResult(stdout string) (*Org, error) {
	payload, err := parseJSONOutput(stdout)
	if err != nil {
		return nil, err
	}
	result, _ := payload["result"].(map[string]any)
	if result == nil {
		return nil, fmt.Errorf("no result object in org create output")
	}
	username, _ := result["username"].(string)
	if username == "" {
		return nil, fmt.Errorf("no username in org create response")
	}
	orgID, _ := result["orgId"].(string)
	return &Org{Username: username, OrgID: orgID}, nil
}

// parseJSONOutput finds and decodes the first JSON object line in stdout.
func parseJSONOutput(stdout string) (map[string]any, error) {
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			return nil, fmt.Errorf("invalid JSON in CLI output: %w", err)
		}
		return payload, nil
	}
	// Some CLI versions pretty-print the object across lines; fall back to
	// decoding the whole buffer from the first brace.
	if idx := strings.Index(stdout, "{"); idx >= 0 {
		var payload map[string]any
		if err := json.Unmarshal([]byte(stdout[idx:]), &payload); err == nil {
			return payload, nil
		}
	}
	return nil, fmt.Errorf("no JSON object found in CLI output")
}

// UsernameForAlias resolves a scratch-org alias to its username via the
// CLI's org registry. Returns "" when the alias is unknown.
func (p *Provider) UsernameForAlias(ctx context.Context, alias string) (string, error) {
	result, err := p.runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "org", "list", "--json"},
		Timeout:  30 * time.Second,
		WantJSON: true,
	})
	if err != nil {
		return "", err
	}
	payload, err := parseJSONOutput(result.Stdout)
	if err != nil {
		return "", err
	}
	res, _ := payload["result"].(map[string]any)
	scratchOrgs, _ := res["scratchOrgs"].([]any)
	for _, raw := range scratchOrgs {
		org, _ := raw.(map[string]any)
		if org == nil {
			continue
		}
		if a, _ := org["alias"].(string); a == alias {
			username, _ := org["username"].(string)
			return username, nil
		}
	}
	return "", nil
}

// Delete tears down a scratch org. Best-effort: failures are logged, never
// surfaced, and a shared org is never deleted at all.
func (p *Provider) Delete(ctx context.Context, org *Org) {
	if org == nil {
		return
	}
	if org.Shared {
		p.logger.Info("skipping deletion of shared scratch org", "alias", org.Alias)
		return
	}
	target := org.Username
	if target == "" {
		target = org.Alias
	}
	_, err := p.runner.Run(ctx, subprocess.Command{
		Argv:    []string{"sf", "org", "delete", "scratch", "--target-org", target, "--no-prompt"},
		Timeout: p.deleteTimeout,
	})
	if err != nil {
		p.logger.Warn("failed to delete scratch org", "target", target, "error", err)
		return
	}
	p.logger.Info("scratch org deleted", "target", target)
}
