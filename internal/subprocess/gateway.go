// Package subprocess is the gateway through which every external CLI
// invocation — git, the platform CLI, npm, GNU patch — is run. It always
// spawns at most one child process per call, kills the child on timeout,
// and never returns partial output without an accompanying exit code.
package subprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
)

// Command describes one external invocation.
type Command struct {
	Argv     []string      // argv[0] is the program
	Dir      string        // working directory, or "" for the current one
	Timeout  time.Duration // wall-clock bound; zero means no bound
	Stdin    string        // piped to the child's stdin when non-empty
	WantJSON bool          // apply the JSON-authoritative success policy
}

// Result is the buffered-to-completion outcome of one Command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// JSONSucceeded is true when WantJSON was set and stdout carried a JSON
	// object whose top-level status==0 or which has a "result" key — the
	// ground truth for scratch-org creation and deploys.
	JSONSucceeded bool
}

// Succeeded reports whether the command should be treated as successful,
// applying the JSON-authoritative policy before falling back to exit code.
func (r Result) Succeeded() bool {
	if r.JSONSucceeded {
		return true
	}
	return r.ExitCode == 0
}

// Runner executes one Command to completion. Both the host-process Gateway
// and the ContainerRunner satisfy it, so callers stay agnostic to which
// strategy executes their commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Gateway runs commands and classifies their outcomes. Safe for concurrent
// use; a single package-level mutex additionally serializes scratch-org
// creation calls because the platform CLI's org-create API
// is rate-limited per DevHub.
type Gateway struct {
	warningPrefixes []string
}

var orgCreationMu sync.Mutex

// New returns a Gateway that strips the given stderr warning-line prefixes
// before classification (the "Warning: @salesforce/cli update available"
// noise the CLI emits on stderr, made configurable).
func New(warningPrefixes []string) *Gateway {
	return &Gateway{warningPrefixes: warningPrefixes}
}

// Run executes cmd, enforcing cmd.Timeout, and classifies the result.
// Scratch-org creation commands are detected from argv and serialized
// against the shared creation mutex.
func (g *Gateway) Run(ctx context.Context, cmd Command) (Result, error) {
	if isOrgCreateCommand(cmd.Argv) {
		orgCreationMu.Lock()
		defer orgCreationMu.Unlock()
	}
	return g.run(ctx, cmd)
}

func (g *Gateway) run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Argv) == 0 {
		return Result{}, fmt.Errorf("subprocess: empty argv")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	child := exec.CommandContext(runCtx, cmd.Argv[0], cmd.Argv[1:]...)
	child.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	child.Stdout = &stdout
	child.Stderr = &stderr
	if cmd.Stdin != "" {
		child.Stdin = strings.NewReader(cmd.Stdin)
	}

	start := time.Now()
	err := child.Run()
	duration := time.Since(start)

	stderrText := stripWarnings(stderr.String(), g.warningPrefixes)

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderrText, Duration: duration},
			&errkind.TimeoutError{Command: strings.Join(cmd.Argv, " "), Timeout: cmd.Timeout.String()}
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: stderrText, Duration: duration},
				fmt.Errorf("subprocess: failed to execute %s: %w", cmd.Argv[0], err)
		}
	}

	result := Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderrText, Duration: duration}

	if cmd.WantJSON {
		result.JSONSucceeded = jsonIndicatesSuccess(result.Stdout)
	}

	if result.Succeeded() {
		return result, nil
	}

	return result, classifyFailure(cmd, result)
}

// jsonIndicatesSuccess scans stdout line by line for the first line
// beginning with '{'; if it parses and status==0 or a "result" key is
// present, the command is treated as succeeded regardless of exit code.
func jsonIndicatesSuccess(stdout string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			continue
		}
		if status, ok := payload["status"]; ok {
			if n, ok := asFloat(status); ok && n == 0 {
				return true
			}
		}
		if _, ok := payload["result"]; ok {
			return true
		}
		return false
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func stripWarnings(stderr string, prefixes []string) string {
	if len(prefixes) == 0 {
		return stderr
	}
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		dropped := false
		for _, prefix := range prefixes {
			if strings.Contains(line, prefix) {
				dropped = true
				break
			}
		}
		if !dropped {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func isOrgCreateCommand(argv []string) bool {
	joined := strings.ToLower(strings.Join(argv, " "))
	if strings.Contains(joined, "org delete") {
		return false
	}
	return strings.Contains(joined, "org create") || strings.Contains(joined, "scratch")
}

var platformLimitationSubstrings = []string{
	"package id",
	"ancestorversion",
	"collections",
	"ac -",
}

// classifyFailure turns a non-successful Result into the appropriate typed
// error from internal/errkind, applying the org-creation and
// platform-limitation rules.
func classifyFailure(cmd Command, result Result) error {
	stderrLower := strings.ToLower(result.Stderr)
	command := strings.Join(cmd.Argv, " ")
	tail := errkind.StderrTail(result.Stderr, 500)

	if isOrgCreateCommand(cmd.Argv) {
		for _, sub := range platformLimitationSubstrings {
			if strings.Contains(stderrLower, sub) {
				return &errkind.PlatformLimitationError{Command: command, StderrTail: tail, Matched: sub}
			}
		}
		return &errkind.OrgCreationError{Command: command, ExitCode: result.ExitCode, StderrTail: tail}
	}

	return &errkind.CommandError{Command: command, ExitCode: result.ExitCode, StderrTail: tail}
}
