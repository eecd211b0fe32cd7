// Package workspace implements the repository workspace: for each task,
// clone the task's repo at a pinned revision into a task-scoped directory,
// then tear it down on completion. All git operations run through the
// subprocess gateway so they share its timeout and classification rules.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// Workspace owns one task's clone directory exclusively for the duration of
// one evaluation.
type Workspace struct {
	Dir string

	gateway         subprocess.Runner
	cloneTimeout    time.Duration
	checkoutTimeout time.Duration
	logger          *slog.Logger
}

// New returns a Workspace rooted at filepath.Join(root, instanceID).
func New(gateway subprocess.Runner, root, instanceID string, cloneTimeout, checkoutTimeout time.Duration, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		Dir:             filepath.Join(root, instanceID),
		gateway:         gateway,
		cloneTimeout:    cloneTimeout,
		checkoutTimeout: checkoutTimeout,
		logger:          logger,
	}
}

// Prepare removes any pre-existing directory, clones repoURL into Dir, and
// checks out baseCommit. Scoping by instance_id prevents directory
// collisions between concurrently running tasks.
func (w *Workspace) Prepare(ctx context.Context, repoURL, baseCommit string) error {
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("workspace: removing stale directory %s: %w", w.Dir, err)
	}
	if err := os.MkdirAll(filepath.Dir(w.Dir), 0o755); err != nil {
		return fmt.Errorf("workspace: creating parent directory: %w", err)
	}

	if err := w.clone(ctx, repoURL); err != nil {
		return err
	}
	return w.checkout(ctx, baseCommit)
}

func (w *Workspace) clone(ctx context.Context, repoURL string) error {
	result, err := w.gateway.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "clone", repoURL, w.Dir},
		Timeout: w.cloneTimeout,
	})
	if err != nil {
		if errkind.IsTimeout(err) {
			return err
		}
		return &errkind.GitError{Op: "clone", StderrTail: errkind.StderrTail(result.Stderr, 500)}
	}
	return nil
}

func (w *Workspace) checkout(ctx context.Context, baseCommit string) error {
	result, err := w.gateway.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "checkout", baseCommit},
		Dir:     w.Dir,
		Timeout: w.checkoutTimeout,
	})
	if err != nil {
		if errkind.IsTimeout(err) {
			return err
		}
		return &errkind.GitError{Op: "checkout", StderrTail: errkind.StderrTail(result.Stderr, 500)}
	}
	return nil
}

// Teardown recursively removes the workspace directory. Cleanup failures are
// logged, never surfaced as a task failure.
func (w *Workspace) Teardown() {
	if err := os.RemoveAll(w.Dir); err != nil {
		w.logger.Error("workspace teardown failed", "dir", w.Dir, "error", err)
	}
}

// HeadCommit returns the current HEAD SHA of the workspace, used by audit
// records and reports for provenance.
func (w *Workspace) HeadCommit(ctx context.Context) (string, error) {
	result, err := w.gateway.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "rev-parse", "HEAD"},
		Dir:     w.Dir,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}
