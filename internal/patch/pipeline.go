package patch

import (
	"context"
	"log/slog"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// Result is the outcome of running the full Clean -> CheckStructure -> Apply
// pipeline once.
type Result struct {
	Strategy string
	Cleaned  string
}

// Run executes the full patch pipeline: Clean, CheckStructure, then Apply
// with the 4-strategy ladder, retrying the whole pipeline up to
// policy.MaxRetries times with exponential backoff for transient exceptions
// only — patch-content failures (*errkind.PatchApplicationError) are never
// retried.
func Run(ctx context.Context, gw subprocess.Runner, policy subprocess.RetryPolicy, dir, rawDiff string, timeout time.Duration, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cleaned := Clean(rawDiff)
	checked, err := CheckStructure(cleaned)
	if err != nil {
		// Content failure before any git call: never retried.
		return Result{}, err
	}

	var out Result
	runErr := subprocess.Do(ctx, policy, isTransient, func() error {
		strategy, applyErr := Apply(ctx, gw, dir, checked, timeout, logger)
		if applyErr != nil {
			return applyErr
		}
		out = Result{Strategy: strategy, Cleaned: checked}
		return nil
	})
	if runErr != nil {
		return Result{}, runErr
	}
	return out, nil
}

// isTransient reports whether err should trigger a pipeline retry.
// *errkind.PatchApplicationError is a content failure — the ladder inside
// Apply already exhausted every strategy — so it is never retried again
// above it. Everything else (unexpected process/transport errors) is
// considered transient.
func isTransient(err error) bool {
	switch err.(type) {
	case *errkind.PatchApplicationError:
		return false
	default:
		return true
	}
}
