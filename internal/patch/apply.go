package patch

import (
	"context"
	"log/slog"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// strategy names, in ladder order.
const (
	StrategyStrict     = "git-apply-strict"
	StrategyReject     = "git-apply-reject"
	StrategyThreeWay   = "git-apply-3way"
	StrategyFuzzyPatch = "gnu-patch-fuzzy"
)

type strategyFn func(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration) (subprocess.Result, error)

var ladder = []struct {
	name string
	run  strategyFn
}{
	{StrategyStrict, runGitApplyStrict},
	{StrategyReject, runGitApplyReject},
	{StrategyThreeWay, runGitApplyThreeWay},
	{StrategyFuzzyPatch, runGNUPatchFuzzy},
}

// Apply feeds the cleaned, structure-checked patch text on stdin to each
// strategy in the ladder, in dir, stopping at the first success. Before
// trying any strategy it runs a non-mutating `git apply --check` probe whose
// failure is logged at INFO and does not short-circuit the ladder.
//
// Exhaustion of all four strategies surfaces as a *errkind.PatchApplicationError
// (model-attributable FAIL), whether every strategy timed out or simply
// failed to apply — either way the ladder has nothing left to try.
func Apply(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	probeErr := probeCheck(ctx, gw, dir, text, timeout)
	if probeErr != nil {
		logger.Info("patch: git apply --check probe failed, continuing ladder", "error", probeErr)
	}

	allTimedOut := true
	tried := make([]string, 0, len(ladder))

	for _, s := range ladder {
		tried = append(tried, s.name)
		_, err := s.run(ctx, gw, dir, text, timeout)
		if err == nil {
			return s.name, nil
		}
		if !errkind.IsTimeout(err) {
			allTimedOut = false
		}
		// A single strategy's timeout is tool trouble, not necessarily a
		// patch-content failure; keep trying the remaining strategies
		// regardless before deciding how to classify the overall failure.
	}

	if allTimedOut {
		return "", &errkind.PatchApplicationError{Reason: "every apply strategy timed out", StrategiesTried: tried}
	}
	return "", &errkind.PatchApplicationError{Reason: "no strategy could apply the patch", StrategiesTried: tried}
}

func probeCheck(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration) error {
	_, err := gw.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "apply", "--check"},
		Dir:     dir,
		Timeout: timeout,
		Stdin:   text,
	})
	return err
}

func runGitApplyStrict(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration) (subprocess.Result, error) {
	return gw.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "apply", "--whitespace=fix", "--ignore-whitespace"},
		Dir:     dir,
		Timeout: timeout,
		Stdin:   text,
	})
}

func runGitApplyReject(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration) (subprocess.Result, error) {
	return gw.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "apply", "--whitespace=fix", "--ignore-whitespace", "--reject"},
		Dir:     dir,
		Timeout: timeout,
		Stdin:   text,
	})
}

func runGitApplyThreeWay(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration) (subprocess.Result, error) {
	return gw.Run(ctx, subprocess.Command{
		Argv:    []string{"git", "apply", "--3way", "--whitespace=fix"},
		Dir:     dir,
		Timeout: timeout,
		Stdin:   text,
	})
}

func runGNUPatchFuzzy(ctx context.Context, gw subprocess.Runner, dir, text string, timeout time.Duration) (subprocess.Result, error) {
	return gw.Run(ctx, subprocess.Command{
		Argv:    []string{"patch", "--batch", "--fuzz=5", "-p1"},
		Dir:     dir,
		Timeout: timeout,
		Stdin:   text,
	})
}
