package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
)

// architectureVariant evaluates architecture and cloud-design tasks
// (ARCHITECTURE plus the cloud-specific aliases). Evaluation is a composite
// score: plan-document presence 20%, deploy success 30%, the task's
// validation command 30%, expected-outcome match 20%. A composite of 0.8 or
// better passes.
type architectureVariant struct{}

func (a *architectureVariant) Setup(ctx context.Context, env *Env) error {
	if err := cloneAndCheckout(ctx, env); err != nil {
		return err
	}
	if err := provisionOrg(ctx, env); err != nil {
		return err
	}
	return deployMetadata(ctx, env)
}

func (a *architectureVariant) Evaluate(ctx context.Context, env *Env) (*Result, error) {
	start := time.Now()

	planScore := planDocScore(env.Workspace.Dir)

	deployScore := 0.0
	if err := deployMetadata(ctx, env); err == nil {
		deployScore = 1.0
	} else if errkind.IsTimeout(err) {
		return nil, err
	}

	validationScore := 0.0
	runResult, err := runValidationCommand(ctx, env, true)
	if err == nil {
		validationScore = 1.0
	} else if errkind.IsTimeout(err) {
		return nil, err
	}

	outcomeScore := outcomeMatchScore(env, runResult.Stdout)

	overall := planScore*0.2 + deployScore*0.3 + validationScore*0.3 + outcomeScore*0.2
	status := StatusFail
	if overall >= 0.8 {
		status = StatusPass
	}

	result := newResult(env.Task.InstanceID, status, time.Since(start))
	result.Details = map[string]any{
		"overall_score": overall,
		"scores": map[string]any{
			"plan":       planScore,
			"deployment": deployScore,
			"validation": validationScore,
			"outcome":    outcomeScore,
		},
	}
	return result, nil
}

// planDocScore checks for an architecture plan document in the workspace's
// conventional locations.
func planDocScore(dir string) float64 {
	candidates := []string{
		"ARCHITECTURE.md",
		"architecture.md",
		"docs/architecture.md",
		"docs/ARCHITECTURE.md",
		"design.md",
		"docs/design.md",
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(filepath.Join(dir, candidate)); err == nil && info.Size() > 0 {
			return 1.0
		}
	}
	return 0.0
}

// outcomeMatchScore checks the validation command's output against the
// task's expected outcome: full credit when every expected keyword appears,
// half when at least one does.
func outcomeMatchScore(env *Env, output string) float64 {
	expected := strings.TrimSpace(env.Task.Validation.ExpectedOutcome)
	if expected == "" {
		return 0.0
	}
	haystack := strings.ToLower(output)
	words := strings.Fields(strings.ToLower(expected))
	matched := 0
	for _, word := range words {
		if strings.Contains(haystack, word) {
			matched++
		}
	}
	switch {
	case matched == len(words):
		return 1.0
	case matched > 0:
		return 0.5
	default:
		return 0.0
	}
}
