package runner

import (
	"context"
	"strings"
	"time"
)

// apexVariant evaluates Apex tasks: clone, provision an org, deploy, then
// run the task's apex test command and parse the summary.
type apexVariant struct{}

func (a *apexVariant) Setup(ctx context.Context, env *Env) error {
	if err := cloneAndCheckout(ctx, env); err != nil {
		return err
	}
	if err := provisionOrg(ctx, env); err != nil {
		return err
	}
	return deployMetadata(ctx, env)
}

func (a *apexVariant) Evaluate(ctx context.Context, env *Env) (*Result, error) {
	start := time.Now()

	// The patch may have changed metadata; push it before testing.
	if err := deployMetadata(ctx, env); err != nil {
		return nil, err
	}

	runResult, err := runValidationCommand(ctx, env, true)
	if err != nil {
		return nil, err
	}

	summary := apexSummary(runResult.Stdout)
	status := StatusFail
	if summary.Outcome == "passed" || summary.Failing == 0 && summary.TestsRan > 0 {
		status = StatusPass
	}

	result := newResult(env.Task.InstanceID, status, time.Since(start))
	result.Details = map[string]any{
		"tests_run": summary.TestsRan,
		"passed":    summary.Passing,
		"failed":    summary.Failing,
		"outcome":   summary.Outcome,
	}
	return result, nil
}

type testSummary struct {
	Outcome  string
	TestsRan int
	Passing  int
	Failing  int
}

// apexSummary extracts the test-run summary from `sf apex run test` JSON.
func apexSummary(stdout string) testSummary {
	result, err := cliResult(stdout)
	if err != nil {
		return testSummary{}
	}
	raw, _ := result["summary"].(map[string]any)
	if raw == nil {
		return testSummary{}
	}
	outcome, _ := raw["outcome"].(string)
	return testSummary{
		Outcome:  strings.ToLower(outcome),
		TestsRan: jsonInt(raw["testsRan"]),
		Passing:  jsonInt(raw["passing"]),
		Failing:  jsonInt(raw["failing"]),
	}
}

func jsonInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
