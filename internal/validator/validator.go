// Package validator computes the 100-point functional score that
// distinguishes "the code deployed" from "the code does the thing". The
// functional-outcome gate is the primary signal of model success; every
// other component is diagnostic.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antigravity-dev/sfbench/internal/subprocess"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// Validation level of a functional result.
const (
	LevelSyntax          = "syntax"
	LevelDeployment      = "deployment"
	LevelFunctional      = "functional"
	LevelProductionReady = "production_ready"
)

// Step statuses.
const (
	StepPending = "pending"
	StepPassed  = "passed"
	StepFailed  = "failed"
	StepError   = "error"
)

// Scoring weights. The functional outcome is deliberately half the total.
const (
	weightDeployment = 10.0
	weightUnitTests  = 20.0
	weightFunctional = 50.0
	weightBulk       = 10.0
	weightNoTweaks   = 10.0
)

// Step records one executed validation sub-command.
type Step struct {
	Name            string         `json:"name"`
	Command         string         `json:"command"`
	SuccessCriteria map[string]any `json:"success_criteria,omitempty"`
	Timeout         time.Duration  `json:"timeout"`
	Status          string         `json:"status"`
	ActualOutput    string         `json:"actual_output,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Duration        float64        `json:"duration"`
}

// Result is the complete functional validation outcome for one task.
type Result struct {
	TaskID          string  `json:"task_id"`
	ValidationLevel string  `json:"validation_level"`
	OverallStatus   string  `json:"overall_status"`
	Score           float64 `json:"score"`
	Steps           []Step  `json:"steps"`

	DeploymentPassed      bool `json:"deployment_passed"`
	UnitTestsPassed       bool `json:"unit_tests_passed"`
	FunctionalTestsPassed bool `json:"functional_tests_passed"`
	BulkTestsPassed       bool `json:"bulk_tests_passed"`
	NoManualTweaks        bool `json:"no_manual_tweaks"`
}

// CalculateScore sets and returns the weighted score: the sum of the weights
// whose booleans are true.
func (r *Result) CalculateScore() float64 {
	score := 0.0
	if r.DeploymentPassed {
		score += weightDeployment
	}
	if r.UnitTestsPassed {
		score += weightUnitTests
	}
	if r.FunctionalTestsPassed {
		score += weightFunctional
	}
	if r.BulkTestsPassed {
		score += weightBulk
	}
	if r.NoManualTweaks {
		score += weightNoTweaks
	}
	r.Score = score
	return score
}

// Resolved reports whether the task counts as resolved: deployment,
// unit-tests, and functional-outcome must all pass. Bulk and no-tweaks
// affect score, never resolution.
func (r *Result) Resolved() bool {
	return r.DeploymentPassed && r.UnitTestsPassed && r.FunctionalTestsPassed
}

// Validator runs functional validation steps against a provisioned scratch
// org through the subprocess gateway.
type Validator struct {
	runner      subprocess.Runner
	orgTarget   string // username preferred, alias fallback
	stepTimeout time.Duration
	logger      *slog.Logger

	// sleep is swapped out in tests; production waits for async processing.
	sleep func(d time.Duration)
}

// New returns a Validator targeting the given org.
func New(runner subprocess.Runner, orgTarget string, stepTimeout time.Duration, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if stepTimeout <= 0 {
		stepTimeout = 120 * time.Second
	}
	return &Validator{
		runner:      runner,
		orgTarget:   orgTarget,
		stepTimeout: stepTimeout,
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// ValidateApex runs the APEX flow: deploy, unit tests with coverage, optional
// test-data script, optional SOQL verification, optional bulk test.
func (v *Validator) ValidateApex(ctx context.Context, t *task.Task, repoDir string) *Result {
	result := &Result{TaskID: t.InstanceID, ValidationLevel: LevelFunctional}
	fv := t.FunctionalValidation
	if fv == nil {
		fv = &task.FunctionalValidation{}
	}

	deploy := v.runStep(ctx, "Deploy to Scratch Org",
		fmt.Sprintf("sf project deploy start --target-org %s --json", v.orgTarget), repoDir, 300*time.Second)
	result.Steps = append(result.Steps, deploy)
	result.DeploymentPassed = deploy.Status == StepPassed
	if !result.DeploymentPassed {
		result.OverallStatus = "failed"
		result.CalculateScore()
		return result
	}

	tests := v.runStep(ctx, "Run Unit Tests",
		fmt.Sprintf("sf apex run test --target-org %s --code-coverage --result-format json --wait 10", v.orgTarget), repoDir, 600*time.Second)
	result.Steps = append(result.Steps, tests)
	if tests.Status == StepPassed {
		result.UnitTestsPassed = apexTestsPassed(tests.ActualOutput)
	}

	if fv.TestDataScript != "" {
		data := v.runStep(ctx, "Create Test Data",
			fmt.Sprintf("sf apex run --target-org %s --file %s", v.orgTarget, fv.TestDataScript), repoDir, v.stepTimeout)
		result.Steps = append(result.Steps, data)
	}

	if fv.VerificationQuery != "" {
		verify := v.runSOQLVerification(ctx, "Verify Outcome", fv.VerificationQuery, fv.ExpectedValues)
		result.Steps = append(result.Steps, verify)
		result.FunctionalTestsPassed = verify.Status == StepPassed
	} else {
		// No specific verification declared: the unit-test signal stands in.
		result.FunctionalTestsPassed = result.UnitTestsPassed
	}

	if fv.BulkTestScript != "" {
		bulk := v.runStep(ctx, "Bulk Test (200 records)",
			fmt.Sprintf("sf apex run --target-org %s --file %s", v.orgTarget, fv.BulkTestScript), repoDir, 300*time.Second)
		result.Steps = append(result.Steps, bulk)
		result.BulkTestsPassed = bulk.Status == StepPassed
	} else {
		result.BulkTestsPassed = true
	}

	v.finish(result)
	return result
}

// ValidateFlow runs the FLOW flow: deploy flow metadata, activate, trigger a
// matching record, wait for async processing, require every declared outcome
// verification to match, bulk test, negative test.
func (v *Validator) ValidateFlow(ctx context.Context, t *task.Task, repoDir string) *Result {
	result := &Result{TaskID: t.InstanceID, ValidationLevel: LevelFunctional}
	fv := t.FunctionalValidation
	if fv == nil {
		fv = &task.FunctionalValidation{}
	}

	deploy := v.runStep(ctx, "Deploy Flow",
		fmt.Sprintf("sf project deploy start --target-org %s --source-dir force-app/main/default/flows --json", v.orgTarget), repoDir, 300*time.Second)
	result.Steps = append(result.Steps, deploy)
	result.DeploymentPassed = deploy.Status == StepPassed
	if !result.DeploymentPassed {
		result.OverallStatus = "failed"
		result.CalculateScore()
		return result
	}

	if fv.FlowName != "" {
		activate := v.runStep(ctx, "Activate Flow",
			fmt.Sprintf("sf apex run --target-org %s --file scripts/activate-flow.apex", v.orgTarget), repoDir, 60*time.Second)
		result.Steps = append(result.Steps, activate)
	}

	if fv.TriggerTestScript != "" {
		trigger := v.runStep(ctx, "Create Test Record (Trigger Flow)",
			fmt.Sprintf("sf apex run --target-org %s --file %s", v.orgTarget, fv.TriggerTestScript), repoDir, v.stepTimeout)
		result.Steps = append(result.Steps, trigger)
	}

	// Record-triggered flows run asynchronously; give the platform time to
	// commit their side effects before querying.
	v.sleep(5 * time.Second)

	allVerified := true
	for _, verification := range fv.OutcomeVerifications {
		name := verification.Name
		if name == "" {
			name = "Verify Outcome"
		}
		verify := v.runSOQLVerification(ctx, name, verification.Query, verification.Expected)
		result.Steps = append(result.Steps, verify)
		if verify.Status != StepPassed {
			allVerified = false
		}
	}
	result.FunctionalTestsPassed = allVerified && len(fv.OutcomeVerifications) > 0

	if fv.BulkTestScript != "" {
		bulk := v.runStep(ctx, "Bulk Test (200 records)",
			fmt.Sprintf("sf apex run --target-org %s --file %s", v.orgTarget, fv.BulkTestScript), repoDir, 300*time.Second)
		result.Steps = append(result.Steps, bulk)
		result.BulkTestsPassed = bulk.Status == StepPassed
	} else {
		result.BulkTestsPassed = true
	}

	if fv.NegativeTestScript != "" {
		negative := v.runStep(ctx, "Negative Test (Should NOT trigger)",
			fmt.Sprintf("sf apex run --target-org %s --file %s", v.orgTarget, fv.NegativeTestScript), repoDir, v.stepTimeout)
		result.Steps = append(result.Steps, negative)
	}

	if result.DeploymentPassed && result.FunctionalTestsPassed {
		// Flows have no unit tests of their own; a verified outcome is the
		// equivalent signal.
		result.UnitTestsPassed = true
		result.NoManualTweaks = true
		result.OverallStatus = "passed"
	} else {
		result.OverallStatus = "failed"
	}
	result.CalculateScore()
	return result
}

// ValidateLWC runs the LWC flow: Jest unit tests, deploy, optional
// controller-level apex script.
func (v *Validator) ValidateLWC(ctx context.Context, t *task.Task, repoDir string) *Result {
	result := &Result{TaskID: t.InstanceID, ValidationLevel: LevelFunctional}
	fv := t.FunctionalValidation
	if fv == nil {
		fv = &task.FunctionalValidation{}
	}

	jest := v.runStep(ctx, "Run Jest Tests", "npm run test:unit -- --coverage --passWithNoTests", repoDir, 300*time.Second)
	result.Steps = append(result.Steps, jest)
	result.UnitTestsPassed = jest.Status == StepPassed

	deploy := v.runStep(ctx, "Deploy to Scratch Org",
		fmt.Sprintf("sf project deploy start --target-org %s --json", v.orgTarget), repoDir, 300*time.Second)
	result.Steps = append(result.Steps, deploy)
	result.DeploymentPassed = deploy.Status == StepPassed

	if fv.ControllerTestScript != "" {
		controller := v.runStep(ctx, "Test Apex Controller",
			fmt.Sprintf("sf apex run --target-org %s --file %s", v.orgTarget, fv.ControllerTestScript), repoDir, v.stepTimeout)
		result.Steps = append(result.Steps, controller)
		result.FunctionalTestsPassed = controller.Status == StepPassed
	} else {
		result.FunctionalTestsPassed = result.UnitTestsPassed
	}

	// Bulk operations don't apply to component tests.
	result.BulkTestsPassed = true

	if result.UnitTestsPassed && result.DeploymentPassed {
		result.NoManualTweaks = true
		result.OverallStatus = "passed"
	} else {
		result.OverallStatus = "failed"
	}
	result.CalculateScore()
	return result
}

func (v *Validator) finish(result *Result) {
	switch {
	case result.DeploymentPassed && result.UnitTestsPassed && result.FunctionalTestsPassed:
		result.OverallStatus = "passed"
		result.NoManualTweaks = true
	case result.DeploymentPassed && result.UnitTestsPassed:
		result.OverallStatus = "partial"
	default:
		result.OverallStatus = "failed"
	}
	result.CalculateScore()
}

// runStep executes one validation sub-command and captures its outcome.
// Exit code zero is the success criterion; timeouts and exec failures are
// recorded as errors, not failures, so attribution stays clean.
func (v *Validator) runStep(ctx context.Context, name, command, cwd string, timeout time.Duration) Step {
	step := Step{
		Name:            name,
		Command:         command,
		SuccessCriteria: map[string]any{"exit_code": 0},
		Timeout:         timeout,
		Status:          StepPending,
	}

	result, err := v.runner.Run(ctx, subprocess.Command{
		Argv:    subprocess.SplitCommand(command),
		Dir:     cwd,
		Timeout: timeout,
	})
	step.Duration = result.Duration.Seconds()
	step.ActualOutput = result.Stdout

	switch {
	case err == nil:
		step.Status = StepPassed
	case result.ExitCode > 0:
		step.Status = StepFailed
		step.ErrorMessage = result.Stderr
	default:
		step.Status = StepError
		step.ErrorMessage = err.Error()
	}
	return step
}

// runSOQLVerification runs a query as JSON and compares the records against
// the expected shape: "record_count" must equal len(records);
// "field_value" {field, value} requires every record's field to equal value.
func (v *Validator) runSOQLVerification(ctx context.Context, name, query string, expected map[string]any) Step {
	step := Step{
		Name:            name,
		Command:         fmt.Sprintf("sf data query --target-org %s --query %q --json", v.orgTarget, query),
		SuccessCriteria: expected,
		Timeout:         v.stepTimeout,
		Status:          StepPending,
	}

	result, err := v.runner.Run(ctx, subprocess.Command{
		Argv:     []string{"sf", "data", "query", "--target-org", v.orgTarget, "--query", query, "--json"},
		Timeout:  v.stepTimeout,
		WantJSON: true,
	})
	step.Duration = result.Duration.Seconds()
	step.ActualOutput = result.Stdout

	if err != nil {
		step.Status = StepFailed
		step.ErrorMessage = result.Stderr
		if step.ErrorMessage == "" {
			step.ErrorMessage = err.Error()
		}
		return step
	}

	records, parseErr := queryRecords(result.Stdout)
	if parseErr != nil {
		step.Status = StepFailed
		step.ErrorMessage = "Failed to parse SOQL result"
		return step
	}

	if msg := matchExpected(records, expected); msg != "" {
		step.Status = StepFailed
		step.ErrorMessage = msg
		return step
	}
	step.Status = StepPassed
	return step
}

func queryRecords(stdout string) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(stdout)
	idx := strings.Index(trimmed, "{")
	if idx < 0 {
		return nil, fmt.Errorf("no JSON in query output")
	}
	var payload struct {
		Result struct {
			Records []map[string]any `json:"records"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(trimmed[idx:]), &payload); err != nil {
		return nil, err
	}
	return payload.Result.Records, nil
}

// matchExpected returns "" on match, or a precise mismatch message.
func matchExpected(records []map[string]any, expected map[string]any) string {
	for key, expectedValue := range expected {
		switch key {
		case "record_count":
			want := asInt(expectedValue)
			if len(records) != want {
				return fmt.Sprintf("Expected %d records, got %d", want, len(records))
			}
		case "field_value":
			fv, _ := expectedValue.(map[string]any)
			if fv == nil {
				return fmt.Sprintf("field_value expectation is malformed: %v", expectedValue)
			}
			fieldName, _ := fv["field"].(string)
			wantValue := fv["value"]
			for _, record := range records {
				if !valuesEqual(record[fieldName], wantValue) {
					return fmt.Sprintf("Field %s expected '%v', got '%v'", fieldName, wantValue, record[fieldName])
				}
			}
		}
	}
	return ""
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return -1
	}
}

// valuesEqual compares loosely across JSON's number/string representations
// so an expected 5 matches a queried 5.0.
func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// apexTestsPassed parses the apex test-run JSON summary for outcome "Passed".
func apexTestsPassed(output string) bool {
	trimmed := strings.TrimSpace(output)
	idx := strings.Index(trimmed, "{")
	if idx < 0 {
		return false
	}
	var payload struct {
		Result struct {
			Summary struct {
				Outcome string `json:"outcome"`
			} `json:"summary"`
		} `json:"result"`
		Summary struct {
			Outcome string `json:"outcome"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(trimmed[idx:]), &payload); err != nil {
		return false
	}
	return payload.Result.Summary.Outcome == "Passed" || payload.Summary.Outcome == "Passed"
}
