package validator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// scriptedRunner matches commands by substring and replays the configured
// outcome, defaulting to success.
type scriptedRunner struct {
	outcomes map[string]scripted
	calls    []string
}

type scripted struct {
	result subprocess.Result
	err    error
}

func (s *scriptedRunner) Run(_ context.Context, cmd subprocess.Command) (subprocess.Result, error) {
	joined := strings.Join(cmd.Argv, " ")
	s.calls = append(s.calls, joined)
	for needle, outcome := range s.outcomes {
		if strings.Contains(joined, needle) {
			return outcome.result, outcome.err
		}
	}
	return subprocess.Result{ExitCode: 0}, nil
}

func apexTask() *task.Task {
	return &task.Task{
		InstanceID: "apex-001",
		TaskType:   task.TypeApex,
		FunctionalValidation: &task.FunctionalValidation{
			VerificationQuery: "SELECT Id FROM Account WHERE Name = 'Test'",
			ExpectedValues:    map[string]any{"record_count": 1},
			BulkTestScript:    "scripts/bulk.apex",
		},
	}
}

func newTestValidator(runner subprocess.Runner) *Validator {
	v := New(runner, "user@scratch.org", 30*time.Second, nil)
	v.sleep = func(time.Duration) {}
	return v
}

func TestScoreIsSumOfTrueWeights(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   float64
	}{
		{"none", Result{}, 0},
		{"deploy only", Result{DeploymentPassed: true}, 10},
		{"deploy and unit", Result{DeploymentPassed: true, UnitTestsPassed: true}, 30},
		{"all", Result{DeploymentPassed: true, UnitTestsPassed: true, FunctionalTestsPassed: true, BulkTestsPassed: true, NoManualTweaks: true}, 100},
		{"functional only", Result{FunctionalTestsPassed: true}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.CalculateScore(); got != tt.want {
				t.Errorf("CalculateScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolvedRequiresCoreTriple(t *testing.T) {
	r := Result{DeploymentPassed: true, UnitTestsPassed: true, FunctionalTestsPassed: true}
	if !r.Resolved() {
		t.Error("core triple passing must resolve")
	}
	r.BulkTestsPassed = false
	r.NoManualTweaks = false
	if !r.Resolved() {
		t.Error("bulk and no-tweaks must not affect resolution")
	}
	r.FunctionalTestsPassed = false
	if r.Resolved() {
		t.Error("functional failure must block resolution")
	}
}

func TestValidateApexHappyPath(t *testing.T) {
	apexSummary := `{"status":0,"result":{"summary":{"outcome":"Passed","testsRan":4,"passing":4,"failing":0}}}`
	queryOut := `{"status":0,"result":{"records":[{"Id":"001"}]}}`
	runner := &scriptedRunner{outcomes: map[string]scripted{
		"apex run test": {result: subprocess.Result{ExitCode: 0, Stdout: apexSummary}},
		"data query":    {result: subprocess.Result{ExitCode: 0, Stdout: queryOut, JSONSucceeded: true}},
	}}

	result := newTestValidator(runner).ValidateApex(context.Background(), apexTask(), "/tmp/repo")

	if !result.DeploymentPassed || !result.UnitTestsPassed || !result.FunctionalTestsPassed || !result.BulkTestsPassed {
		t.Fatalf("expected all components passed: %+v", result)
	}
	if result.Score != 100 {
		t.Errorf("score = %v, want 100", result.Score)
	}
	if result.OverallStatus != "passed" {
		t.Errorf("overall = %q", result.OverallStatus)
	}
	if !result.Resolved() {
		t.Error("expected resolved")
	}
}

func TestValidateApexStopsOnDeployFailure(t *testing.T) {
	runner := &scriptedRunner{outcomes: map[string]scripted{
		"project deploy start": {
			result: subprocess.Result{ExitCode: 1, Stderr: "deploy failed"},
			err:    &errkind.CommandError{ExitCode: 1, StderrTail: "deploy failed"},
		},
	}}

	result := newTestValidator(runner).ValidateApex(context.Background(), apexTask(), "/tmp/repo")

	if result.DeploymentPassed {
		t.Error("deployment must fail")
	}
	if result.Score != 0 {
		t.Errorf("score = %v, want 0", result.Score)
	}
	if len(result.Steps) != 1 {
		t.Errorf("deploy failure must short-circuit, got %d steps", len(result.Steps))
	}
	if result.OverallStatus != "failed" {
		t.Errorf("overall = %q", result.OverallStatus)
	}
}

func TestValidateFlowRequiresEveryVerification(t *testing.T) {
	flowTask := &task.Task{
		InstanceID: "flow-001",
		TaskType:   task.TypeFlow,
		FunctionalValidation: &task.FunctionalValidation{
			FlowName:          "Case_Escalation",
			TriggerTestScript: "scripts/trigger.apex",
			OutcomeVerifications: []task.SOQLVerification{
				{Name: "Task created", Query: "SELECT Id FROM Task", Expected: map[string]any{"record_count": 1}},
				{Name: "Case updated", Query: "SELECT Status FROM Case", Expected: map[string]any{"field_value": map[string]any{"field": "Status", "value": "Escalated"}}},
			},
		},
	}

	good := `{"status":0,"result":{"records":[{"Id":"00T1","Status":"Escalated"}]}}`
	empty := `{"status":0,"result":{"records":[]}}`

	runner := &scriptedRunner{outcomes: map[string]scripted{
		"FROM Task": {result: subprocess.Result{ExitCode: 0, Stdout: empty, JSONSucceeded: true}},
		"FROM Case": {result: subprocess.Result{ExitCode: 0, Stdout: good, JSONSucceeded: true}},
	}}

	result := newTestValidator(runner).ValidateFlow(context.Background(), flowTask, "/tmp/repo")

	if result.FunctionalTestsPassed {
		t.Error("one failing verification must fail the functional gate")
	}
	if result.OverallStatus != "failed" {
		t.Errorf("overall = %q", result.OverallStatus)
	}

	// All verifications matching flips the gate.
	runner.outcomes["FROM Task"] = scripted{result: subprocess.Result{ExitCode: 0, Stdout: good, JSONSucceeded: true}}
	result = newTestValidator(runner).ValidateFlow(context.Background(), flowTask, "/tmp/repo")
	if !result.FunctionalTestsPassed {
		t.Error("all verifications matching must pass the functional gate")
	}
	if !result.UnitTestsPassed {
		t.Error("flows without unit tests inherit the functional signal")
	}
	if !result.Resolved() {
		t.Error("expected resolved")
	}
}

func TestValidateLWCFallsBackToJestSignal(t *testing.T) {
	lwcTask := &task.Task{InstanceID: "lwc-001", TaskType: task.TypeLWC}
	runner := &scriptedRunner{}

	result := newTestValidator(runner).ValidateLWC(context.Background(), lwcTask, "/tmp/repo")

	if !result.UnitTestsPassed || !result.DeploymentPassed {
		t.Fatalf("expected jest and deploy passed: %+v", result)
	}
	if !result.FunctionalTestsPassed {
		t.Error("without a controller script, the jest signal stands in for functional")
	}
	if !result.BulkTestsPassed {
		t.Error("bulk is not applicable to LWC and must default true")
	}
	if result.Score != 100 {
		t.Errorf("score = %v, want 100", result.Score)
	}
}

func TestSOQLVerificationMismatchMessages(t *testing.T) {
	records := []map[string]any{{"Status": "Open"}, {"Status": "Open"}}

	if msg := matchExpected(records, map[string]any{"record_count": 3}); !strings.Contains(msg, "Expected 3 records, got 2") {
		t.Errorf("record_count message = %q", msg)
	}
	if msg := matchExpected(records, map[string]any{"field_value": map[string]any{"field": "Status", "value": "Closed"}}); !strings.Contains(msg, "expected 'Closed', got 'Open'") {
		t.Errorf("field_value message = %q", msg)
	}
	if msg := matchExpected(records, map[string]any{"record_count": 2, "field_value": map[string]any{"field": "Status", "value": "Open"}}); msg != "" {
		t.Errorf("expected match, got %q", msg)
	}
}

func TestApexTestsPassedParsesSummary(t *testing.T) {
	passed := `{"status":0,"result":{"summary":{"outcome":"Passed"}}}`
	failed := `{"status":0,"result":{"summary":{"outcome":"Failed"}}}`
	if !apexTestsPassed(passed) {
		t.Error("expected Passed outcome to parse true")
	}
	if apexTestsPassed(failed) {
		t.Error("expected Failed outcome to parse false")
	}
	if apexTestsPassed("not json") {
		t.Error("garbage must parse false")
	}
}
