package durable

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// stubActivities replays scripted phase outcomes and counts teardown calls
// so tests can assert the cleanup-totality invariant.
type stubActivities struct {
	setupErr   error
	patchErr   error
	evalResult *runner.Result
	evalErr    error
	teardowns  int32
}

func (s *stubActivities) SetupActivity(_ context.Context, req EvaluationRequest) (*EvalState, error) {
	if s.setupErr != nil {
		return nil, s.setupErr
	}
	return &EvalState{InstanceID: req.Task.InstanceID, WorkspaceDir: "/tmp/ws", OrgUsername: "u@x.com"}, nil
}

func (s *stubActivities) PatchActivity(context.Context, *EvalState, string) error {
	return s.patchErr
}

func (s *stubActivities) EvaluateActivity(context.Context, EvaluationRequest, *EvalState) (*runner.Result, error) {
	return s.evalResult, s.evalErr
}

func (s *stubActivities) TeardownActivity(context.Context, *EvalState) error {
	atomic.AddInt32(&s.teardowns, 1)
	return nil
}

func request() EvaluationRequest {
	return EvaluationRequest{
		Task: task.Task{
			InstanceID: "apex-001",
			TaskType:   task.TypeApex,
			RepoURL:    "https://example.com/r.git",
			BaseCommit: "c1",
			Validation: task.Validation{Command: "sf apex run test"},
			Timeouts:   task.Timeouts{Setup: 60, Run: 60},
		},
		PatchDiff: "diff --git a/x b/x\n",
		ModelName: "test-model",
	}
}

func execute(t *testing.T, stub *stubActivities, req EvaluationRequest) *runner.Result {
	t.Helper()
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	env.RegisterWorkflow(TaskEvaluationWorkflow)
	env.RegisterActivityWithOptions(stub.SetupActivity, activity.RegisterOptions{Name: "SetupActivity"})
	env.RegisterActivityWithOptions(stub.PatchActivity, activity.RegisterOptions{Name: "PatchActivity"})
	env.RegisterActivityWithOptions(stub.EvaluateActivity, activity.RegisterOptions{Name: "EvaluateActivity"})
	env.RegisterActivityWithOptions(stub.TeardownActivity, activity.RegisterOptions{Name: "TeardownActivity"})

	env.ExecuteWorkflow(TaskEvaluationWorkflow, req)
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var result runner.Result
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("decoding workflow result: %v", err)
	}
	return &result
}

func TestWorkflowHappyPath(t *testing.T) {
	stub := &stubActivities{
		evalResult: &runner.Result{TaskID: "apex-001", Status: runner.StatusPass},
	}

	result := execute(t, stub, request())

	if result.Status != runner.StatusPass {
		t.Errorf("status = %s, want PASS", result.Status)
	}
	if atomic.LoadInt32(&stub.teardowns) != 1 {
		t.Errorf("teardowns = %d, want 1", stub.teardowns)
	}
}

func TestWorkflowPatchFailureIsFailAndTearsDown(t *testing.T) {
	stub := &stubActivities{
		patchErr: &errkind.PatchApplicationError{Reason: "cleaner yielded empty output"},
	}

	result := execute(t, stub, request())

	if result.Status != runner.StatusFail {
		t.Errorf("status = %s, want FAIL (%s)", result.Status, result.ErrorMessage)
	}
	if !strings.Contains(result.ErrorMessage, "does not contain valid diff") {
		t.Errorf("error = %q", result.ErrorMessage)
	}
	if atomic.LoadInt32(&stub.teardowns) != 1 {
		t.Errorf("teardown must run after patch failure, got %d", stub.teardowns)
	}
}

func TestWorkflowSetupFailureSkipsTeardownWithoutState(t *testing.T) {
	stub := &stubActivities{
		setupErr: &errkind.OrgCreationError{ExitCode: 1, StderrTail: "hub unreachable"},
	}

	result := execute(t, stub, request())

	if result.Status != runner.StatusError {
		t.Errorf("status = %s, want ERROR", result.Status)
	}
	// No state was ever produced; there is nothing to tear down.
	if atomic.LoadInt32(&stub.teardowns) != 0 {
		t.Errorf("teardowns = %d, want 0", stub.teardowns)
	}
}

func TestWorkflowEmptyPatchSkipsPatchPhase(t *testing.T) {
	stub := &stubActivities{
		patchErr:   &errkind.PatchApplicationError{Reason: "must not be called"},
		evalResult: &runner.Result{TaskID: "apex-001", Status: runner.StatusPass},
	}
	req := request()
	req.PatchDiff = ""

	result := execute(t, stub, req)

	if result.Status != runner.StatusPass {
		t.Errorf("status = %s: patch phase must be skipped for empty diffs (%s)", result.Status, result.ErrorMessage)
	}
}
