package durable

import (
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/antigravity-dev/sfbench/internal/runner"
)

// TaskEvaluationWorkflow drives one task's lifecycle as durable phases:
//
//  1. SETUP     — clone + provision (retried, transient infrastructure)
//  2. PATCH     — apply the model's diff (no auto-retry; the pipeline's own
//                 ladder and retry policy already ran inside the activity)
//  3. EVALUATE  — run the variant's validation
//  4. TEARDOWN  — whenever setup returned state, even when a later phase
//                 failed; a failed setup activity gets no teardown activity
//
// The workflow returns a terminal Result for every input: activity errors
// are mapped to FAIL/TIMEOUT/ERROR with the same attribution rule the
// in-process backend applies.
func TaskEvaluationWorkflow(ctx workflow.Context, req EvaluationRequest) (*runner.Result, error) {
	logger := workflow.GetLogger(ctx)
	startTime := workflow.Now(ctx)

	setupOpts := workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(req.Task.Timeouts.Setup)*time.Second + 5*time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3, InitialInterval: 2 * time.Second, BackoffCoefficient: 2.0},
	}
	patchOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	evalOpts := workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(req.Task.Timeouts.Run)*time.Second + 5*time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	teardownOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}

	var a *Activities
	var state *EvalState

	// Teardown runs on every exit path after setup returned state; when the
	// setup activity fails, state stays nil and nothing is torn down. A
	// disconnected context keeps it alive even when the workflow itself is
	// being cancelled.
	defer func() {
		if state == nil {
			return
		}
		cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, teardownOpts)
		if err := workflow.ExecuteActivity(cleanupCtx, a.TeardownActivity, state).Get(cleanupCtx, nil); err != nil {
			logger.Warn("teardown activity failed", "Error", err)
		}
	}()

	// ===== PHASE 1: SETUP =====
	logger.Info("Phase 1: setup", "Task", req.Task.InstanceID)
	setupCtx := workflow.WithActivityOptions(ctx, setupOpts)
	if err := workflow.ExecuteActivity(setupCtx, a.SetupActivity, req).Get(ctx, &state); err != nil {
		return terminalResult(ctx, req, startTime, err), nil
	}

	// ===== PHASE 2: PATCH =====
	if req.PatchDiff != "" {
		logger.Info("Phase 2: patch", "Task", req.Task.InstanceID)
		patchCtx := workflow.WithActivityOptions(ctx, patchOpts)
		if err := workflow.ExecuteActivity(patchCtx, a.PatchActivity, state, req.PatchDiff).Get(ctx, nil); err != nil {
			return terminalResult(ctx, req, startTime, err), nil
		}
	}

	// ===== PHASE 3: EVALUATE =====
	logger.Info("Phase 3: evaluate", "Task", req.Task.InstanceID)
	evalCtx := workflow.WithActivityOptions(ctx, evalOpts)
	var result *runner.Result
	if err := workflow.ExecuteActivity(evalCtx, a.EvaluateActivity, req, state).Get(ctx, &result); err != nil {
		return terminalResult(ctx, req, startTime, err), nil
	}

	result.DurationSeconds = workflow.Now(ctx).Sub(startTime).Seconds()
	logger.Info("Task evaluated", "Task", req.Task.InstanceID, "Status", string(result.Status))
	return result, nil
}

// terminalResult folds an activity failure into a terminal task result. The
// activity layer already classified model-attributable failures into result
// statuses; anything that still surfaces as an error here is infrastructure
// trouble unless its message marks it as a patch or platform failure.
func terminalResult(ctx workflow.Context, req EvaluationRequest, startTime time.Time, err error) *runner.Result {
	status := runner.StatusError
	message := err.Error()
	if isModelAttributable(message) {
		status = runner.StatusFail
	} else if isTimeoutMessage(message) {
		status = runner.StatusTimeout
	}
	return &runner.Result{
		TaskID:          req.Task.InstanceID,
		Status:          status,
		DurationSeconds: workflow.Now(ctx).Sub(startTime).Seconds(),
		ErrorMessage:    message,
		Timestamp:       workflow.Now(ctx).UTC().Format(time.RFC3339),
	}
}

// Activity errors cross the Temporal boundary as strings; the typed kinds
// are recovered from the markers their Error() methods embed.
func isModelAttributable(message string) bool {
	return containsAny(message,
		"does not contain valid diff",
		"platform limitation",
		"command failed")
}

func isTimeoutMessage(message string) bool {
	return containsAny(message, "timed out")
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
