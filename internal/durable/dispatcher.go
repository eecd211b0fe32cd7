package durable

import (
	"context"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// StartEvaluation starts one task-evaluation workflow on the evaluation
// queue. The workflow ID is derived from the task so a re-submitted task
// replaces its predecessor instead of racing it.
func StartEvaluation(ctx context.Context, c client.Client, req EvaluationRequest) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:                    fmt.Sprintf("sfbench-eval-%s", req.Task.InstanceID),
		TaskQueue:             TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_TERMINATE_IF_RUNNING,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, TaskEvaluationWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("durable: starting evaluation for %s: %w", req.Task.InstanceID, err)
	}
	return run, nil
}
