// Package durable is the optional Temporal-backed execution backend: one
// task's setup → patch → evaluate → teardown lifecycle expressed as a
// workflow with per-phase activities, for installations that want retries
// and resumption to survive process restarts. The default backend remains
// the in-process worker pool in internal/scheduler.
package durable

import (
	"github.com/antigravity-dev/sfbench/internal/task"
)

// TaskQueue is the Temporal task queue the evaluation worker listens on.
const TaskQueue = "sfbench-task-queue"

// EvaluationRequest starts one task-evaluation workflow.
type EvaluationRequest struct {
	Task           task.Task `json:"task"`
	PatchDiff      string    `json:"patch_diff"`
	ModelName      string    `json:"model_name"`
	SharedOrgAlias string    `json:"shared_org_alias,omitempty"`
}

// EvalState is the serializable state threaded between activities. Temporal
// persists it in workflow history, which is what makes the lifecycle
// resumable across worker crashes.
type EvalState struct {
	InstanceID   string `json:"instance_id"`
	WorkspaceDir string `json:"workspace_dir"`
	OrgUsername  string `json:"org_username"`
	OrgAlias     string `json:"org_alias"`
	OrgShared    bool   `json:"org_shared"`
}
