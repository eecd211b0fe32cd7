// Package runner drives one task's evaluation lifecycle:
// setup → inject patch → evaluate → teardown. Seven variants share a single
// driver; teardown runs on every exit path so no scratch org is leaked.
package runner

import (
	"time"

	"github.com/antigravity-dev/sfbench/internal/validator"
)

// Status is a task's terminal outcome.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

// Result is the outcome of one task evaluation. Created by the lifecycle
// driver, never mutated after creation.
type Result struct {
	TaskID             string         `json:"task_id"`
	Status             Status         `json:"status"`
	DurationSeconds    float64        `json:"duration_seconds"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
	ExecutionLog       []string       `json:"execution_log,omitempty"`
	PerformanceMetrics map[string]any `json:"performance_metrics,omitempty"`
	Timestamp          string         `json:"timestamp"`

	// Functional is the 100-point validation outcome, present when the task
	// declares a functional_validation recipe and the run got far enough to
	// execute it.
	Functional *validator.Result `json:"functional_validation,omitempty"`
}

func newResult(taskID string, status Status, duration time.Duration) *Result {
	return &Result{
		TaskID:          taskID,
		Status:          status,
		DurationSeconds: roundSeconds(duration),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

func roundSeconds(d time.Duration) float64 {
	return float64(int(d.Seconds()*100)) / 100
}
