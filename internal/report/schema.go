// Package report finalizes an evaluation run into its canonical artifacts:
// the schema-versioned report.json and the summary.md rendering. The JSON
// is the artifact of record; the markdown is a view of it.
package report

import (
	"sort"
	"strings"
	"time"
)

// SchemaVersion identifies the current report schema.
const SchemaVersion = "2.0"

// TaskStatus is an instance's terminal state in the report.
type TaskStatus string

const (
	StatusResolved TaskStatus = "resolved"
	StatusFail     TaskStatus = "fail"
	StatusError    TaskStatus = "error"
	StatusSkipped  TaskStatus = "skipped"
)

// ComponentStatus is one validation component's state.
type ComponentStatus string

const (
	ComponentPass    ComponentStatus = "pass"
	ComponentFail    ComponentStatus = "fail"
	ComponentError   ComponentStatus = "error"
	ComponentSkipped ComponentStatus = "skipped"
)

// Component point weights.
const (
	PointsDeployment = 10
	PointsUnitTests  = 20
	PointsFunctional = 50
	PointsBulk       = 10
	PointsNoTweaks   = 10
)

// ValidationBreakdown is the per-component scoring detail for one instance.
type ValidationBreakdown struct {
	DeploymentStatus  ComponentStatus `json:"deployment_status"`
	DeploymentMessage string          `json:"deployment_message,omitempty"`
	DeploymentPoints  int             `json:"deployment_points"`

	UnitTestStatus ComponentStatus `json:"unit_test_status"`
	UnitTestPassed int             `json:"unit_test_passed"`
	UnitTestFailed int             `json:"unit_test_failed"`
	UnitTestTotal  int             `json:"unit_test_total"`
	UnitTestPoints int             `json:"unit_test_points"`

	FunctionalStatus  ComponentStatus `json:"functional_status"`
	FunctionalMessage string          `json:"functional_message,omitempty"`
	FunctionalPoints  int             `json:"functional_points"`

	BulkStatus           ComponentStatus `json:"bulk_status"`
	BulkRecordsProcessed int             `json:"bulk_records_processed"`
	BulkRecordsExpected  int             `json:"bulk_records_expected"`
	BulkPoints           int             `json:"bulk_points"`

	NoTweaksStatus ComponentStatus `json:"no_tweaks_status"`
	NoTweaksPoints int             `json:"no_tweaks_points"`

	TotalScore int `json:"total_score"`
}

// NewValidationBreakdown returns a breakdown with every component skipped.
func NewValidationBreakdown() ValidationBreakdown {
	return ValidationBreakdown{
		DeploymentStatus:    ComponentSkipped,
		UnitTestStatus:      ComponentSkipped,
		FunctionalStatus:    ComponentSkipped,
		BulkStatus:          ComponentSkipped,
		NoTweaksStatus:      ComponentSkipped,
		BulkRecordsExpected: 200,
	}
}

// CalculateTotal sums the component points into TotalScore.
func (v *ValidationBreakdown) CalculateTotal() int {
	v.TotalScore = v.DeploymentPoints + v.UnitTestPoints + v.FunctionalPoints + v.BulkPoints + v.NoTweaksPoints
	return v.TotalScore
}

// IsResolved applies the binary resolution rule: deployment, unit tests, and
// the functional outcome must all pass. The functional gate is the core
// requirement; if it fails the task fails regardless of everything else.
func (v *ValidationBreakdown) IsResolved() bool {
	if v.FunctionalStatus != ComponentPass {
		return false
	}
	return v.DeploymentStatus == ComponentPass && v.UnitTestStatus == ComponentPass
}

// InstanceResult is one model's attempt at one task.
type InstanceResult struct {
	InstanceID string     `json:"instance_id"`
	ModelName  string     `json:"model_name"`
	Status     TaskStatus `json:"status"`
	Resolved   bool       `json:"resolved"`

	Validation ValidationBreakdown `json:"validation"`

	DurationSeconds      float64 `json:"duration_seconds"`
	ScratchOrgUsername   string  `json:"scratch_org_username,omitempty"`
	ScratchOrgCreateSecs float64 `json:"scratch_org_creation_time,omitempty"`
	ErrorMessage         string  `json:"error_message,omitempty"`
	ErrorType            string  `json:"error_type,omitempty"`
	StartTime            string  `json:"start_time"`
	EndTime              string  `json:"end_time,omitempty"`
	LogPath              string  `json:"log_path,omitempty"`
	SolutionPatch        string  `json:"solution_patch,omitempty"`
}

// EmptyPatch reports whether the instance ran without a solution.
func (i *InstanceResult) EmptyPatch() bool {
	return strings.TrimSpace(i.SolutionPatch) == ""
}

// Summary is the aggregate statistics block of a report.
type Summary struct {
	TotalInstances      int `json:"total_instances"`
	InstancesSubmitted  int `json:"instances_submitted"`
	InstancesCompleted  int `json:"instances_completed"`
	ResolvedInstances   int `json:"resolved_instances"`
	InstancesUnresolved int `json:"instances_unresolved"`
	FailedInstances     int `json:"failed_instances"`
	ErrorInstances      int `json:"error_instances"`
	InstancesEmptyPatch int `json:"instances_empty_patch"`

	ResolveRate    float64 `json:"resolve_rate"`    // ratio 0-1
	ResolutionRate float64 `json:"resolution_rate"` // percentage 0-100

	AvgScore           float64 `json:"avg_score"`
	AvgFunctionalScore float64 `json:"avg_functional_score"`
	MedianScore        float64 `json:"median_score"`
	MinScore           int     `json:"min_score"`
	MaxScore           int     `json:"max_score"`

	DeploymentPassRate float64 `json:"deployment_pass_rate"`
	UnitTestPassRate   float64 `json:"unit_test_pass_rate"`
	FunctionalPassRate float64 `json:"functional_pass_rate"`
	BulkPassRate       float64 `json:"bulk_pass_rate"`
	NoTweaksPassRate   float64 `json:"no_tweaks_pass_rate"`

	AvgDurationSeconds   float64 `json:"avg_duration_seconds"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
}

// Report is the top-level artifact emitted once per run.
type Report struct {
	SchemaVersion  string            `json:"schema_version"`
	RunID          string            `json:"run_id"`
	ModelName      string            `json:"model_name"`
	Dataset        string            `json:"dataset"`
	Config         map[string]any    `json:"config"`
	Environment    map[string]string `json:"environment"`
	EvaluationHash string            `json:"evaluation_hash,omitempty"`
	StartTime      string            `json:"start_time"`
	EndTime        string            `json:"end_time,omitempty"`

	Instances []InstanceResult `json:"instances"`
	Summary   Summary          `json:"summary"`

	ResolvedIDs   []string `json:"resolved_ids"`
	UnresolvedIDs []string `json:"unresolved_ids"`
	ErrorIDs      []string `json:"error_ids"`
	EmptyPatchIDs []string `json:"empty_patch_ids"`
	CompletedIDs  []string `json:"completed_ids"`
}

// New returns a Report skeleton for the given run.
func New(runID, modelName, dataset string, config map[string]any) *Report {
	if dataset == "" {
		dataset = "verified"
	}
	return &Report{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		ModelName:     modelName,
		Dataset:       dataset,
		Config:        config,
		Environment:   map[string]string{},
		StartTime:     time.Now().UTC().Format(time.RFC3339),
		Instances:     []InstanceResult{},
	}
}

// AddInstance appends one instance result.
func (r *Report) AddInstance(instance InstanceResult) {
	r.Instances = append(r.Instances, instance)
}

// Finalize computes summary statistics and the sorted instance-ID lists,
// then stamps the end time.
func (r *Report) Finalize() {
	s := Summary{}
	s.TotalInstances = len(r.Instances)
	s.InstancesSubmitted = len(r.Instances)

	var scores []int
	var functionalScores []int
	durationCount := 0
	r.ResolvedIDs = []string{}
	r.UnresolvedIDs = []string{}
	r.ErrorIDs = []string{}
	r.EmptyPatchIDs = []string{}
	r.CompletedIDs = []string{}

	for i := range r.Instances {
		inst := &r.Instances[i]
		switch {
		case inst.Resolved:
			s.ResolvedInstances++
			r.ResolvedIDs = append(r.ResolvedIDs, inst.InstanceID)
		case inst.Status == StatusFail:
			s.FailedInstances++
			s.InstancesUnresolved++
			r.UnresolvedIDs = append(r.UnresolvedIDs, inst.InstanceID)
		}
		if inst.Status == StatusError {
			s.ErrorInstances++
			r.ErrorIDs = append(r.ErrorIDs, inst.InstanceID)
		} else {
			s.InstancesCompleted++
			r.CompletedIDs = append(r.CompletedIDs, inst.InstanceID)
		}
		if inst.EmptyPatch() {
			s.InstancesEmptyPatch++
			r.EmptyPatchIDs = append(r.EmptyPatchIDs, inst.InstanceID)
		}

		scores = append(scores, inst.Validation.TotalScore)
		if inst.Validation.FunctionalPoints > 0 {
			functionalScores = append(functionalScores, inst.Validation.FunctionalPoints)
		}
		if inst.Validation.DeploymentStatus == ComponentPass {
			s.DeploymentPassRate++
		}
		if inst.Validation.UnitTestStatus == ComponentPass {
			s.UnitTestPassRate++
		}
		if inst.Validation.FunctionalStatus == ComponentPass {
			s.FunctionalPassRate++
		}
		if inst.Validation.BulkStatus == ComponentPass {
			s.BulkPassRate++
		}
		if inst.Validation.NoTweaksStatus == ComponentPass {
			s.NoTweaksPassRate++
		}
		if inst.DurationSeconds > 0 {
			s.TotalDurationSeconds += inst.DurationSeconds
			durationCount++
		}
	}

	if s.TotalInstances > 0 {
		total := float64(s.TotalInstances)
		s.ResolveRate = float64(s.ResolvedInstances) / total
		s.ResolutionRate = s.ResolveRate * 100.0
		s.DeploymentPassRate /= total
		s.UnitTestPassRate /= total
		s.FunctionalPassRate /= total
		s.BulkPassRate /= total
		s.NoTweaksPassRate /= total
	}
	if len(scores) > 0 {
		sum := 0
		min, max := scores[0], scores[0]
		for _, score := range scores {
			sum += score
			if score < min {
				min = score
			}
			if score > max {
				max = score
			}
		}
		s.AvgScore = float64(sum) / float64(len(scores))
		sorted := append([]int(nil), scores...)
		sort.Ints(sorted)
		s.MedianScore = float64(sorted[len(sorted)/2])
		s.MinScore = min
		s.MaxScore = max
	}
	if durationCount > 0 {
		s.AvgDurationSeconds = s.TotalDurationSeconds / float64(durationCount)
	}
	if len(functionalScores) > 0 {
		sum := 0
		for _, score := range functionalScores {
			sum += score
		}
		s.AvgFunctionalScore = float64(sum) / float64(len(functionalScores))
	}

	sort.Strings(r.ResolvedIDs)
	sort.Strings(r.UnresolvedIDs)
	sort.Strings(r.ErrorIDs)
	sort.Strings(r.EmptyPatchIDs)
	sort.Strings(r.CompletedIDs)

	r.Summary = s
	r.EndTime = time.Now().UTC().Format(time.RFC3339)
}
