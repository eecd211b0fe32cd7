// Package task defines the immutable description of one evaluation instance
// and the loaders that read task files and model solutions from disk.
package task

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Type tags a task with the runner variant that evaluates it. The set is
// closed; aliases route to the same runners as their canonical tag.
type Type string

const (
	TypeApex          Type = "APEX"
	TypeLWC           Type = "LWC"
	TypeFlow          Type = "FLOW"
	TypeDeploy        Type = "DEPLOY"
	TypeLightningPage Type = "LIGHTNING_PAGE"
	TypePageLayout    Type = "PAGE_LAYOUT"
	TypeCommunity     Type = "COMMUNITY"
	TypeArchitecture  Type = "ARCHITECTURE"

	// Aliases routed to the deploy runner.
	TypeProfile       Type = "PROFILE"
	TypePermissionSet Type = "PERMISSION_SET"

	// Aliases routed to the architecture runner.
	TypeSalesCloud     Type = "SALES_CLOUD"
	TypeServiceCloud   Type = "SERVICE_CLOUD"
	TypeMarketingCloud Type = "MARKETING_CLOUD"
	TypeCommerceCloud  Type = "COMMERCE_CLOUD"
	TypePlatformCloud  Type = "PLATFORM_CLOUD"
	TypeIntegration    Type = "INTEGRATION"
	TypeDataModel      Type = "DATA_MODEL"
	TypeSecurity       Type = "SECURITY"
)

var knownTypes = map[Type]bool{
	TypeApex: true, TypeLWC: true, TypeFlow: true, TypeDeploy: true,
	TypeLightningPage: true, TypePageLayout: true, TypeCommunity: true,
	TypeArchitecture: true, TypeProfile: true, TypePermissionSet: true,
	TypeSalesCloud: true, TypeServiceCloud: true, TypeMarketingCloud: true,
	TypeCommerceCloud: true, TypePlatformCloud: true, TypeIntegration: true,
	TypeDataModel: true, TypeSecurity: true,
}

// Valid reports whether t is a member of the closed task-type set.
func (t Type) Valid() bool {
	return knownTypes[t]
}

// Timeouts carries the wall-clock budgets for one task, in seconds.
type Timeouts struct {
	Setup          int `json:"setup"`
	Run            int `json:"run"`
	FunctionalTest int `json:"functional_test,omitempty"`
}

// Validation is the task's validation recipe: the external CLI command the
// evaluator runs and the outcome it expects. The engine treats the command
// string opaquely; only its exit code and JSON output are inspected.
type Validation struct {
	Command          string         `json:"command"`
	ExpectedOutcome  string         `json:"expected_outcome"`
	CodeChecks       []string       `json:"code_checks,omitempty"`
	AdditionalChecks []string       `json:"additional_checks,omitempty"`
	Expected         map[string]any `json:"expected,omitempty"`
}

// SOQLVerification pairs a query with its expected result shape. The
// `expected` map understands "record_count" (int) and "field_value"
// ({field, value}).
type SOQLVerification struct {
	Name     string         `json:"name,omitempty"`
	Query    string         `json:"query"`
	Expected map[string]any `json:"expected"`
}

// FunctionalValidation is the optional recipe consumed by the functional
// validator to compute the 100-point score.
type FunctionalValidation struct {
	FlowName             string             `json:"flow_name,omitempty"`
	TestDataScript       string             `json:"test_data_script,omitempty"`
	VerificationQuery    string             `json:"verification_query,omitempty"`
	ExpectedValues       map[string]any     `json:"expected_values,omitempty"`
	BulkTestScript       string             `json:"bulk_test_script,omitempty"`
	TriggerTestScript    string             `json:"trigger_test_script,omitempty"`
	NegativeTestScript   string             `json:"negative_test_script,omitempty"`
	ControllerTestScript string             `json:"controller_test_script,omitempty"`
	OutcomeVerifications []SOQLVerification `json:"outcome_verifications,omitempty"`
}

// Task is the immutable description of one evaluation instance. Produced by
// LoadTasks; read-only for the rest of the run.
type Task struct {
	InstanceID           string                `json:"instance_id"`
	TaskType             Type                  `json:"task_type"`
	RepoURL              string                `json:"repo_url"`
	BaseCommit           string                `json:"base_commit"`
	ProblemDescription   string                `json:"problem_description"`
	Validation           Validation            `json:"validation"`
	Timeouts             Timeouts              `json:"timeouts"`
	FunctionalValidation *FunctionalValidation `json:"functional_validation,omitempty"`
	GoldenPatch          string                `json:"golden_patch,omitempty"`
	Metadata             map[string]string     `json:"metadata,omitempty"`
}

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the task invariants: required fields present, task_type in
// the closed set, repo_url well-formed, timeouts positive.
func (t *Task) Validate() error {
	if t.InstanceID == "" {
		return fmt.Errorf("task: instance_id is required")
	}
	if !instanceIDPattern.MatchString(t.InstanceID) {
		return fmt.Errorf("task %s: instance_id must match [A-Za-z0-9_-]+", t.InstanceID)
	}
	if !t.TaskType.Valid() {
		return fmt.Errorf("task %s: unknown task_type %q", t.InstanceID, t.TaskType)
	}
	if err := validateRepoURL(t.RepoURL); err != nil {
		return fmt.Errorf("task %s: %w", t.InstanceID, err)
	}
	if t.BaseCommit == "" {
		return fmt.Errorf("task %s: base_commit is required", t.InstanceID)
	}
	if t.Validation.Command == "" {
		return fmt.Errorf("task %s: validation.command is required", t.InstanceID)
	}
	if t.Timeouts.Setup <= 0 || t.Timeouts.Run <= 0 {
		return fmt.Errorf("task %s: timeouts.setup and timeouts.run must be positive", t.InstanceID)
	}
	if t.Timeouts.FunctionalTest < 0 {
		return fmt.Errorf("task %s: timeouts.functional_test must not be negative", t.InstanceID)
	}
	return nil
}

func validateRepoURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("repo_url is required")
	}
	// SSH shorthand: git@host:path
	if strings.HasPrefix(raw, "git@") && strings.Contains(raw, ":") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("repo_url %q is not a valid URL: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ssh":
		if u.Host == "" {
			return fmt.Errorf("repo_url %q has no host", raw)
		}
		return nil
	default:
		return fmt.Errorf("repo_url %q must be http(s) or ssh", raw)
	}
}
