package report

import (
	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/validator"
)

// BreakdownFromFunctional maps a functional-validation result onto the
// report's component breakdown, awarding each component's fixed points when
// its boolean passed.
func BreakdownFromFunctional(fr *validator.Result) ValidationBreakdown {
	breakdown := NewValidationBreakdown()
	if fr == nil {
		return breakdown
	}

	if fr.DeploymentPassed {
		breakdown.DeploymentStatus = ComponentPass
		breakdown.DeploymentPoints = PointsDeployment
	} else {
		breakdown.DeploymentStatus = ComponentFail
	}
	if fr.UnitTestsPassed {
		breakdown.UnitTestStatus = ComponentPass
		breakdown.UnitTestPoints = PointsUnitTests
	} else {
		breakdown.UnitTestStatus = ComponentFail
	}
	if fr.FunctionalTestsPassed {
		breakdown.FunctionalStatus = ComponentPass
		breakdown.FunctionalPoints = PointsFunctional
	} else {
		breakdown.FunctionalStatus = ComponentFail
	}
	if fr.BulkTestsPassed {
		breakdown.BulkStatus = ComponentPass
		breakdown.BulkPoints = PointsBulk
	} else {
		breakdown.BulkStatus = ComponentFail
	}
	if fr.NoManualTweaks {
		breakdown.NoTweaksStatus = ComponentPass
		breakdown.NoTweaksPoints = PointsNoTweaks
	} else {
		breakdown.NoTweaksStatus = ComponentFail
	}

	breakdown.CalculateTotal()
	return breakdown
}

// InstanceFromResult converts a task runner result (plus the optional
// functional result) into a report instance.
func InstanceFromResult(modelName string, taskResult *runner.Result, functional *validator.Result, solutionPatch string) InstanceResult {
	instance := InstanceResult{
		InstanceID:      taskResult.TaskID,
		ModelName:       modelName,
		DurationSeconds: taskResult.DurationSeconds,
		ErrorMessage:    taskResult.ErrorMessage,
		StartTime:       taskResult.Timestamp,
		SolutionPatch:   solutionPatch,
		Validation:      BreakdownFromFunctional(functional),
	}

	switch taskResult.Status {
	case runner.StatusPass:
		instance.Status = StatusResolved
	case runner.StatusError:
		instance.Status = StatusError
		instance.ErrorType = "runner_error"
	default:
		instance.Status = StatusFail
	}

	if functional != nil {
		instance.Resolved = functional.Resolved()
	} else {
		instance.Resolved = taskResult.Status == runner.StatusPass
	}
	if !instance.Resolved && instance.Status == StatusResolved {
		// The basic validation command passed but the functional gate did
		// not; the binary metric follows the functional gate.
		instance.Status = StatusFail
	}
	return instance
}
