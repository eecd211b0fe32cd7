package report

// MigrateV1 converts a v1 (flat) report document into a v2 Report. Consumed
// only when reading historical results: the instance set is preserved and
// component scores are zero-filled where v1 has no breakdown.
func MigrateV1(v1 map[string]any) *Report {
	modelName, _ := v1["model_name"].(string)
	if modelName == "" {
		modelName = "unknown"
	}
	dataset, _ := v1["dataset"].(string)
	runID, _ := v1["run_id"].(string)

	r := New(runID, modelName, dataset, map[string]any{})

	instances, _ := v1["instances"].([]any)
	for _, raw := range instances {
		v1inst, _ := raw.(map[string]any)
		if v1inst == nil {
			continue
		}

		instanceID, _ := v1inst["instance_id"].(string)
		if instanceID == "" {
			instanceID = "unknown"
		}
		statusStr, _ := v1inst["status"].(string)
		resolved, _ := v1inst["resolved"].(bool)
		duration, _ := v1inst["duration"].(float64)
		errorMessage, _ := v1inst["error_message"].(string)

		instance := InstanceResult{
			InstanceID:      instanceID,
			ModelName:       modelName,
			Status:          migrateStatus(statusStr),
			Resolved:        resolved,
			DurationSeconds: duration,
			ErrorMessage:    errorMessage,
			Validation:      NewValidationBreakdown(),
		}
		// v1 carried only a flat score; components stay zero-filled.
		if score, ok := v1inst["score"].(float64); ok {
			instance.Validation.TotalScore = int(score)
		}
		r.AddInstance(instance)
	}

	r.Finalize()
	return r
}

func migrateStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case StatusResolved, StatusFail, StatusError, StatusSkipped:
		return TaskStatus(s)
	default:
		return StatusError
	}
}
