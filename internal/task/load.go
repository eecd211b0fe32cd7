package task

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadTasks reads a task file — a JSON array or a single object — and
// validates every entry against the Task schema. Any invalid entry aborts
// the load with a report naming every failure, so a bad file never produces
// a partial run.
func LoadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file %s: %w", path, err)
	}
	return ParseTasks(data)
}

// ParseTasks decodes and validates task JSON. Accepts either a JSON array of
// tasks or a single task object.
func ParseTasks(data []byte) ([]Task, error) {
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		var single Task
		if singleErr := json.Unmarshal(data, &single); singleErr != nil {
			return nil, fmt.Errorf("tasks file is neither a JSON array nor a single task object: %w", err)
		}
		tasks = []Task{single}
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("tasks file contains no tasks")
	}

	var failures []string
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		if err := tasks[i].Validate(); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if seen[tasks[i].InstanceID] {
			failures = append(failures, fmt.Sprintf("task %s: duplicate instance_id", tasks[i].InstanceID))
		}
		seen[tasks[i].InstanceID] = true
	}
	if len(failures) > 0 {
		return nil, &ValidationReport{Failures: failures}
	}
	return tasks, nil
}

// ValidationReport aggregates every schema failure found in a task file.
type ValidationReport struct {
	Failures []string
}

func (r *ValidationReport) Error() string {
	return fmt.Sprintf("task validation failed (%d problems): %v", len(r.Failures), r.Failures)
}
