package history

import (
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	if err := s.StartRun("run-1", "eval-1", "test-model", "verified", "hash123", 10); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteRun("run-1", 7, 2, 1, 0, 70.0); err != nil {
		t.Fatal(err)
	}

	runs, err := s.RecentRuns(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	r := runs[0]
	if r.RunID != "run-1" || r.ModelName != "test-model" || r.TotalTasks != 10 {
		t.Errorf("run = %+v", r)
	}
	if r.Passed != 7 || r.ResolutionRate != 70.0 {
		t.Errorf("stats = %+v", r)
	}
	if !r.CompletedAt.Valid {
		t.Error("completed_at must be set after CompleteRun")
	}
}

func TestRecordAndQueryTasks(t *testing.T) {
	s := openStore(t)
	if err := s.StartRun("run-2", "eval-2", "m", "verified", "", 2); err != nil {
		t.Fatal(err)
	}

	records := []TaskRecord{
		{RunID: "run-2", TaskID: "apex-001", TaskType: "APEX", Status: "PASS", Score: 100, Resolved: true, DurationSeconds: 42.5},
		{RunID: "run-2", TaskID: "flow-001", TaskType: "FLOW", Status: "FAIL", Score: 30, ErrorMessage: "flow not active"},
	}
	for _, record := range records {
		if err := s.RecordTask(record); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.TasksForRun("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("tasks = %d", len(got))
	}
	if !got[0].Resolved || got[0].Score != 100 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Resolved || got[1].ErrorMessage != "flow not active" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestTaskHistoryAcrossRuns(t *testing.T) {
	s := openStore(t)
	for i, status := range []string{"FAIL", "PASS", "PASS"} {
		runID := []string{"run-a", "run-b", "run-c"}[i]
		if err := s.StartRun(runID, "eval", "m", "verified", "", 1); err != nil {
			t.Fatal(err)
		}
		if err := s.RecordTask(TaskRecord{RunID: runID, TaskID: "apex-007", Status: status}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.TaskHistory("apex-007", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("history = %d", len(records))
	}
	if records[0].RunID != "run-c" {
		t.Errorf("newest first expected, got %s", records[0].RunID)
	}
}
