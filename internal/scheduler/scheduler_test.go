package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antigravity-dev/sfbench/internal/checkpoint"
	"github.com/antigravity-dev/sfbench/internal/config"
	"github.com/antigravity-dev/sfbench/internal/runner"
	"github.com/antigravity-dev/sfbench/internal/task"
)

// stubRunner returns a scripted status per task and records which tasks ran
// and how many ran concurrently.
type stubRunner struct {
	statuses map[string]runner.Status
	delay    time.Duration

	mu        sync.Mutex
	ran       []string
	inFlight  int32
	peakInUse int32
}

func (s *stubRunner) Run(_ context.Context, t *task.Task, patchDiff string) *runner.Result {
	current := atomic.AddInt32(&s.inFlight, 1)
	for {
		peak := atomic.LoadInt32(&s.peakInUse)
		if current <= peak || atomic.CompareAndSwapInt32(&s.peakInUse, peak, current) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	atomic.AddInt32(&s.inFlight, -1)

	s.mu.Lock()
	s.ran = append(s.ran, t.InstanceID)
	s.mu.Unlock()

	status, ok := s.statuses[t.InstanceID]
	if !ok {
		status = runner.StatusPass
	}
	return &runner.Result{
		TaskID:          t.InstanceID,
		Status:          status,
		DurationSeconds: 1,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

func makeTasks(ids ...string) []task.Task {
	tasks := make([]task.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, task.Task{
			InstanceID: id,
			TaskType:   task.TypeApex,
			RepoURL:    "https://example.com/r.git",
			BaseCommit: "c1",
			Validation: task.Validation{Command: "sf apex run test"},
			Timeouts:   task.Timeouts{Setup: 60, Run: 60},
		})
	}
	return tasks
}

func engineFor(t *testing.T, stub *stubRunner, withCheckpoints bool) (*Engine, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Results = filepath.Join(t.TempDir(), "results")
	cfg.Paths.CheckpointDir = filepath.Join(t.TempDir(), "checkpoints")

	var cm *checkpoint.Manager
	if withCheckpoints {
		var err error
		cm, err = checkpoint.NewManager(cfg.Paths.CheckpointDir, nil)
		if err != nil {
			t.Fatal(err)
		}
	}
	return New(cfg, stub, cm, "eval-test", nil), cfg
}

func TestRunWritesPerTaskResultsAndSummary(t *testing.T) {
	stub := &stubRunner{statuses: map[string]runner.Status{
		"t-2": runner.StatusFail,
		"t-3": runner.StatusTimeout,
		"t-4": runner.StatusError,
	}}
	engine, cfg := engineFor(t, stub, false)

	results, err := engine.Run(context.Background(), makeTasks("t-1", "t-2", "t-3", "t-4"), task.Solutions{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d", len(results))
	}

	for _, id := range []string{"t-1", "t-2", "t-3", "t-4"} {
		data, err := os.ReadFile(filepath.Join(cfg.Paths.Results, id+".json"))
		if err != nil {
			t.Fatalf("missing per-task result for %s: %v", id, err)
		}
		var r runner.Result
		if err := json.Unmarshal(data, &r); err != nil {
			t.Fatalf("bad result JSON for %s: %v", id, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(cfg.Paths.Results, "summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var summary struct {
		Statistics Summary `json:"statistics"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	s := summary.Statistics
	if s.Total != 4 || s.Passed != 1 || s.Failed != 1 || s.Timeout != 1 || s.Error != 1 {
		t.Errorf("statistics = %+v", s)
	}
	if s.PassRate != 25.0 {
		t.Errorf("pass rate = %v", s.PassRate)
	}
}

func TestRunBoundsWorkerPool(t *testing.T) {
	stub := &stubRunner{delay: 30 * time.Millisecond}
	engine, cfg := engineFor(t, stub, false)
	cfg.General.MaxWorkers = 2

	_, err := engine.Run(context.Background(), makeTasks("a", "b", "c", "d", "e", "f"), task.Solutions{})
	if err != nil {
		t.Fatal(err)
	}
	if peak := atomic.LoadInt32(&stub.peakInUse); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if len(stub.ran) != 6 {
		t.Errorf("ran = %v", stub.ran)
	}
}

func TestRunPassesSolutions(t *testing.T) {
	var got sync.Map
	capture := taskRunnerFunc(func(_ context.Context, tk *task.Task, patchDiff string) *runner.Result {
		got.Store(tk.InstanceID, patchDiff)
		return &runner.Result{TaskID: tk.InstanceID, Status: runner.StatusPass}
	})
	cfg := config.Default()
	cfg.Paths.Results = t.TempDir()
	engine := New(cfg, capture, nil, "eval-x", nil)

	solutions := task.Solutions{"s-1": "diff --git a/x b/x"}
	if _, err := engine.Run(context.Background(), makeTasks("s-1", "s-2"), solutions); err != nil {
		t.Fatal(err)
	}

	if diff, _ := got.Load("s-1"); diff != "diff --git a/x b/x" {
		t.Errorf("s-1 diff = %v", diff)
	}
	if diff, _ := got.Load("s-2"); diff != "" {
		t.Errorf("s-2 must run without a patch, got %v", diff)
	}
}

type taskRunnerFunc func(ctx context.Context, t *task.Task, patchDiff string) *runner.Result

func (f taskRunnerFunc) Run(ctx context.Context, t *task.Task, patchDiff string) *runner.Result {
	return f(ctx, t, patchDiff)
}

func TestResumeSkipsCompletedTasks(t *testing.T) {
	stub := &stubRunner{}
	engine, cfg := engineFor(t, stub, true)

	// First run completes four tasks.
	first, err := engine.Run(context.Background(), makeTasks("r-1", "r-2", "r-3", "r-4"), task.Solutions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 4 {
		t.Fatalf("first run results = %d", len(first))
	}

	// Second run over a superset resumes: only the new tasks execute, prior
	// results are merged unchanged.
	stub2 := &stubRunner{}
	cm, err := checkpoint.NewManager(cfg.Paths.CheckpointDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	engine2 := New(cfg, stub2, cm, "eval-test", nil)

	all, err := engine2.Run(context.Background(),
		makeTasks("r-1", "r-2", "r-3", "r-4", "r-5", "r-6"), task.Solutions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("resumed run results = %d, want 6", len(all))
	}
	if len(stub2.ran) != 2 {
		t.Errorf("resumed run executed %v, want only r-5 and r-6", stub2.ran)
	}
	for _, id := range stub2.ran {
		if id != "r-5" && id != "r-6" {
			t.Errorf("completed task %s was re-executed", id)
		}
	}
}

func TestCorruptCheckpointForcesFullRun(t *testing.T) {
	stub := &stubRunner{}
	engine, cfg := engineFor(t, stub, true)
	if _, err := engine.Run(context.Background(), makeTasks("c-1", "c-2"), task.Solutions{}); err != nil {
		t.Fatal(err)
	}

	// Corrupt the checkpoint file.
	path := filepath.Join(cfg.Paths.CheckpointDir, "eval-test_checkpoint.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	stub2 := &stubRunner{}
	cm, err := checkpoint.NewManager(cfg.Paths.CheckpointDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	engine2 := New(cfg, stub2, cm, "eval-test", nil)
	if _, err := engine2.Run(context.Background(), makeTasks("c-1", "c-2"), task.Solutions{}); err != nil {
		t.Fatal(err)
	}
	if len(stub2.ran) != 2 {
		t.Errorf("corrupt checkpoint must force a full run, executed %v", stub2.ran)
	}
}

func TestObserversSeeEveryResult(t *testing.T) {
	stub := &stubRunner{}
	engine, _ := engineFor(t, stub, false)

	var observed []string
	engine.Observe(func(tk *task.Task, result *runner.Result) {
		observed = append(observed, tk.InstanceID+":"+string(result.Status))
	})

	if _, err := engine.Run(context.Background(), makeTasks("o-1", "o-2"), task.Solutions{}); err != nil {
		t.Fatal(err)
	}
	if len(observed) != 2 {
		t.Errorf("observed = %v", observed)
	}
}
