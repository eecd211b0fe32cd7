package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func sample() *Checkpoint {
	return &Checkpoint{
		EvaluationID:   "eval-123",
		CompletedTasks: []string{"apex-001", "apex-002"},
		Results: map[string]json.RawMessage{
			"apex-001": json.RawMessage(`{"task_id":"apex-001","status":"PASS"}`),
			"apex-002": json.RawMessage(`{"task_id":"apex-002","status":"FAIL"}`),
		},
		Metadata: map[string]any{"model": "test-model"},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Save(sample()); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded := m.Load("eval-123")
	if loaded == nil {
		t.Fatal("expected checkpoint to load")
	}
	if len(loaded.CompletedTasks) != 2 {
		t.Errorf("completed = %v", loaded.CompletedTasks)
	}
	if string(loaded.Results["apex-001"]) == "" {
		t.Error("expected stored result for apex-001")
	}

	// Hash sidecar matches the embedded hash.
	sidecar, err := os.ReadFile(filepath.Join(dir, "eval-123_checkpoint.sha256"))
	if err != nil {
		t.Fatal(err)
	}
	if string(sidecar) != loaded.CheckpointHash {
		t.Errorf("sidecar %q != embedded %q", sidecar, loaded.CheckpointHash)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	m, err := NewManager(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cp := m.Load("never-saved"); cp != nil {
		t.Errorf("expected nil, got %+v", cp)
	}
}

func TestBitFlipRejectsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Save(sample()); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "eval-123_checkpoint.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip the first '1' byte in the file (inside the evaluation_id value).
	idx := -1
	for i, b := range data {
		if b == '1' {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatal("no byte to flip")
	}
	data[idx] = '9'
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if cp := m.Load("eval-123"); cp != nil {
		t.Error("tampered checkpoint must be rejected")
	}
}

func TestHashIsStableAndIgnoresHashField(t *testing.T) {
	cp := sample()
	h1, err := Hash(cp)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(cp)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable: %s vs %s", h1, h2)
	}

	cp.CheckpointHash = "something-else"
	h3, err := Hash(cp)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h3 {
		t.Error("checkpoint_hash field must be excluded from hashing")
	}

	cp.CompletedTasks = append(cp.CompletedTasks, "apex-003")
	h4, err := Hash(cp)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h4 {
		t.Error("content change must change the hash")
	}
}

func TestEvaluationHashTracksInputs(t *testing.T) {
	dir := t.TempDir()
	tasksFile := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(tasksFile, []byte(`[{"instance_id":"a"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := map[string]any{"max_workers": 3}
	h1, err := EvaluationHash("model-a", tasksFile, cfg)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := EvaluationHash("model-a", tasksFile, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("evaluation hash must be deterministic")
	}

	h3, err := EvaluationHash("model-b", tasksFile, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Error("model name must affect the hash")
	}

	if err := os.WriteFile(tasksFile, []byte(`[{"instance_id":"b"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	h4, err := EvaluationHash("model-a", tasksFile, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h4 {
		t.Error("tasks file content must affect the hash")
	}
}
