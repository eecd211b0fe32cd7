// Package checkpoint persists which tasks of an evaluation are complete so
// an interrupted run can resume without re-executing finished work. Every
// checkpoint carries a SHA-256 over its own canonical encoding; a record
// that fails verification is treated as absent.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Checkpoint is the persisted resume state for one evaluation.
type Checkpoint struct {
	EvaluationID   string                     `json:"evaluation_id"`
	Timestamp      string                     `json:"timestamp"`
	CompletedTasks []string                   `json:"completed_tasks"`
	Results        map[string]json.RawMessage `json:"results"`
	Metadata       map[string]any             `json:"metadata"`
	CheckpointHash string                     `json:"checkpoint_hash,omitempty"`
}

// Manager reads and writes checkpoint files under a single directory:
// <dir>/<evaluation_id>_checkpoint.json with a sibling .sha256.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// NewManager returns a Manager rooted at dir, creating it if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: creating directory %s: %w", dir, err)
	}
	return &Manager{dir: dir, logger: logger}, nil
}

func (m *Manager) checkpointPath(evaluationID string) string {
	return filepath.Join(m.dir, evaluationID+"_checkpoint.json")
}

func (m *Manager) hashPath(evaluationID string) string {
	return filepath.Join(m.dir, evaluationID+"_checkpoint.sha256")
}

// Save writes the checkpoint atomically: the hash is computed over the
// canonical encoding with checkpoint_hash omitted, stamped into the record,
// and the file is renamed into place so readers never see a torn write.
func (m *Manager) Save(cp *Checkpoint) error {
	cp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	hash, err := Hash(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: hashing: %w", err)
	}
	cp.CheckpointHash = hash

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encoding: %w", err)
	}

	path := m.checkpointPath(cp.EvaluationID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: renaming into place: %w", err)
	}
	if err := os.WriteFile(m.hashPath(cp.EvaluationID), []byte(hash), 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing hash sidecar: %w", err)
	}

	m.logger.Info("checkpoint saved", "evaluation_id", cp.EvaluationID,
		"completed", len(cp.CompletedTasks), "hash", hash[:16])
	return nil
}

// Load returns the checkpoint for evaluationID, or nil when none exists or
// the stored hash does not match a recomputation. Integrity failures are
// logged at ERROR and reported as absence — a corrupt resume state is worse
// than a fresh start.
func (m *Manager) Load(evaluationID string) *Checkpoint {
	data, err := os.ReadFile(m.checkpointPath(evaluationID))
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Error("checkpoint unreadable", "evaluation_id", evaluationID, "error", err)
		}
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		m.logger.Error("checkpoint corrupt, ignoring", "evaluation_id", evaluationID, "error", err)
		return nil
	}

	stored := cp.CheckpointHash
	recomputed, err := Hash(&cp)
	if err != nil || stored == "" || stored != recomputed {
		m.logger.Error("checkpoint integrity check failed, ignoring",
			"evaluation_id", evaluationID, "stored", stored, "recomputed", recomputed)
		return nil
	}
	return &cp
}

// Hash computes the SHA-256 of the checkpoint's canonical JSON encoding
// with the checkpoint_hash field omitted. Canonical means sorted object
// keys, which encoding/json guarantees for maps.
func Hash(cp *Checkpoint) (string, error) {
	encoded, err := json.Marshal(cp)
	if err != nil {
		return "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return "", err
	}
	delete(fields, "checkpoint_hash")
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// EvaluationHash computes the run-provenance hash over the model name, the
// tasks file's content hash, and the configuration. Written into the report
// so downstream consumers can confirm what was actually evaluated.
func EvaluationHash(modelName, tasksFile string, cfg any) (string, error) {
	tasksHash := ""
	if data, err := os.ReadFile(tasksFile); err == nil {
		sum := sha256.Sum256(data)
		tasksHash = hex.EncodeToString(sum[:])
	}

	input := map[string]any{
		"model_name":      modelName,
		"tasks_file":      tasksFile,
		"tasks_file_hash": tasksHash,
		"config":          cfg,
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("checkpoint: encoding evaluation hash input: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
