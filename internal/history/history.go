// Package history provides SQLite-backed persistence of past evaluation
// runs, supplementing the canonical JSON artifacts with a queryable record
// across runs. The JSON report is still the artifact of record; this store
// exists for trend queries and operational dashboards.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for evaluation history.
type Store struct {
	db *sql.DB
}

// Run is one evaluation run's summary row.
type Run struct {
	ID             int64
	RunID          string
	EvaluationID   string
	ModelName      string
	Dataset        string
	EvaluationHash string
	StartedAt      time.Time
	CompletedAt    sql.NullTime
	TotalTasks     int
	Passed         int
	Failed         int
	Timeout        int
	Errored        int
	ResolutionRate float64
}

// TaskRecord is one task's outcome within a run.
type TaskRecord struct {
	ID              int64
	RunID           string
	TaskID          string
	TaskType        string
	Status          string
	Score           float64
	Resolved        bool
	DurationSeconds float64
	ErrorMessage    string
	RecordedAt      time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	evaluation_id TEXT NOT NULL,
	model_name TEXT NOT NULL,
	dataset TEXT NOT NULL DEFAULT 'verified',
	evaluation_hash TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	total_tasks INTEGER NOT NULL DEFAULT 0,
	passed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	timeout INTEGER NOT NULL DEFAULT 0,
	errored INTEGER NOT NULL DEFAULT 0,
	resolution_rate REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	task_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	score REAL NOT NULL DEFAULT 0,
	resolved INTEGER NOT NULL DEFAULT 0,
	duration_s REAL NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model_name, started_at);
CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results(run_id);
CREATE INDEX IF NOT EXISTS idx_task_results_task ON task_results(task_id);
`

// Open creates or opens the history database at the given path and ensures
// the schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a new run row when the scheduler begins dispatching.
func (s *Store) StartRun(runID, evaluationID, modelName, dataset, evaluationHash string, totalTasks int) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, evaluation_id, model_name, dataset, evaluation_hash, total_tasks)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, evaluationID, modelName, dataset, evaluationHash, totalTasks)
	if err != nil {
		return fmt.Errorf("history: start run: %w", err)
	}
	return nil
}

// RecordTask inserts one task outcome as it completes.
func (s *Store) RecordTask(record TaskRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO task_results (run_id, task_id, task_type, status, score, resolved, duration_s, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID, record.TaskID, record.TaskType, record.Status,
		record.Score, boolToInt(record.Resolved), record.DurationSeconds, record.ErrorMessage)
	if err != nil {
		return fmt.Errorf("history: record task: %w", err)
	}
	return nil
}

// CompleteRun stamps the run's final statistics.
func (s *Store) CompleteRun(runID string, passed, failed, timeout, errored int, resolutionRate float64) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET completed_at = datetime('now'), passed = ?, failed = ?, timeout = ?, errored = ?, resolution_rate = ?
		WHERE run_id = ?`,
		passed, failed, timeout, errored, resolutionRate, runID)
	if err != nil {
		return fmt.Errorf("history: complete run: %w", err)
	}
	return nil
}

// RecentRuns lists the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, evaluation_id, model_name, dataset, evaluation_hash,
		       started_at, completed_at, total_tasks, passed, failed, timeout, errored, resolution_rate
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RunID, &r.EvaluationID, &r.ModelName, &r.Dataset,
			&r.EvaluationHash, &r.StartedAt, &r.CompletedAt, &r.TotalTasks,
			&r.Passed, &r.Failed, &r.Timeout, &r.Errored, &r.ResolutionRate); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TasksForRun lists every recorded task outcome for one run.
func (s *Store) TasksForRun(runID string) ([]TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, task_id, task_type, status, score, resolved, duration_s, error_message, recorded_at
		FROM task_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: query task results: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var resolved int
		if err := rows.Scan(&r.ID, &r.RunID, &r.TaskID, &r.TaskType, &r.Status,
			&r.Score, &resolved, &r.DurationSeconds, &r.ErrorMessage, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("history: scan task result: %w", err)
		}
		r.Resolved = resolved != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// TaskHistory lists one task's outcomes across runs, newest first. Useful
// for spotting flaky tasks whose status flips between runs.
func (s *Store) TaskHistory(taskID string, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, task_id, task_type, status, score, resolved, duration_s, error_message, recorded_at
		FROM task_results WHERE task_id = ? ORDER BY id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query task history: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var resolved int
		if err := rows.Scan(&r.ID, &r.RunID, &r.TaskID, &r.TaskType, &r.Status,
			&r.Score, &resolved, &r.DurationSeconds, &r.ErrorMessage, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("history: scan task history: %w", err)
		}
		r.Resolved = resolved != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
