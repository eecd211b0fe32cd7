// Package audit keeps an append-only structured record of every external
// call made during an evaluation. Payloads are hashed (SHA-256) rather than
// stored verbatim, and sensitive request headers are redacted before
// hashing, so the trail proves what ran without retaining secrets.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Redacted replaces sensitive header values before hashing.
const Redacted = "***REDACTED***"

// APICall records one AI-provider request/response pair by hash.
type APICall struct {
	Timestamp    string  `json:"timestamp"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	RequestHash  string  `json:"request_hash"`
	ResponseHash string  `json:"response_hash"`
	DurationMS   float64 `json:"duration_ms"`
	Status       string  `json:"status"`
}

// SubprocessCommand records one external CLI invocation.
type SubprocessCommand struct {
	Timestamp  string  `json:"timestamp"`
	Command    string  `json:"command"`
	ExitCode   int     `json:"exit_code"`
	StdoutHash string  `json:"stdout_hash"`
	StderrHash string  `json:"stderr_hash"`
	DurationMS float64 `json:"duration_ms"`
}

// GitOperation records one git call.
type GitOperation struct {
	Timestamp  string  `json:"timestamp"`
	Operation  string  `json:"operation"`
	Command    string  `json:"command"`
	Success    bool    `json:"success"`
	DurationMS float64 `json:"duration_ms"`
}

// LogLine is one free-form execution-log entry.
type LogLine struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Record is the complete audit trail for one task within an evaluation.
type Record struct {
	RecordID           string              `json:"record_id"`
	EvaluationID       string              `json:"evaluation_id"`
	Timestamp          string              `json:"timestamp"`
	ModelName          string              `json:"model_name"`
	TaskID             string              `json:"task_id"`
	InputHash          string              `json:"input_hash"`
	OutputHash         string              `json:"output_hash"`
	OrgID              string              `json:"org_id,omitempty"`
	APICalls           []APICall           `json:"api_calls"`
	SubprocessCommands []SubprocessCommand `json:"subprocess_commands"`
	GitOperations      []GitOperation      `json:"git_operations"`
	ExecutionLogs      []LogLine           `json:"execution_logs"`
	ValidationResults  map[string]any      `json:"validation_results"`
	FinalStatus        string              `json:"final_status"`
	CheckpointHash     string              `json:"checkpoint_hash,omitempty"`
}

// Logger accumulates Records for one evaluation and rewrites the whole
// audit file on every append. One writer per evaluation; readers see an
// eventually-consistent file.
type Logger struct {
	evaluationID string
	path         string
	logger       *slog.Logger

	mu      sync.Mutex
	records []*Record
}

// NewLogger opens (or creates) the audit trail for evaluationID under dir,
// loading any records a previous process left behind.
func NewLogger(evaluationID, dir string, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: creating directory %s: %w", dir, err)
	}

	l := &Logger{
		evaluationID: evaluationID,
		path:         filepath.Join(dir, "audit.json"),
		logger:       logger,
	}

	if data, err := os.ReadFile(l.path); err == nil {
		if err := json.Unmarshal(data, &l.records); err != nil {
			logger.Warn("existing audit file unreadable, starting fresh", "path", l.path, "error", err)
			l.records = nil
		}
	}
	return l, nil
}

// Create opens a new Record for one task, hashing the input prompt and the
// output patch immediately.
func (l *Logger) Create(modelName, taskID, input, output string) *Record {
	record := &Record{
		RecordID:           uuid.NewString(),
		EvaluationID:       l.evaluationID,
		Timestamp:          now(),
		ModelName:          modelName,
		TaskID:             taskID,
		InputHash:          HashData(input),
		OutputHash:         HashData(output),
		ValidationResults:  map[string]any{},
		APICalls:           []APICall{},
		SubprocessCommands: []SubprocessCommand{},
		GitOperations:      []GitOperation{},
		ExecutionLogs:      []LogLine{},
		FinalStatus:        "unknown",
	}
	l.mu.Lock()
	l.records = append(l.records, record)
	l.mu.Unlock()
	l.save()
	return record
}

// LogAPICall appends an AI-provider call, redacting sensitive headers from
// the request before hashing it.
func (l *Logger) LogAPICall(record *Record, provider, model string, request, response map[string]any, duration time.Duration) {
	status := "success"
	if _, hasError := response["error"]; hasError {
		status = "error"
	}
	call := APICall{
		Timestamp:    now(),
		Provider:     provider,
		Model:        model,
		RequestHash:  HashData(canonical(SanitizeRequest(request))),
		ResponseHash: HashData(canonical(response)),
		DurationMS:   float64(duration.Milliseconds()),
		Status:       status,
	}
	l.mu.Lock()
	record.APICalls = append(record.APICalls, call)
	l.mu.Unlock()
	l.save()
}

// LogSubprocess appends one external CLI invocation by output hash.
func (l *Logger) LogSubprocess(record *Record, command string, exitCode int, stdout, stderr string, duration time.Duration) {
	entry := SubprocessCommand{
		Timestamp:  now(),
		Command:    command,
		ExitCode:   exitCode,
		StdoutHash: HashData(stdout),
		StderrHash: HashData(stderr),
		DurationMS: float64(duration.Milliseconds()),
	}
	l.mu.Lock()
	record.SubprocessCommands = append(record.SubprocessCommands, entry)
	l.mu.Unlock()
	l.save()
}

// LogGitOperation appends one git call.
func (l *Logger) LogGitOperation(record *Record, operation, command string, success bool, duration time.Duration) {
	entry := GitOperation{
		Timestamp:  now(),
		Operation:  operation,
		Command:    command,
		Success:    success,
		DurationMS: float64(duration.Milliseconds()),
	}
	l.mu.Lock()
	record.GitOperations = append(record.GitOperations, entry)
	l.mu.Unlock()
	l.save()
}

// LogExecution appends a free-form execution-log line.
func (l *Logger) LogExecution(record *Record, level, message string) {
	l.mu.Lock()
	record.ExecutionLogs = append(record.ExecutionLogs, LogLine{Timestamp: now(), Level: level, Message: message})
	l.mu.Unlock()
	l.save()
}

// SetValidationResults attaches the functional-validation outcome.
func (l *Logger) SetValidationResults(record *Record, results map[string]any) {
	l.mu.Lock()
	record.ValidationResults = results
	l.mu.Unlock()
	l.save()
}

// Finalize stamps the record's terminal status and optional checkpoint hash.
func (l *Logger) Finalize(record *Record, status, checkpointHash string) {
	l.mu.Lock()
	record.FinalStatus = status
	record.CheckpointHash = checkpointHash
	l.mu.Unlock()
	l.save()
}

// SetOrgID records the scratch org a task ran against.
func (l *Logger) SetOrgID(record *Record, orgID string) {
	l.mu.Lock()
	record.OrgID = orgID
	l.mu.Unlock()
	l.save()
}

// save rewrites the whole audit file. Serialization through the mutex makes
// the single-writer model explicit; failures are logged, never surfaced.
func (l *Logger) save() {
	l.mu.Lock()
	data, err := json.MarshalIndent(l.records, "", "  ")
	l.mu.Unlock()
	if err != nil {
		l.logger.Error("audit: encoding failed", "error", err)
		return
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		l.logger.Error("audit: write failed", "path", l.path, "error", err)
	}
}

// HashData returns the hex SHA-256 of data.
func HashData(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SanitizeRequest returns a copy of request with every header whose key
// contains "key", "token", or "authorization" (case-insensitive) replaced
// by the redaction marker. Applied before hashing so secrets never
// influence — or leak through — the audit trail.
func SanitizeRequest(request map[string]any) map[string]any {
	sanitized := make(map[string]any, len(request))
	for k, v := range request {
		sanitized[k] = v
	}
	headers, ok := request["headers"].(map[string]any)
	if !ok {
		return sanitized
	}
	cleaned := make(map[string]any, len(headers))
	for key, value := range headers {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "authorization") {
			cleaned[key] = Redacted
		} else {
			cleaned[key] = value
		}
	}
	sanitized["headers"] = cleaned
	return sanitized
}

// canonical renders a map with sorted keys so equal payloads hash equally.
func canonical(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
