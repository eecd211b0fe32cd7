package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Solutions maps instance_id to unified-diff text. A missing entry means the
// task is tested without modification.
type Solutions map[string]string

// Producer is the opaque patch-producer interface. The core accepts
// already-generated patches; the scheduler does not call a Producer, and a
// task with no stored solution is evaluated without modification.
type Producer interface {
	Generate(ctx context.Context, taskDescription string, context_ string) (string, error)
}

// LoadSolutions loads solutions from path: a directory of
// {instance_id}.patch / .diff files, or a JSON map {instance_id: diff_text}.
// An empty path yields an empty map.
func LoadSolutions(path string) (Solutions, error) {
	if path == "" {
		return Solutions{}, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("solution source %s: %w", path, err)
	}
	if info.IsDir() {
		return loadSolutionDir(path)
	}
	return loadSolutionJSON(path)
}

func loadSolutionDir(dir string) (Solutions, error) {
	solutions := Solutions{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading solution directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".patch" && ext != ".diff" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		// .patch wins over .diff for the same instance_id.
		if _, ok := solutions[id]; ok && ext == ".diff" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading solution %s: %w", entry.Name(), err)
		}
		solutions[id] = string(data)
	}
	return solutions, nil
}

func loadSolutionJSON(path string) (Solutions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading solution file %s: %w", path, err)
	}
	var solutions Solutions
	if err := json.Unmarshal(data, &solutions); err != nil {
		return nil, fmt.Errorf("solution file %s is not a JSON object of diffs: %w", path, err)
	}
	return solutions, nil
}

// APIKeyFromEnv discovers a provider API key from the ambient environment:
// the generic {PROVIDER}_API_KEY plus a fixed list of known specific names.
// Keys are read-only and never logged.
func APIKeyFromEnv(provider string) string {
	if provider != "" {
		name := strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	for _, name := range []string{"OPENROUTER_API_KEY", "ROUTELLM_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}
