package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	if cfg.General.MaxWorkers != 3 {
		t.Fatalf("expected default max_workers=3, got %d", cfg.General.MaxWorkers)
	}
	if cfg.Timeouts.PatchApply.Duration != 60*time.Second {
		t.Fatalf("expected default patch_apply=60s, got %v", cfg.Timeouts.PatchApply.Duration)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sfbench.toml")
	toml := `
[general]
max_workers = 7

[timeouts]
patch_apply = "90s"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.MaxWorkers != 7 {
		t.Fatalf("expected max_workers=7, got %d", cfg.General.MaxWorkers)
	}
	if cfg.Timeouts.PatchApply.Duration != 90*time.Second {
		t.Fatalf("expected patch_apply=90s, got %v", cfg.Timeouts.PatchApply.Duration)
	}
	// Untouched field should still carry its default.
	if cfg.Timeouts.Clone.Duration != 300*time.Second {
		t.Fatalf("expected clone timeout to keep default, got %v", cfg.Timeouts.Clone.Duration)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sfbench.toml")
	if err := os.WriteFile(path, []byte("[general]\nmax_workers = 7\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SF_BENCH_GENERAL_MAX_WORKERS", "11")
	t.Setenv("SF_BENCH_TIMEOUTS_PATCH_APPLY", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.MaxWorkers != 11 {
		t.Fatalf("expected env override max_workers=11, got %d", cfg.General.MaxWorkers)
	}
	if cfg.Timeouts.PatchApply.Duration != 45*time.Second {
		t.Fatalf("expected env override patch_apply=45s, got %v", cfg.Timeouts.PatchApply.Duration)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sfbench.toml")
	if err := os.WriteFile(path, []byte("[general]\nbackend = \"bogus\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for bogus backend")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.Dispatch.WarningPrefixes[0] = "mutated"
	if cfg.Dispatch.WarningPrefixes[0] == "mutated" {
		t.Fatalf("Clone should deep-copy slices")
	}
}
