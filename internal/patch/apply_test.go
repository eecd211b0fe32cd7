package patch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

func initRepoWithFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("running %v: %v (%s)", args, err, out)
		}
	}
	run("git", "init")
	run("git", "config", "user.email", "test@example.com")
	run("git", "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "foo.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	run("git", "add", ".")
	run("git", "commit", "-m", "initial")
	return dir
}

func TestApplyStrictStrategySucceeds(t *testing.T) {
	dir := initRepoWithFile(t, "old line\n")
	gw := subprocess.New(nil)

	strategy, err := Apply(context.Background(), gw, dir, validDiff, 10*time.Second, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if strategy != StrategyStrict {
		t.Fatalf("expected strict strategy to succeed first, got %s", strategy)
	}

	got, err := os.ReadFile(filepath.Join(dir, "foo.txt"))
	if err != nil {
		t.Fatalf("read foo.txt: %v", err)
	}
	if string(got) != "new line\nsecond line\n" {
		t.Fatalf("unexpected file contents: %q", got)
	}
}

func TestApplyExhaustsLadderOnGarbage(t *testing.T) {
	dir := initRepoWithFile(t, "old line\n")
	gw := subprocess.New(nil)

	garbage := `diff --git a/foo.txt b/foo.txt
--- a/foo.txt
+++ b/foo.txt
@@ -1,50 +1,50 @@
-this context does not exist anywhere in the file
+neither does this
`
	_, err := Apply(context.Background(), gw, dir, garbage, 10*time.Second, nil)
	if err == nil {
		t.Fatalf("expected ladder exhaustion to fail")
	}
	patchErr, ok := err.(*errkind.PatchApplicationError)
	if !ok {
		t.Fatalf("expected PatchApplicationError, got %T: %v", err, err)
	}
	if len(patchErr.StrategiesTried) != 4 {
		t.Fatalf("expected all 4 strategies tried, got %v", patchErr.StrategiesTried)
	}
}

func TestRunPipelineEndToEnd(t *testing.T) {
	dir := initRepoWithFile(t, "old line\n")
	gw := subprocess.New(nil)
	policy := subprocess.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}

	wrapped := "```diff\n" + validDiff + "```\n"
	result, err := Run(context.Background(), gw, policy, dir, wrapped, 10*time.Second, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Strategy != StrategyStrict {
		t.Fatalf("expected strict strategy, got %s", result.Strategy)
	}
}

func TestRunPipelineDoesNotRetryContentFailure(t *testing.T) {
	dir := initRepoWithFile(t, "old line\n")
	gw := subprocess.New(nil)
	policy := subprocess.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}

	_, err := Run(context.Background(), gw, policy, dir, "hello world, not a diff at all", 5*time.Second, nil)
	if !isPatchApplicationError(err) {
		t.Fatalf("expected PatchApplicationError for non-diff input, got %v", err)
	}
}

func TestEmptyDiffFailsBeforeAnyGitCall(t *testing.T) {
	dir := initRepoWithFile(t, "old line\n")
	gw := subprocess.New(nil)
	policy := subprocess.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}

	_, err := Run(context.Background(), gw, policy, dir, "", 5*time.Second, nil)
	if !isPatchApplicationError(err) {
		t.Fatalf("expected PatchApplicationError for empty diff, got %v", err)
	}
}
