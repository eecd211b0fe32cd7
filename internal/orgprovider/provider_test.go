package orgprovider

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/sfbench/internal/errkind"
	"github.com/antigravity-dev/sfbench/internal/subprocess"
)

// fakeRunner replays canned results and records every command it was asked
// to run.
type fakeRunner struct {
	results []fakeResult
	calls   [][]string
}

type fakeResult struct {
	result subprocess.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, cmd subprocess.Command) (subprocess.Result, error) {
	f.calls = append(f.calls, cmd.Argv)
	if len(f.results) == 0 {
		return subprocess.Result{}, nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next.result, next.err
}

func fastRetry() subprocess.RetryPolicy {
	return subprocess.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 1.0, MaxDelay: time.Millisecond}
}

func TestCreateParsesUsername(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{
		result: subprocess.Result{
			ExitCode:      0,
			Stdout:        `{"status":0,"result":{"username":"test-abc@example.com","orgId":"00D000000000001"}}`,
			JSONSucceeded: true,
		},
	}}}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	org, err := p.Create(context.Background(), "bench-apex-001", "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if org.Username != "test-abc@example.com" {
		t.Errorf("username = %q", org.Username)
	}
	if org.Alias != "bench-apex-001" {
		t.Errorf("alias = %q", org.Alias)
	}
	if org.Shared {
		t.Error("created org must not be shared")
	}

	argv := strings.Join(runner.calls[0], " ")
	if !strings.Contains(argv, "org create scratch") || !strings.Contains(argv, "--json") {
		t.Errorf("unexpected argv: %s", argv)
	}
}

func TestCreateFailsWithoutUsername(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{result: subprocess.Result{ExitCode: 0, Stdout: `{"status":0,"result":{}}`, JSONSucceeded: true}},
		{result: subprocess.Result{ExitCode: 0, Stdout: `{"status":0,"result":{}}`, JSONSucceeded: true}},
		{result: subprocess.Result{ExitCode: 0, Stdout: `{"status":0,"result":{}}`, JSONSucceeded: true}},
	}}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	_, err := p.Create(context.Background(), "bench-x", "")
	if err == nil {
		t.Fatal("expected error for missing username")
	}
	if _, ok := err.(*errkind.OrgCreationError); !ok {
		t.Errorf("expected *errkind.OrgCreationError, got %T", err)
	}
}

func TestCreateDoesNotRetryPlatformLimitation(t *testing.T) {
	limitErr := &errkind.PlatformLimitationError{Matched: "ancestorversion", StderrTail: "ancestorVersion not supported"}
	runner := &fakeRunner{results: []fakeResult{{err: limitErr}}}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	_, err := p.Create(context.Background(), "bench-flow-001", "")
	if err != limitErr {
		t.Fatalf("expected the platform limitation surfaced unchanged, got %v", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("platform limitation must not be retried, got %d attempts", len(runner.calls))
	}
}

func TestCreateRetriesTransientFailures(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: &errkind.OrgCreationError{ExitCode: 1, StderrTail: "socket hang up"}},
		{result: subprocess.Result{ExitCode: 0, Stdout: `{"status":0,"result":{"username":"u@x.com"}}`, JSONSucceeded: true}},
	}}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	org, err := p.Create(context.Background(), "bench-y", "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if org.Username != "u@x.com" {
		t.Errorf("username = %q", org.Username)
	}
	if len(runner.calls) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(runner.calls))
	}
}

func TestDeleteSkipsSharedOrg(t *testing.T) {
	runner := &fakeRunner{}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	p.Delete(context.Background(), Shared("external-alias"))
	if len(runner.calls) != 0 {
		t.Errorf("shared org must never be deleted, ran %v", runner.calls)
	}
}

func TestDeleteTargetsUsername(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{result: subprocess.Result{ExitCode: 0}}}}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	p.Delete(context.Background(), &Org{Username: "u@x.com", Alias: "a"})
	argv := strings.Join(runner.calls[0], " ")
	if !strings.Contains(argv, "org delete scratch --target-org u@x.com --no-prompt") {
		t.Errorf("unexpected argv: %s", argv)
	}
}

func TestUsernameForAlias(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{
		result: subprocess.Result{
			ExitCode:      0,
			Stdout:        `{"status":0,"result":{"scratchOrgs":[{"alias":"other","username":"o@x.com"},{"alias":"mine","username":"m@x.com"}]}}`,
			JSONSucceeded: true,
		},
	}}}
	p := New(runner, "", 1, time.Minute, time.Minute, fastRetry(), nil)

	username, err := p.UsernameForAlias(context.Background(), "mine")
	if err != nil {
		t.Fatalf("UsernameForAlias error: %v", err)
	}
	if username != "m@x.com" {
		t.Errorf("username = %q", username)
	}
}

func TestInventoryCheckFloor(t *testing.T) {
	orgList := `{"status":0,"result":{"devHubs":[{"alias":"hub1","username":"hub1@x.com"}],"nonScratchOrgs":[{"username":"hub2@x.com","isDevHub":true}]}}`
	limits := `{"status":0,"result":[{"name":"DailyScratchOrgs","max":80,"remaining":40},{"name":"ActiveScratchOrgs","max":40,"remaining":10}]}`

	runner := &fakeRunner{results: []fakeResult{
		{result: subprocess.Result{ExitCode: 0, Stdout: orgList, JSONSucceeded: true}},
		{result: subprocess.Result{ExitCode: 0, Stdout: limits, JSONSucceeded: true}},
		{result: subprocess.Result{ExitCode: 0, Stdout: limits, JSONSucceeded: true}},
	}}
	inv := NewInventory(runner, nil)

	if err := inv.CheckFloor(context.Background(), 50); err != nil {
		t.Errorf("expected 80 remaining across hubs to satisfy floor 50, got %v", err)
	}

	runner.results = []fakeResult{
		{result: subprocess.Result{ExitCode: 0, Stdout: orgList, JSONSucceeded: true}},
		{result: subprocess.Result{ExitCode: 0, Stdout: limits, JSONSucceeded: true}},
		{result: subprocess.Result{ExitCode: 0, Stdout: limits, JSONSucceeded: true}},
	}
	if err := inv.CheckFloor(context.Background(), 100); err == nil {
		t.Error("expected floor 100 to fail with 80 remaining")
	}
}
