// Package errkind defines the closed set of typed failure kinds that the
// evaluation engine classifies every external-command failure into.
// Conflating these into a single generic error would invalidate the
// scoreboard's model-vs-infrastructure attribution, so each kind is its own
// type carrying structured context instead of a formatted string.
package errkind

import "fmt"

// Kind names the closed enum of failure classifications.
type Kind string

const (
	KindTimeout            Kind = "timeout"
	KindOrgCreation        Kind = "org_creation"
	KindPlatformLimitation Kind = "platform_limitation"
	KindPatchApplication   Kind = "patch_application"
	KindCommand            Kind = "command"
	KindGit                Kind = "git"
	KindUnknown            Kind = "unknown"
)

// TimeoutError reports a subprocess killed by the gateway after exceeding its
// bound. Never recovered locally; surfaces as TIMEOUT on the task.
type TimeoutError struct {
	Command string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Command)
}

// OrgCreationError reports a scratch-org creation failure. Retried up to 3
// times with exponential backoff unless it is a PlatformLimitationError.
type OrgCreationError struct {
	Command    string
	ExitCode   int
	StderrTail string
}

func (e *OrgCreationError) Error() string {
	return fmt.Sprintf("org creation failed (exit %d): %s", e.ExitCode, e.StderrTail)
}

// PlatformLimitationError reports an OrgCreationError whose message names a
// platform constraint the workspace cannot satisfy. Treated as a
// model-attributable FAIL, not ERROR, and never retried.
type PlatformLimitationError struct {
	Command    string
	StderrTail string
	Matched    string // the trigger substring that was matched
}

func (e *PlatformLimitationError) Error() string {
	return fmt.Sprintf("platform limitation (%s): %s", e.Matched, e.StderrTail)
}

// PatchApplicationError reports exhaustion of the 4-strategy patch ladder,
// or a structural defect the cleaner could not repair. Model-attributable
// FAIL; the pipeline's internal ladder already tried everything, so this is
// never retried again above it.
type PatchApplicationError struct {
	Reason          string
	StrategiesTried []string
}

func (e *PatchApplicationError) Error() string {
	return fmt.Sprintf("patch does not contain valid diff content or could not be applied: %s (tried: %v)", e.Reason, e.StrategiesTried)
}

// CommandError reports any other non-zero exit with no JSON success
// indicator from the subprocess gateway. Model-attributable FAIL.
type CommandError struct {
	Command    string
	ExitCode   int
	StderrTail string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed (exit %d): %s: %s", e.ExitCode, e.Command, e.StderrTail)
}

// GitError reports a clone/checkout failure. Retried up to 3 times with
// exponential backoff; ERROR if attempts are exhausted.
type GitError struct {
	Op         string // "clone" or "checkout"
	StderrTail string
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s failed: %s", e.Op, e.StderrTail)
}

// UnknownRunnerError reports an unexpected exception inside a task runner
// that doesn't fit any of the above classifications. Never model-attributable.
type UnknownRunnerError struct {
	Detail string
}

func (e *UnknownRunnerError) Error() string {
	return fmt.Sprintf("unclassified runner error: %s", e.Detail)
}

// classify associates each typed error with its Kind, used by IsFailAttributable.
func classify(err error) Kind {
	switch err.(type) {
	case *TimeoutError:
		return KindTimeout
	case *OrgCreationError:
		return KindOrgCreation
	case *PlatformLimitationError:
		return KindPlatformLimitation
	case *PatchApplicationError:
		return KindPatchApplication
	case *CommandError:
		return KindCommand
	case *GitError:
		return KindGit
	default:
		return KindUnknown
	}
}

// IsFailAttributable reports whether err should count against the model
// rather than the infrastructure: any failure caused by invalid/unapplicable
// model output, solution-induced platform constraints, or a failed
// validation command is model-attributable (FAIL). Tool bugs, exhausted-retry
// network hiccups, and unexpected exceptions are infrastructure-attributable
// (ERROR).
func IsFailAttributable(err error) bool {
	if err == nil {
		return false
	}
	switch classify(err) {
	case KindPlatformLimitation, KindPatchApplication, KindCommand:
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	_, ok := err.(*TimeoutError)
	return ok
}

// StderrTail returns at most n characters from the tail of s, so error
// records carry the most recent, most diagnostic stderr output.
func StderrTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
