package patch

import (
	"strings"

	"github.com/antigravity-dev/sfbench/internal/errkind"
)

// CheckStructure truncates a truncated/malformed trailing hunk and then
// verifies what remains still looks like a real diff. It returns the
// (possibly truncated) text ready for Apply, or a
// *errkind.PatchApplicationError if the text cannot possibly be a diff.
func CheckStructure(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &errkind.PatchApplicationError{Reason: "patch does not contain valid diff content (empty after cleaning)"}
	}

	lines := splitLines(strings.TrimRight(text, "\n"))

	if !hasContentLine(lines) {
		return "", &errkind.PatchApplicationError{Reason: "patch does not contain valid diff content (no +/-/@@ lines)"}
	}

	lines = truncateTrailingIncompleteHunk(lines)
	if len(lines) == 0 {
		return "", &errkind.PatchApplicationError{Reason: "patch does not contain valid diff content after truncating incomplete trailing hunk"}
	}

	if !looksLikeDiff(lines) {
		return "", &errkind.PatchApplicationError{Reason: "patch does not contain valid diff content (missing diff --git header or file-header/hunk/content triple)"}
	}

	out := strings.Join(lines, "\n") + "\n"
	return out, nil
}

// hasContentLine requires at least one +, -, or @@ line that is not itself a
// bare file header (---/+++).
func hasContentLine(lines []string) bool {
	for _, line := range lines {
		if hunkHeadRe.MatchString(line) || line == "@@" {
			return true
		}
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			return true
		}
		if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
			return true
		}
	}
	return false
}

// truncateTrailingIncompleteHunk drops a final hunk header with no body, or
// any bare trailing file header, leaving the last complete diff line.
func truncateTrailingIncompleteHunk(lines []string) []string {
	for len(lines) > 0 {
		last := lines[len(lines)-1]
		trimmed := strings.TrimSpace(last)

		if hunkHeadRe.MatchString(last) || trimmed == "@@" {
			// Hunk header with no following body line: drop it.
			lines = lines[:len(lines)-1]
			continue
		}
		if diffGitRe.MatchString(last) || last == "---" || strings.HasPrefix(last, "--- ") ||
			last == "+++" || strings.HasPrefix(last, "+++ ") {
			// Bare trailing file header with no hunk: drop it.
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	return lines
}

// looksLikeDiff requires either a "diff --git" header somewhere, or the
// minimal file-header + hunk + content triple.
func looksLikeDiff(lines []string) bool {
	for _, line := range lines {
		if diffGitRe.MatchString(line) {
			return true
		}
	}

	sawMinus, sawPlus, sawHunk, sawContent := false, false, false, false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- "):
			sawMinus = true
		case strings.HasPrefix(line, "+++ "):
			sawPlus = true
		case hunkHeadRe.MatchString(line):
			sawHunk = true
		case strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, " "):
			sawContent = true
		}
	}
	return sawMinus && sawPlus && sawHunk && sawContent
}
