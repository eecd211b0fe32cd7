// Package patch implements the patch pipeline: clean a model-produced
// diff, validate its structure, and apply it through a 4-strategy fallback
// ladder. Model output is typically mostly a unified diff, wrapped in
// markdown fences, interleaved with prose, or truncated mid-hunk; the
// cleaner repairs what it can and the structure check rejects the rest
// before any git process is spawned.
package patch

import (
	"regexp"
	"strings"
)

var (
	diffGitRe  = regexp.MustCompile(`^diff --git `)
	bulletRe   = regexp.MustCompile(`^[-*] `)
	numberedRe = regexp.MustCompile(`^\d+[.)]`)
	hunkHeadRe = regexp.MustCompile(`^@@ `)
)

// Clean rewrites a model-produced diff line-by-line, stripping markdown
// fences, prose interleaving, duplicate diff headers, malformed +/- lines,
// and numbered-list explanations prefixed with '+'.
//
// Clean is idempotent: Clean(Clean(x)) == Clean(x) for all x.
func Clean(text string) string {
	lines := splitLines(text)

	// Rule 1: drop fenced-code-block markers.
	lines = dropCodeFences(lines)

	// Rule 2: keep only up to (and including) the first "diff --git" line's
	// following content — ignore a second or later diff --git header.
	lines = truncateAtSecondDiffHeader(lines)

	// Rule 3: before the first diff marker, drop prose lines.
	firstMarker := firstDiffMarkerIndex(lines)
	if firstMarker > 0 {
		kept := lines[firstMarker:]
		lines = kept
	} else if firstMarker < 0 {
		// No diff markers at all: nothing survives cleaning.
		return ""
	}

	// Rules 4-8: line-wise filtering of the diff body.
	lines = filterDiffBody(lines)

	out := strings.Join(lines, "\n")
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func dropCodeFences(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// truncateAtSecondDiffHeader drops everything from (and including) a second
// "diff --git" line onward, since the model sometimes repeats the header
// when re-explaining its own diff.
func truncateAtSecondDiffHeader(lines []string) []string {
	seen := false
	for i, line := range lines {
		if diffGitRe.MatchString(line) {
			if seen {
				return lines[:i]
			}
			seen = true
		}
	}
	return lines
}

// firstDiffMarkerIndex returns the index of the first line that is itself a
// diff marker (diff --git, ---, +++, @@, index), -1 if none exists, or 0 if
// the first line already is one (nothing to drop).
func firstDiffMarkerIndex(lines []string) int {
	for i, line := range lines {
		if isDiffMarkerLine(line) {
			return i
		}
	}
	return -1
}

func isDiffMarkerLine(line string) bool {
	return diffGitRe.MatchString(line) ||
		strings.HasPrefix(line, "--- ") || line == "---" ||
		strings.HasPrefix(line, "+++ ") || line == "+++" ||
		strings.HasPrefix(line, "@@ ") ||
		strings.HasPrefix(line, "index ")
}

// filterDiffBody applies rules 4-8 once the text begins at the first diff
// marker.
func filterDiffBody(lines []string) []string {
	out := make([]string, 0, len(lines))
	afterHunkHeader := false
	sawDiffHeader := false

	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")

		// Rule 4: preserve core diff-structure lines as-is.
		if isCoreDiffLine(line) {
			out = append(out, line)
			afterHunkHeader = hunkHeadRe.MatchString(line)
			if diffGitRe.MatchString(line) {
				sawDiffHeader = true
			}
			continue
		}

		// Rule 6: drop a blank line immediately following a hunk header.
		if afterHunkHeader && strings.TrimSpace(line) == "" {
			afterHunkHeader = false
			continue
		}
		afterHunkHeader = false

		// Rule 7: after the first diff header, only diff-metadata or
		// standard content (+/-/space-prefixed context) lines survive.
		if sawDiffHeader && !isDiffMetadataLine(line) && !isDiffContentLine(line) {
			continue
		}

		// Rule 5: filter malformed +/- lines.
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			if shouldDropAddRemoveLine(line) {
				continue
			}
		}

		out = append(out, line)
	}

	return finalSweep(out)
}

func isCoreDiffLine(line string) bool {
	if diffGitRe.MatchString(line) {
		return true
	}
	if line == "---" || strings.HasPrefix(line, "--- ") {
		return true
	}
	if line == "+++" || strings.HasPrefix(line, "+++ ") {
		return true
	}
	if hunkHeadRe.MatchString(line) || line == "@@" {
		return true
	}
	if strings.TrimRight(line, " ") == `\ No newline at end of file` {
		return true
	}
	return false
}

func isDiffMetadataLine(line string) bool {
	prefixes := []string{"index ", "new file", "deleted file", "similarity", "rename"}
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func isDiffContentLine(line string) bool {
	if line == "" {
		return true // blank context line
	}
	switch line[0] {
	case '+', '-', ' ':
		return true
	default:
		return false
	}
}

// shouldDropAddRemoveLine implements Rule 5: drop a +/- line that carries no
// real payload — truncated single-character artifacts, bare bullets, and
// numbered-list markers the model sometimes prefixes with '+' when
// re-explaining its own patch in prose.
func shouldDropAddRemoveLine(line string) bool {
	if line == "+" || line == "-" || line == "+ " || line == "- " {
		return true
	}
	sign := line[0]
	payload := line[1:]
	trimmedPayload := strings.TrimLeft(payload, " ")

	if strings.TrimSpace(payload) == "" {
		return true
	}
	if len(trimmedPayload) == 1 && !isAlphanumeric(rune(trimmedPayload[0])) {
		return true
	}
	if numberedRe.MatchString(strings.TrimSpace(trimmedPayload)) {
		return true
	}
	if sign == '+' && bulletRe.MatchString(trimmedPayload) {
		return true
	}
	return false
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// finalSweep implements Rule 8: a last pass removing any standalone +/- line
// whose predecessor is not itself diff context (i.e. it is orphaned prose
// that survived the earlier filters because it resembled a diff line).
func finalSweep(lines []string) []string {
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if (strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-")) && !isCoreDiffLine(line) {
			if i == 0 || !isPrecedingDiffContext(lines[i-1]) {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func isPrecedingDiffContext(line string) bool {
	if isCoreDiffLine(line) {
		return true
	}
	if line == "" {
		return true
	}
	switch line[0] {
	case '+', '-', ' ':
		return true
	default:
		return false
	}
}
