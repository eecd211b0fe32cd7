package patch

import (
	"testing"

	"github.com/antigravity-dev/sfbench/internal/errkind"
)

func TestCheckStructureRejectsEmpty(t *testing.T) {
	_, err := CheckStructure("")
	if !isPatchApplicationError(err) {
		t.Fatalf("expected PatchApplicationError for empty input, got %v", err)
	}
}

func TestCheckStructureRejectsNoContentLines(t *testing.T) {
	_, err := CheckStructure("diff --git a/foo b/foo\n--- a/foo\n+++ b/foo\n")
	if !isPatchApplicationError(err) {
		t.Fatalf("expected PatchApplicationError for headers with no hunk, got %v", err)
	}
}

func TestCheckStructureAcceptsValidDiff(t *testing.T) {
	out, err := CheckStructure(validDiff)
	if err != nil {
		t.Fatalf("expected valid diff to pass structure check, got %v", err)
	}
	if out == "" || out[len(out)-1] != '\n' {
		t.Fatalf("expected output to terminate with newline, got %q", out)
	}
}

func TestCheckStructureTruncatesTrailingBareHunkHeader(t *testing.T) {
	in := validDiff + "@@ -5,2 +5,2 @@\n"
	out, err := CheckStructure(in)
	if err != nil {
		t.Fatalf("expected truncation to succeed, got %v", err)
	}
	if containsSub(out, "@@ -5,2 +5,2 @@") {
		t.Errorf("expected bare trailing hunk header to be truncated, got %q", out)
	}
}

func TestCheckStructureTruncatesTrailingBareFileHeader(t *testing.T) {
	in := validDiff + "diff --git a/bar.txt b/bar.txt\n--- a/bar.txt\n"
	out, err := CheckStructure(in)
	if err != nil {
		t.Fatalf("expected truncation to succeed, got %v", err)
	}
	if containsSub(out, "bar.txt") {
		t.Errorf("expected bare trailing file header to be truncated, got %q", out)
	}
}

func isPatchApplicationError(err error) bool {
	_, ok := err.(*errkind.PatchApplicationError)
	return ok
}
