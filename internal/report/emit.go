package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Emit finalizes the report and writes report.json and summary.md under
// outputDir. The JSON is the canonical artifact.
func Emit(r *Report, outputDir string) (map[string]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("report: creating output directory: %w", err)
	}

	r.Finalize()

	files := map[string]string{}

	jsonPath := filepath.Join(outputDir, "report.json")
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: encoding: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("report: writing %s: %w", jsonPath, err)
	}
	files["json"] = jsonPath

	mdPath := filepath.Join(outputDir, "summary.md")
	if err := os.WriteFile(mdPath, []byte(Markdown(r)), 0o644); err != nil {
		return nil, fmt.Errorf("report: writing %s: %w", mdPath, err)
	}
	files["markdown"] = mdPath

	return files, nil
}

// Markdown renders the human-readable summary.
func Markdown(r *Report) string {
	s := r.Summary
	var b strings.Builder

	fmt.Fprintf(&b, "# SF-Bench Evaluation Report\n\n")
	fmt.Fprintf(&b, "**Model:** %s  \n", r.ModelName)
	fmt.Fprintf(&b, "**Dataset:** %s  \n", r.Dataset)
	fmt.Fprintf(&b, "**Run ID:** %s  \n", r.RunID)
	if started, err := time.Parse(time.RFC3339, r.StartTime); err == nil {
		fmt.Fprintf(&b, "**Date:** %s (%s)\n", started.Format("2006-01-02 15:04:05 UTC"), humanize.Time(started))
	}
	b.WriteString("\n---\n\n## Overall Results\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Total Instances | %d |\n", s.TotalInstances)
	fmt.Fprintf(&b, "| Instances Completed | %d |\n", s.InstancesCompleted)
	fmt.Fprintf(&b, "| Instances Resolved | %d |\n", s.ResolvedInstances)
	fmt.Fprintf(&b, "| Instances Unresolved | %d |\n", s.InstancesUnresolved)
	fmt.Fprintf(&b, "| Instances Errored | %d |\n", s.ErrorInstances)
	fmt.Fprintf(&b, "| Empty Patches | %d |\n", s.InstancesEmptyPatch)
	fmt.Fprintf(&b, "| Resolution Rate | %.1f%% |\n", s.ResolutionRate)

	b.WriteString("\n## Scores\n\n")
	b.WriteString("| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Average Score | %.1f / 100 |\n", s.AvgScore)
	fmt.Fprintf(&b, "| Median Score | %.0f |\n", s.MedianScore)
	fmt.Fprintf(&b, "| Min / Max | %d / %d |\n", s.MinScore, s.MaxScore)
	fmt.Fprintf(&b, "| Average Functional Subscore | %.1f / %d |\n", s.AvgFunctionalScore, PointsFunctional)

	b.WriteString("\n## Component Pass Rates\n\n")
	b.WriteString("| Component | Pass Rate |\n|-----------|-----------|\n")
	fmt.Fprintf(&b, "| Deployment | %.1f%% |\n", s.DeploymentPassRate*100)
	fmt.Fprintf(&b, "| Unit Tests | %.1f%% |\n", s.UnitTestPassRate*100)
	fmt.Fprintf(&b, "| Functional Outcome | %.1f%% |\n", s.FunctionalPassRate*100)
	fmt.Fprintf(&b, "| Bulk Operations | %.1f%% |\n", s.BulkPassRate*100)
	fmt.Fprintf(&b, "| No Manual Tweaks | %.1f%% |\n", s.NoTweaksPassRate*100)

	b.WriteString("\n## Durations\n\n")
	fmt.Fprintf(&b, "- Total: %s\n", humanDuration(s.TotalDurationSeconds))
	fmt.Fprintf(&b, "- Average per instance: %s\n", humanDuration(s.AvgDurationSeconds))

	if len(r.Instances) > 0 {
		b.WriteString("\n## Instances\n\n")
		b.WriteString("| Instance | Status | Score | Duration |\n|----------|--------|-------|----------|\n")
		for i := range r.Instances {
			inst := &r.Instances[i]
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				inst.InstanceID, inst.Status, inst.Validation.TotalScore, humanDuration(inst.DurationSeconds))
		}
	}

	if len(r.ResolvedIDs) > 0 {
		fmt.Fprintf(&b, "\n**Resolved:** %s\n", strings.Join(r.ResolvedIDs, ", "))
	}
	if len(r.ErrorIDs) > 0 {
		fmt.Fprintf(&b, "\n**Errored:** %s\n", strings.Join(r.ErrorIDs, ", "))
	}
	return b.String()
}

func humanDuration(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
