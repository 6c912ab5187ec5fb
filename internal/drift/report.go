package drift

import (
	"fmt"
	"strings"

	"github.com/archscope/archscope/internal/models"
)

var severityImpact = map[models.Severity]string{
	models.SeverityLow:      "minor changes - document for reference",
	models.SeverityMedium:   "moderate changes - review recommended",
	models.SeverityHigh:     "significant changes - action required",
	models.SeverityCritical: "critical changes - immediate review needed",
}

// FormatReport renders a drift report as human-readable text for CLI and CI
// output.
func FormatReport(report models.DriftReport) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintf(&b, "%s\nARCHITECTURE DRIFT REPORT\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Baseline:  %s\nCurrent:   %s\nCompared:  %s\n\n", report.PreviousRef, report.CurrentRef, report.ComparedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Drift Score: %d/100\nSeverity:    %s\nImpact:      %s\n", report.Score, report.Severity, severityImpact[report.Severity])

	writeSection := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, line := range lines {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}

	writeSection("Services Added", report.AddedServices)
	writeSection("Services Removed", report.RemovedServices)

	added := make([]string, 0, len(report.AddedDependencies))
	for _, dep := range report.AddedDependencies {
		added = append(added, fmt.Sprintf("%s -> %s (count %d)", dep.From, dep.To, dep.Count))
	}
	writeSection("Dependencies Added", added)

	removed := make([]string, 0, len(report.RemovedDependencies))
	for _, dep := range report.RemovedDependencies {
		removed = append(removed, fmt.Sprintf("%s -> %s (count %d)", dep.From, dep.To, dep.Count))
	}
	writeSection("Dependencies Removed", removed)

	changed := make([]string, 0, len(report.ChangedCallCounts))
	for _, change := range report.ChangedCallCounts {
		changed = append(changed, fmt.Sprintf("%s -> %s: %d => %d", change.From, change.To, change.Previous, change.Current))
	}
	writeSection("Call Count Changes", changed)

	epAdded := make([]string, 0, len(report.AddedEndpoints))
	for _, ep := range report.AddedEndpoints {
		epAdded = append(epAdded, fmt.Sprintf("%s: %s %s", ep.Service, ep.Method, ep.Path))
	}
	writeSection("Endpoints Added", epAdded)

	epRemoved := make([]string, 0, len(report.RemovedEndpoints))
	for _, ep := range report.RemovedEndpoints {
		epRemoved = append(epRemoved, fmt.Sprintf("%s: %s %s", ep.Service, ep.Method, ep.Path))
	}
	writeSection("Endpoints Removed", epRemoved)

	if report.Score == 0 {
		fmt.Fprintf(&b, "\nNo changes detected - architecture is stable against baseline.\n")
	}
	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}
