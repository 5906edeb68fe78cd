// Package render turns assembled reports into Markdown or HTML documents.
// It performs no statistics and no I/O beyond the supplied writer.
package render

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

type namedSection struct {
	Title string
	Body  string
}

func sectionList(s model.Sections) []namedSection {
	return []namedSection{
		{"Overall Summary", s.OverallSummary},
		{"Key Issues", s.KeyIssues},
		{"Technical Root Cause Insights", s.RootCause},
		{"Suggestions", s.Suggestions},
		{"Endpoints Tested", s.EndpointsTested},
		{"Error Breakdown", s.ErrorBreakdown},
	}
}

func trendArrow(t model.Trend) string {
	switch t {
	case model.TrendImprovement:
		return "↑"
	case model.TrendDecline:
		return "↓"
	default:
		return "→"
	}
}

func joinOrNone(keys []string) string {
	if len(keys) == 0 {
		return "none"
	}
	return strings.Join(keys, ", ")
}

// Markdown renders a report as a Markdown document.
func Markdown(r model.Report) string {
	var b strings.Builder
	title := r.Project
	if r.Subproject != "" {
		title += " / " + r.Subproject
	}
	fmt.Fprintf(&b, "# Execution report: %s\n\n", title)
	fmt.Fprintf(&b, "- Report: `%s`\n", r.ID)
	fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if r.SessionID != "" {
		fmt.Fprintf(&b, "- Session: `%s`\n", r.SessionID)
	}
	fmt.Fprintf(&b, "- Weighted success rate: %.2f%%\n\n", r.WeightedAverage)

	b.WriteString("## Comparison\n\n")
	if len(r.Comparisons) == 0 {
		b.WriteString("No subprojects compared.\n\n")
	} else {
		b.WriteString("| Subproject | Previous | Current | Delta | Trend |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, c := range r.Comparisons {
			if !c.Available || c.Diff == nil {
				fmt.Fprintf(&b, "| %s | - | - | - | %s |\n", c.Subproject, c.Reason)
				continue
			}
			d := c.Diff
			fmt.Fprintf(&b, "| %s | %.2f%% (%d) | %.2f%% (%d) | %+.2f | %s %s |\n",
				c.Subproject, d.Previous.Rate, d.Previous.Total, d.Current.Rate, d.Current.Total,
				d.Delta, trendArrow(d.Trend), d.Trend)
		}
		b.WriteByte('\n')

		for _, c := range r.Comparisons {
			if !c.Available || c.Diff == nil {
				continue
			}
			d := c.Diff
			fmt.Fprintf(&b, "### %s\n\n", c.Subproject)
			fmt.Fprintf(&b, "- Added: %s\n", joinOrNone(d.Added))
			fmt.Fprintf(&b, "- Removed: %s\n", joinOrNone(d.Removed))
			fmt.Fprintf(&b, "- New failures: %s\n", joinOrNone(d.NewFailures))
			fmt.Fprintf(&b, "- Recurring failures: %s\n", joinOrNone(d.RecurringFailures))
			fmt.Fprintf(&b, "- Fixed: %s\n\n", joinOrNone(d.Fixed))
		}
	}

	if len(r.Endpoints) > 0 {
		b.WriteString("## Endpoints this run\n\n| Endpoint | Status |\n|---|---|\n")
		for _, ep := range r.Endpoints {
			fmt.Fprintf(&b, "| %s | %d |\n", ep.Key, ep.Status)
		}
		b.WriteByte('\n')
	}
	if len(r.Errors) > 0 {
		b.WriteString("## Errors\n\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteByte('\n')
	}

	b.WriteString("## Narrative\n\n")
	if !r.NarrativeOK || r.Sections.Empty() {
		b.WriteString(r.Narrative)
		b.WriteByte('\n')
		return b.String()
	}
	for _, s := range sectionList(r.Sections) {
		if s.Body == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", s.Title, s.Body)
	}
	return b.String()
}
