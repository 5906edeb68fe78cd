package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func sampleReport() model.Report {
	return model.Report{
		ID:         uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Project:    "shop",
		Subproject: "web",
		SessionID:  "s-1",
		CreatedAt:  time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		Comparisons: []model.Comparison{
			{Subproject: "api", Reason: "insufficient data: 1 session(s) recorded", SessionCount: 1},
			{Subproject: "web", Available: true, SessionCount: 2, Diff: &model.DiffReport{
				Previous:          model.SideStats{Rate: 66.67, Total: 3, Fails: 1},
				Current:           model.SideStats{Rate: 66.67, Total: 3, Fails: 1},
				Added:             []string{"DELETE /u/1"},
				Removed:           []string{"PUT /u/1"},
				NewFailures:       []string{"DELETE /u/1"},
				RecurringFailures: []string{},
				Fixed:             []string{"PUT /u/1"},
				Delta:             0,
				Trend:             model.TrendNoChange,
			}},
		},
		WeightedAverage: 66.67,
		Endpoints:       []model.EndpointStatus{{Key: "GET /u", Status: 200}, {Key: "DELETE /u/1", Status: 500}},
		Errors:          []string{"/u/1: <boom>"},
		Narrative:       "### 1. Overall Summary\nAll **fine**.",
		NarrativeOK:     true,
		Sections:        model.Sections{OverallSummary: "All **fine**.", KeyIssues: "- <script>alert(1)</script>"},
	}
}

func TestMarkdown(t *testing.T) {
	out := Markdown(sampleReport())
	assert.Contains(t, out, "# Execution report: shop / web")
	assert.Contains(t, out, "- Weighted success rate: 66.67%")
	assert.Contains(t, out, "| web | 66.67% (3) | 66.67% (3) | +0.00 | → no change |")
	assert.Contains(t, out, "| api | - | - | - | insufficient data: 1 session(s) recorded |")
	assert.Contains(t, out, "- Recurring failures: none")
	assert.Contains(t, out, "- Fixed: PUT /u/1")
	assert.Contains(t, out, "| DELETE /u/1 | 500 |")
	assert.Contains(t, out, "### Overall Summary\n\nAll **fine**.")
	assert.NotContains(t, out, "### Suggestions")
}

func TestMarkdownPlaceholder(t *testing.T) {
	r := sampleReport()
	r.NarrativeOK = false
	r.Narrative = model.NarrativePlaceholder
	r.Sections = model.Sections{}
	r.Comparisons = nil
	out := Markdown(r)
	assert.Contains(t, out, "No subprojects compared.")
	assert.True(t, strings.HasSuffix(out, model.NarrativePlaceholder+"\n"))
}

func TestHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, `class="no-change"`)
	assert.Contains(t, out, "<strong>fine</strong>")
	assert.Contains(t, out, "&lt;boom&gt;")
	assert.NotContains(t, out, "<script>alert(1)</script>")
	assert.Contains(t, out, "insufficient data: 1 session(s) recorded")
}

func TestHTMLTrendClasses(t *testing.T) {
	r := sampleReport()
	r.Comparisons[1].Diff.Trend = model.TrendDecline
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, r))
	assert.Contains(t, buf.String(), `class="decline"`)
	assert.Equal(t, "improvement", trendClass(model.TrendImprovement))
}

func TestHTMLPlaceholder(t *testing.T) {
	r := sampleReport()
	r.NarrativeOK = false
	r.Narrative = model.NarrativePlaceholder
	r.Sections = model.Sections{}
	var buf bytes.Buffer
	require.NoError(t, HTML(&buf, r))
	assert.Contains(t, buf.String(), "<p>"+model.NarrativePlaceholder+"</p>")
}
