package summary

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// headingPattern matches a section heading with optional markdown
// decoration and numbering, e.g. "### 2. Key Issues", "**Suggestions:**",
// "1️⃣ Overall Summary:". Group 1 is the heading name, group 2 the
// separator and group 3 any text following it on the same line.
var headingPattern = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*)?\s*(?:\d+\s*[.)]\s*|\d\x{FE0F}?\x{20E3}\s*)?(?:\*\*)?\s*(overall summary|key issues|technical root cause insights|root cause insights|root cause|suggestions|endpoints tested|error breakdown)\s*(?:\*\*)?\s*([:：]?)\s*(?:\*\*)?\s*(.*)$`)

func sectionField(s *model.Sections, name string) *string {
	switch strings.ToLower(name) {
	case "overall summary":
		return &s.OverallSummary
	case "key issues":
		return &s.KeyIssues
	case "technical root cause insights", "root cause insights", "root cause":
		return &s.RootCause
	case "suggestions":
		return &s.Suggestions
	case "endpoints tested":
		return &s.EndpointsTested
	case "error breakdown":
		return &s.ErrorBreakdown
	}
	return nil
}

// ExtractSections splits a narrative into its named headings. Text before the
// first heading is ignored. A heading that appears twice keeps its first body.
func ExtractSections(text string) model.Sections {
	var out model.Sections
	var current *string
	var body []string
	seen := make(map[*string]bool)

	flush := func() {
		if current != nil && !seen[current] {
			*current = strings.TrimSpace(strings.Join(body, "\n"))
			seen[current] = true
		}
		body = body[:0]
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		m := headingPattern.FindStringSubmatch(line)
		// A heading word followed by prose without a separator is body text.
		if m != nil && (m[2] != "" || strings.TrimSpace(m[3]) == "") {
			flush()
			current = sectionField(&out, m[1])
			if rest := strings.TrimSpace(m[3]); rest != "" {
				body = append(body, rest)
			}
			continue
		}
		if current != nil {
			body = append(body, line)
		}
	}
	flush()
	return out
}

// looksLikeError reports whether generator output is an error message
// dressed up as text rather than a narrative.
func looksLikeError(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	if strings.HasPrefix(t, "{") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(t), &obj); err == nil {
			if _, ok := obj["error"]; ok {
				return true
			}
		}
	}
	lower := strings.ToLower(t)
	for _, prefix := range []string{"error:", "exception", "⚠️", "❌"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
