package summary

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashita-ai/kiroku/internal/runlog"
)

// MaxEntryChars bounds each log line placed in the prompt.
const MaxEntryChars = 2000

const promptHeader = `You are reviewing the API test log of one automated test run.
Write a medium-length analysis in Markdown using exactly these six headings, in order:

### 1. Overall Summary
Three or four lines covering the number of unique endpoints tested, the success rate and general behavior.

### 2. Key Issues
Short bullets naming the main failures (4xx, 5xx or exceptions) with brief context.

### 3. Technical Root Cause Insights
One line per issue with the likely cause (invalid input, missing headers, data mismatch, backend exception).

### 4. Suggestions
Practical improvements for the service and for the test strategy.

### 5. Endpoints Tested
One line per unique endpoint with method, status code and a short response note.

### 6. Error Breakdown
Only endpoints with non-2xx status codes or exceptions, with the likely reason.

Count each endpoint once even if the log shows it several times. Do not inflate totals.
`

// BuildPrompt renders a drained run log as the narrative prompt. Log lines
// are sanitized before they leave the process.
func BuildPrompt(snap runlog.Snapshot) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	success := 0
	for _, ep := range snap.Endpoints {
		if ep.Status >= 200 && ep.Status < 300 {
			success++
		}
	}
	fmt.Fprintf(&b, "\nUnique endpoints: %d, successful: %d\n", len(snap.Endpoints), success)

	b.WriteString("\n## Endpoint status\n")
	if len(snap.Endpoints) == 0 {
		b.WriteString("No endpoint data recorded.\n")
	}
	for _, ep := range snap.Endpoints {
		fmt.Fprintf(&b, "- %s -> %d\n", ep.Key, ep.Status)
	}

	b.WriteString("\n## Errors\n")
	if len(snap.Errors) == 0 {
		b.WriteString("No critical errors encountered.\n")
	}
	for _, e := range snap.Errors {
		b.WriteString("- ")
		b.WriteString(Sanitize(e))
		b.WriteByte('\n')
	}

	b.WriteString("\n## Logs\n")
	for _, r := range snap.Records {
		b.WriteString(Sanitize(r))
		b.WriteByte('\n')
	}
	return b.String()
}

var (
	credentialPattern = regexp.MustCompile(`(?i)([A-Za-z_-]*(?:token|password|secret|authorization)[A-Za-z_-]*"?\s*[:=]\s*"?)(?:(?:bearer|basic)\s+)?[^"\s,&}]+`)
	schemePattern     = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]{8,}`)
)

const mask = "****"

// Sanitize masks credential values and truncates the line to MaxEntryChars
// characters.
func Sanitize(line string) string {
	line = credentialPattern.ReplaceAllString(line, "${1}"+mask)
	line = schemePattern.ReplaceAllString(line, "${1} "+mask)
	if utf8.RuneCountInString(line) <= MaxEntryChars {
		return line
	}
	runes := []rune(line)
	return string(runes[:MaxEntryChars]) + "...(truncated)"
}
