package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ashita-ai/kiroku/internal/model"
)

// md renders narrative markdown. Raw HTML in the narrative is escaped since
// goldmark omits it unless html.WithUnsafe is set.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

func markdownHTML(src string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return template.HTML("<p>" + template.HTMLEscapeString(src) + "</p>") //nolint:gosec // escaped above
	}
	return template.HTML(buf.String()) //nolint:gosec // goldmark output without unsafe raw HTML
}

func trendClass(t model.Trend) string {
	return strings.ReplaceAll(string(t), " ", "-")
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"markdown":   markdownHTML,
	"trendClass": trendClass,
	"arrow":      trendArrow,
	"join":       joinOrNone,
	"pct":        func(f float64) string { return fmt.Sprintf("%.2f%%", f) },
	"signed":     func(f float64) string { return fmt.Sprintf("%+.2f", f) },
	"timefmt":    func(r model.Report) string { return r.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Execution report: {{.Report.Project}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #ccc; padding: .35rem .7rem; text-align: left; }
.improvement { color: #1a7f37; }
.decline { color: #cf222e; }
.no-change { color: #57606a; }
.section { border-left: 4px solid #0969da; padding-left: 1rem; margin-bottom: 1rem; }
</style>
</head>
<body>
<h1>Execution report: {{.Report.Project}}{{with .Report.Subproject}} / {{.}}{{end}}</h1>
<p>Created {{timefmt .Report}}{{with .Report.SessionID}}, session <code>{{.}}</code>{{end}}.
Weighted success rate <strong>{{pct .Report.WeightedAverage}}</strong>.</p>

<h2>Comparison</h2>
{{if .Report.Comparisons}}
<table>
<tr><th>Subproject</th><th>Previous</th><th>Current</th><th>Delta</th><th>Trend</th></tr>
{{range .Report.Comparisons}}{{if and .Available .Diff}}
<tr><td>{{.Subproject}}</td><td>{{pct .Diff.Previous.Rate}} ({{.Diff.Previous.Total}})</td><td>{{pct .Diff.Current.Rate}} ({{.Diff.Current.Total}})</td><td>{{signed .Diff.Delta}}</td><td class="{{trendClass .Diff.Trend}}">{{arrow .Diff.Trend}} {{.Diff.Trend}}</td></tr>
{{else}}
<tr><td>{{.Subproject}}</td><td colspan="4">{{.Reason}}</td></tr>
{{end}}{{end}}
</table>
{{range .Report.Comparisons}}{{if and .Available .Diff}}
<h3>{{.Subproject}}</h3>
<ul>
<li>Added: {{join .Diff.Added}}</li>
<li>Removed: {{join .Diff.Removed}}</li>
<li>New failures: {{join .Diff.NewFailures}}</li>
<li>Recurring failures: {{join .Diff.RecurringFailures}}</li>
<li>Fixed: {{join .Diff.Fixed}}</li>
</ul>
{{end}}{{end}}
{{else}}
<p>No subprojects compared.</p>
{{end}}

{{if .Report.Endpoints}}
<h2>Endpoints this run</h2>
<table>
<tr><th>Endpoint</th><th>Status</th></tr>
{{range .Report.Endpoints}}<tr><td>{{.Key}}</td><td>{{.Status}}</td></tr>
{{end}}
</table>
{{end}}

{{if .Report.Errors}}
<h2>Errors</h2>
<ul>{{range .Report.Errors}}<li>{{.}}</li>{{end}}</ul>
{{end}}

<h2>Narrative</h2>
{{if .Sections}}
{{range .Sections}}<div class="section"><h3>{{.Title}}</h3>{{markdown .Body}}</div>
{{end}}
{{else if .Report.NarrativeOK}}
{{markdown .Report.Narrative}}
{{else}}
<p>{{.Report.Narrative}}</p>
{{end}}
</body>
</html>
`))

// HTML writes a report as a standalone HTML page.
func HTML(w io.Writer, r model.Report) error {
	var sections []namedSection
	if r.NarrativeOK && !r.Sections.Empty() {
		for _, s := range sectionList(r.Sections) {
			if s.Body != "" {
				sections = append(sections, s)
			}
		}
	}
	data := struct {
		Report   model.Report
		Sections []namedSection
	}{r, sections}
	if err := reportTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render: html: %w", err)
	}
	return nil
}
