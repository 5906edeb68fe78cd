package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/config"
	"github.com/ashita-ai/kiroku/internal/integrity"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/runlog"
	"github.com/ashita-ai/kiroku/internal/service/narrative"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

const sampleNarrative = `Here is the analysis.

### 1. Overall Summary
Three endpoints tested, two succeeded.

### 2. Key Issues
- POST /orders returned 500

**Technical Root Cause Insights:**
- Backend exception on order creation

4️⃣ Suggestions: Add payload validation.
Retry idempotent calls.

### 5. Endpoints Tested
- GET /users -> 200

### 6. Error Breakdown
- POST /orders: 500
`

func snapshot() runlog.Snapshot {
	l := runlog.New(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	l.RecordEndpoint("GET", "/users", 200)
	l.RecordEndpoint("POST", "/orders", 500)
	l.RecordError("/orders", "internal error token=abc123")
	return l.DrainAndClear()
}

func projectComparison() model.ProjectComparison {
	return model.ProjectComparison{
		Project: "shop",
		PerSubproject: map[string]model.Comparison{
			"web": {Project: "shop", Subproject: "web", Available: true, Diff: &model.DiffReport{Current: model.SideStats{Rate: 50, Total: 2}}},
			"api": {Project: "shop", Subproject: "api", Reason: "insufficient data: 1 session(s) recorded", SessionCount: 1},
		},
		WeightedAverage: 50,
		Compared:        1,
		Insufficient:    []string{"api"},
	}
}

func staticGenerator(text string, err error) narrative.Generator {
	return narrative.GeneratorFunc(func(context.Context, string) (string, error) { return text, err })
}

func TestAssembleWithNarrative(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	var prompt string
	gen := narrative.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return sampleNarrative, nil
	})
	a := New(gen, testutil.TestLogger(), WithClock(func() time.Time { return fixed }))

	r := a.Assemble(context.Background(), AssembleInput{
		Project: "shop", Subproject: "web", SessionID: "s1",
		Snapshot: snapshot(), Comparison: projectComparison(),
	})

	assert.True(t, r.NarrativeOK)
	assert.Equal(t, sampleNarrative, r.Narrative)
	assert.Equal(t, fixed.Truncate(time.Microsecond), r.CreatedAt)
	assert.Equal(t, 50.0, r.WeightedAverage)
	require.Len(t, r.Comparisons, 2)
	assert.Equal(t, "api", r.Comparisons[0].Subproject)
	assert.Equal(t, "web", r.Comparisons[1].Subproject)
	assert.Equal(t, "Three endpoints tested, two succeeded.", r.Sections.OverallSummary)
	assert.Equal(t, "- Backend exception on order creation", r.Sections.RootCause)
	assert.Equal(t, "Add payload validation.\nRetry idempotent calls.", r.Sections.Suggestions)
	assert.Equal(t, "- POST /orders: 500", r.Sections.ErrorBreakdown)
	assert.True(t, integrity.VerifyReportHash(r.ContentHash, r))
	assert.Equal(t, []string{"/orders: internal error token=****"}, r.Errors)

	assert.Contains(t, prompt, "GET /users -> 200")
	assert.Contains(t, prompt, "token=****")
	assert.NotContains(t, prompt, "abc123")
}

func TestAssemblePlaceholder(t *testing.T) {
	tests := []struct {
		name string
		gen  narrative.Generator
	}{
		{"unavailable", narrative.NoopProvider{}},
		{"nil generator", nil},
		{"error", staticGenerator("", errors.New("boom"))},
		{"rate limited", staticGenerator("", narrative.ErrRateLimited)},
		{"empty", staticGenerator("   ", nil)},
		{"json error", staticGenerator(`{"error":{"message":"quota"}}`, nil)},
		{"error prefix", staticGenerator("Error: upstream failed", nil)},
		{"warning string", staticGenerator("⚠️ AI request failed: 401", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.gen, testutil.TestLogger())
			pc := projectComparison()
			r := a.Assemble(context.Background(), AssembleInput{Project: "shop", Snapshot: snapshot(), Comparison: pc})
			assert.False(t, r.NarrativeOK)
			assert.Equal(t, model.NarrativePlaceholder, r.Narrative)
			assert.True(t, r.Sections.Empty())
			// Statistics are untouched by the narrative path.
			assert.Equal(t, 50.0, r.WeightedAverage)
			assert.Len(t, r.Comparisons, 2)
		})
	}
}

func TestAssembleTimeout(t *testing.T) {
	gen := narrative.GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	a := New(gen, testutil.TestLogger(), WithTimeout(20*time.Millisecond))

	start := time.Now()
	r := a.Assemble(context.Background(), AssembleInput{Project: "shop", Snapshot: snapshot()})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, model.NarrativePlaceholder, r.Narrative)
	assert.NotNil(t, r.Endpoints)
}

func TestAssembleEmptySnapshotSkipsGenerator(t *testing.T) {
	called := false
	gen := narrative.GeneratorFunc(func(context.Context, string) (string, error) {
		called = true
		return sampleNarrative, nil
	})
	a := New(gen, testutil.TestLogger())
	r := a.Assemble(context.Background(), AssembleInput{Project: "shop", Snapshot: runlog.New(nil).DrainAndClear()})
	assert.False(t, called)
	assert.Equal(t, model.NarrativePlaceholder, r.Narrative)
	assert.Empty(t, r.Endpoints)
}

type recordingSink struct{ reports []model.Report }

func (s *recordingSink) InsertReport(_ context.Context, r model.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

func TestSave(t *testing.T) {
	sink := &recordingSink{}
	a := New(nil, testutil.TestLogger(), WithSink(sink))
	r := a.Assemble(context.Background(), AssembleInput{Project: "shop", Snapshot: snapshot()})
	require.NoError(t, a.Save(context.Background(), r))
	require.Len(t, sink.reports, 1)
	assert.Equal(t, r.ID, sink.reports[0].ID)

	require.NoError(t, New(nil, testutil.TestLogger()).Save(context.Background(), r))
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"password":"hunter2","user":"bob"}`, `{"password":"****","user":"bob"}`},
		{"Authorization: Bearer eyJhbGciOi.abc", "Authorization: ****"},
		{"access_token=abc&x=1", "access_token=****&x=1"},
		{"client_secret = s3cr3t", "client_secret = ****"},
		{"sent Bearer abcdefghijkl to server", "sent Bearer **** to server"},
		{"GET /users -> 200", "GET /users -> 200"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}

	long := strings.Repeat("é", MaxEntryChars+10)
	out := Sanitize(long)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("é", MaxEntryChars)))
	assert.True(t, strings.HasSuffix(out, "...(truncated)"))
}

func TestExtractSectionsVariants(t *testing.T) {
	s := ExtractSections("1️⃣ Overall Summary:\nfine\n\n**Key Issues**\nnone\nSuggestions are welcome here\n")
	assert.Equal(t, "fine", s.OverallSummary)
	assert.Equal(t, "none\nSuggestions are welcome here", s.KeyIssues)
	assert.Empty(t, s.Suggestions)

	assert.True(t, ExtractSections("no headings at all").Empty())
}

func TestBuildPromptEmpty(t *testing.T) {
	p := BuildPrompt(runlog.New(nil).DrainAndClear())
	assert.Contains(t, p, "No endpoint data recorded.")
	assert.Contains(t, p, "No critical errors encountered.")
	for _, h := range []string{"Overall Summary", "Key Issues", "Technical Root Cause Insights", "Suggestions", "Endpoints Tested", "Error Breakdown"} {
		assert.Contains(t, p, h)
	}
}

func TestDefaultNarrativeTimeoutMatchesConfig(t *testing.T) {
	t.Setenv("KIROKU_NARRATIVE_TIMEOUT", "")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, DefaultNarrativeTimeout)
	assert.Equal(t, DefaultNarrativeTimeout, cfg.NarrativeTimeout)
}
