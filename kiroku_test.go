package kiroku

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KIROKU_STORE", "memory")
	t.Setenv("KIROKU_RATE_LIMIT_ENABLED", "false")
	t.Setenv("KIROKU_NARRATIVE_PROVIDER", "noop")
	t.Setenv("KIROKU_EMBEDDING_PROVIDER", "noop")
	t.Setenv("KIROKU_API_KEY", "")
	t.Setenv("QDRANT_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

// recordingStore is a minimal external SessionStore.
type recordingStore struct {
	mu      sync.Mutex
	records map[string][]CallRecord
}

func newRecordingStore() *recordingStore {
	return &recordingStore{records: make(map[string][]CallRecord)}
}

func (s *recordingStore) UpsertSession(_ context.Context, _, _ string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sess.SessionID] = append(s.records[sess.SessionID], sess.Records...)
	return nil
}

func (s *recordingStore) AppendCallRecord(_ context.Context, _, _, sessionID string, rec CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[sessionID] = append(s.records[sessionID], rec)
	return nil
}

func (s *recordingStore) RecentSessions(context.Context, string, string, int) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.records))
	for id, recs := range s.records {
		out = append(out, Session{SessionID: id, Records: recs})
	}
	return out, nil
}

func (s *recordingStore) RecentCallRecords(context.Context, string, string, int) ([]CallRecord, error) {
	return nil, nil
}

func (s *recordingStore) Subprojects(context.Context, string) ([]string, error) {
	return []string{"checkout"}, nil
}

func (s *recordingStore) Projects(context.Context) ([]string, error) {
	return []string{"shop"}, nil
}

func (s *recordingStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}

func TestNewWithMemoryStore(t *testing.T) {
	memoryEnv(t)
	app, err := New(WithLogger(testutil.TestLogger()), WithVersion("1.2.3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1.2.3", body.Data.Version)
	assert.Equal(t, "memory", body.Data.Store)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	memoryEnv(t)
	t.Setenv("KIROKU_STORE", "mongo")
	_, err := New(WithLogger(testutil.TestLogger()))
	assert.Error(t, err)
}

func TestExternalStoreAndGenerator(t *testing.T) {
	memoryEnv(t)
	store := newRecordingStore()
	var prompts int
	gen := generatorFunc(func(context.Context, string) (string, error) {
		prompts++
		return "### 1. Overall Summary\nAll good.", nil
	})
	var sawMiddleware bool
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawMiddleware = true
			next.ServeHTTP(w, r)
		})
	}

	app, err := New(
		WithLogger(testutil.TestLogger()),
		WithSessionStore(store),
		WithNarrativeGenerator(gen),
		WithMiddleware(mw),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		app.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := post("/v1/runs/shop/checkout/calls", `{"method":"GET","endpoint":"/cart","status":200}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = post("/v1/runs/shop/checkout/summary", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, 1, store.total(), "summary flushes buffered records into the external store")
	assert.Equal(t, 1, prompts)
	assert.True(t, sawMiddleware)
}

type generatorFunc func(context.Context, string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func TestSessionAdapterRoundTrip(t *testing.T) {
	store := newRecordingStore()
	a := &sessionStoreAdapter{s: store}
	payload := "{}"
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	in := model.CallRecord{Method: "POST", Endpoint: "/pay", Payload: &payload, Status: 201, Timestamp: at}

	require.NoError(t, a.AppendCallRecord(context.Background(), "shop", "checkout", "s1", in))
	sessions, err := a.RecentSessions(context.Background(), "shop", "checkout", 5)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, []model.CallRecord{in}, sessions[0].Endpoints)
}

type fixedEmbedder struct{ n int }

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 2}, nil
}

func (e fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, e.n), nil
}

func (fixedEmbedder) Dimensions() int { return 2 }

func TestEmbeddingAdapter(t *testing.T) {
	a := &embeddingAdapter{p: fixedEmbedder{n: 2}}
	v, err := a.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, v.Slice())

	vs, err := a.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)

	_, err = a.EmbedBatch(context.Background(), []string{"a"})
	assert.Error(t, err, "vector count must match input count")
}
