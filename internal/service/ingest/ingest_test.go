package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/sessionstore"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

func call(method, endpoint string, status int, at time.Time) model.CallRecord {
	return model.CallRecord{Method: method, Endpoint: endpoint, Status: status, Timestamp: at}
}

// flakyStore fails the first n appends.
type flakyStore struct {
	*sessionstore.Memory
	failures atomic.Int32
}

func (f *flakyStore) AppendCallRecord(ctx context.Context, project, subproject, sessionID string, rec model.CallRecord) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("store unavailable")
	}
	return f.Memory.AppendCallRecord(ctx, project, subproject, sessionID, rec)
}

func TestBufferFlushNowPersists(t *testing.T) {
	store := sessionstore.NewMemory()
	buf := NewBuffer(store, testutil.TestLogger(), 100, time.Hour)
	now := time.Now().UTC()

	require.NoError(t, buf.Add(context.Background(), "p", "s", "sess-1", call("GET", "/a", 200, now)))
	require.NoError(t, buf.Add(context.Background(), "p", "s", "sess-1", call("GET", "/b", 404, now)))
	assert.Equal(t, 2, buf.Len())

	require.NoError(t, buf.FlushNow(context.Background()))
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, int64(2), buf.Flushed())

	sessions, err := store.RecentSessions(context.Background(), "p", "s", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Endpoints, 2)
}

func TestBufferFull(t *testing.T) {
	buf := NewBuffer(sessionstore.NewMemory(), testutil.TestLogger(), 100, time.Hour, WithCapacity(2))
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, buf.Add(ctx, "p", "s", "x", call("GET", "/a", 200, now)))
	require.NoError(t, buf.Add(ctx, "p", "s", "x", call("GET", "/b", 200, now)))
	assert.ErrorIs(t, buf.Add(ctx, "p", "s", "x", call("GET", "/c", 200, now)), ErrBufferFull)
	assert.Equal(t, 2, buf.Capacity())
}

func TestBufferRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{Memory: sessionstore.NewMemory()}
	store.failures.Store(1)
	buf := NewBuffer(store, testutil.TestLogger(), 100, time.Hour)

	require.NoError(t, buf.Add(context.Background(), "p", "s", "x", call("GET", "/a", 200, time.Now())))
	assert.Error(t, buf.FlushNow(context.Background()))
	assert.Equal(t, 1, buf.Len())

	require.NoError(t, buf.FlushNow(context.Background()))
	assert.Equal(t, int64(1), buf.Flushed())
	assert.Zero(t, buf.Dropped())
}

func TestBufferDropsAfterMaxAttempts(t *testing.T) {
	store := &flakyStore{Memory: sessionstore.NewMemory()}
	store.failures.Store(100)
	buf := NewBuffer(store, testutil.TestLogger(), 100, time.Hour)

	require.NoError(t, buf.Add(context.Background(), "p", "s", "x", call("GET", "/a", 200, time.Now())))
	for range maxAttempts {
		_ = buf.FlushNow(context.Background())
	}
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, int64(1), buf.Dropped())
}

func TestBufferDropsInvalidImmediately(t *testing.T) {
	buf := NewBuffer(sessionstore.NewMemory(), testutil.TestLogger(), 100, time.Hour)
	require.NoError(t, buf.Add(context.Background(), "", "s", "x", call("GET", "/a", 200, time.Now())))
	require.NoError(t, buf.FlushNow(context.Background()))
	assert.Equal(t, int64(1), buf.Dropped())
}

func TestBufferLoopAndDrain(t *testing.T) {
	store := sessionstore.NewMemory()
	buf := NewBuffer(store, testutil.TestLogger(), 2, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	buf.Start(ctx)
	buf.Start(ctx)

	for i := range 5 {
		require.NoError(t, buf.Add(ctx, "p", "s", "x", call("GET", fmt.Sprintf("/%d", i), 200, time.Now())))
	}
	assert.Eventually(t, func() bool { return buf.Flushed() == 5 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, buf.Add(ctx, "p", "s", "x", call("GET", "/last", 200, time.Now())))
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	buf.Drain(drainCtx)
	assert.Equal(t, int64(6), buf.Flushed())
}

func TestDrainWithoutStartFlushesInline(t *testing.T) {
	buf := NewBuffer(sessionstore.NewMemory(), testutil.TestLogger(), 10, time.Hour)
	require.NoError(t, buf.Add(context.Background(), "p", "s", "x", call("GET", "/a", 200, time.Now())))
	buf.Drain(context.Background())
	assert.Equal(t, int64(1), buf.Flushed())
}

func TestRunRecordAndFinish(t *testing.T) {
	store := sessionstore.NewMemory()
	buf := NewBuffer(store, testutil.TestLogger(), 100, time.Hour)
	run := NewRun("p", "s", buf, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, run.Record(ctx, call("GET", "/a", 200, now)))
	require.NoError(t, run.Record(ctx, call("GET", "/a", 503, now.Add(time.Second))))
	require.NoError(t, run.Record(ctx, call("POST", "/b", 999, now.Add(2*time.Second))))
	require.NoError(t, run.Fail("/a", "service unavailable"))
	require.NoError(t, run.Note("teardown complete"))

	snap, err := run.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.EndpointStatus{{Key: "GET /a", Status: 503}, {Key: "POST /b", Status: model.StatusUnknown}}, snap.Endpoints)
	assert.Equal(t, []string{"/a: service unavailable"}, snap.Errors)
	assert.Len(t, snap.Records, 5)

	again, err := run.Finish(ctx)
	require.NoError(t, err)
	assert.True(t, again.Empty())

	sessions, err := store.RecentSessions(ctx, "p", "s", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, run.SessionID(), sessions[0].SessionID)
	assert.Len(t, sessions[0].Endpoints, 3)
}

func TestRunSessionIDStableUnderConcurrency(t *testing.T) {
	run := NewRun("p", "s", nil, nil)
	ids := make([]string, 50)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = run.SessionID()
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.NotEmpty(t, ids[0])
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil, nil)
	a := reg.Get("p", "s")
	assert.Same(t, a, reg.Get("p", "s"))
	assert.NotSame(t, a, reg.Get("p", "other"))
	assert.Equal(t, 2, reg.Active())

	require.NoError(t, a.Note("hello"))
	require.NoError(t, a.Fail("/x", "boom"))
	entries, errs := reg.totals()
	assert.Equal(t, int64(2), entries)
	assert.Equal(t, int64(1), errs)

	assert.Same(t, a, reg.Detach("p", "s"))
	assert.Nil(t, reg.Detach("p", "s"))
	assert.NotSame(t, a, reg.Get("p", "s"))
	reg.RegisterMetrics()
}

func TestFinishedRunRejectsWrites(t *testing.T) {
	store := sessionstore.NewMemory()
	buf := NewBuffer(store, testutil.TestLogger(), 100, time.Hour)
	run := NewRun("p", "s", buf, nil)
	ctx := context.Background()

	_, err := run.Finish(ctx)
	require.NoError(t, err)
	assert.True(t, run.Finished())

	assert.ErrorIs(t, run.Record(ctx, call("GET", "/late", 200, time.Now())), ErrRunFinished)
	assert.ErrorIs(t, run.Fail("/late", "boom"), ErrRunFinished)
	assert.ErrorIs(t, run.Note("late"), ErrRunFinished)
	assert.Zero(t, run.Log().Len())
	assert.Zero(t, buf.Len())
}

func TestRegistryUseMovesPastFinishedRun(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()
	stale := reg.Get("p", "s")
	_, err := stale.Finish(ctx)
	require.NoError(t, err)

	run, err := reg.Use("p", "s", func(r *Run) error {
		return r.Record(ctx, call("GET", "/a", 200, time.Now()))
	})
	require.NoError(t, err)
	assert.NotSame(t, stale, run)
	assert.Same(t, run, reg.Get("p", "s"))
	assert.Equal(t, 1, run.Log().Len())
}

func TestRecordRacingFinishIsNeverLost(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		drained  int
		recorded atomic.Int32
	)
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := reg.Use("p", "s", func(r *Run) error {
				return r.Record(ctx, call("GET", fmt.Sprintf("/%d", i), 200, time.Now()))
			})
			if err == nil {
				recorded.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if run := reg.Detach("p", "s"); run != nil {
				snap, _ := run.Finish(ctx)
				mu.Lock()
				drained += len(snap.Endpoints)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if run := reg.Detach("p", "s"); run != nil {
		snap, _ := run.Finish(ctx)
		drained += len(snap.Endpoints)
	}
	assert.Equal(t, int(recorded.Load()), drained)
}
