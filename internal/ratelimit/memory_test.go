package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newManualLimiter returns a limiter whose clock only moves when advance is called.
func newManualLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, func(time.Duration)) {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	t.Cleanup(func() { _ = m.Close() })

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return m, func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
}

func allowN(m *MemoryLimiter, key string, n int) int {
	got := 0
	for range n {
		if ok, _ := m.Allow(context.Background(), key); ok {
			got++
		}
	}
	return got
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newManualLimiter(t, 10, 3)
	assert.Equal(t, 3, allowN(m, "k", 5))
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, advance := newManualLimiter(t, 2, 2)
	require.Equal(t, 2, allowN(m, "k", 3))

	advance(500 * time.Millisecond)
	assert.Equal(t, 1, allowN(m, "k", 2))

	advance(time.Hour)
	assert.Equal(t, 2, allowN(m, "k", 5), "refill is capped at burst")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m, _ := newManualLimiter(t, 1, 1)
	assert.Equal(t, 1, allowN(m, "a", 2))
	assert.Equal(t, 1, allowN(m, "b", 2))
	assert.Equal(t, 2, m.Keys())
}

func TestMemoryLimiterSweep(t *testing.T) {
	m, advance := newManualLimiter(t, 10, 5)
	allowN(m, "old", 1)
	advance(11 * time.Minute)
	allowN(m, "new", 1)

	m.sweep()
	assert.Equal(t, 1, m.Keys())
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m, _ := newManualLimiter(t, 1, 50)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed.Add(int64(allowN(m, "shared", 10)))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), allowed.Load())
}

func TestMemoryLimiterCloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiter(t *testing.T) {
	var l NoopLimiter
	for range 100 {
		ok, err := l.Allow(context.Background(), "x")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NoError(t, l.Close())
}
