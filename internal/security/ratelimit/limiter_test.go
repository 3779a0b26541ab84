package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/sitefactory/internal/repository"
	"github.com/aryan0dhankhar/sitefactory/internal/security/audit"
)

func newLimiter(t *testing.T, opts ...Option) (*Limiter, *audit.MemorySink, *repository.MemoryWindowStore) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	sink := audit.NewMemorySink()
	store := repository.NewMemoryWindowStore()
	return NewLimiter(store, 10, time.Hour, audit.NewLogger(logger, sink), logger, opts...), sink, store
}

func TestEleventhRequestIsDenied(t *testing.T) {
	l, sink, _ := newLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d, err := l.CheckAndConsume(ctx, "203.0.113.10")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.CheckAndConsume(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.Count)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, audit.ActionRateLimitHit, recs[0].Action)

	// a denied request does not consume
	w, err := l.Usage(ctx, "203.0.113.10")
	require.NoError(t, err)
	assert.Equal(t, 10, w.Count)

	other, err := l.CheckAndConsume(ctx, "203.0.113.11")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	l, _, store := newLimiter(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := l.CheckAndConsume(ctx, "198.51.100.4")
		require.NoError(t, err)
	}
	d, err := l.CheckAndConsume(ctx, "198.51.100.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Hour, d.RetryAfter)

	now = now.Add(time.Hour)
	d, err = l.CheckAndConsume(ctx, "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestLoopbackBypass(t *testing.T) {
	l, sink, _ := newLimiter(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		d, err := l.CheckAndConsume(ctx, "127.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.True(t, d.Bypassed)
	}
	assert.Empty(t, sink.Records())

	strict, _, _ := newLimiter(t, WithLoopbackBypass(false))
	for i := 0; i < 10; i++ {
		_, err := strict.CheckAndConsume(ctx, "::1")
		require.NoError(t, err)
	}
	d, err := strict.CheckAndConsume(ctx, "::1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestConcurrentConsumersNeverExceedQuota(t *testing.T) {
	l, _, _ := newLimiter(t)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndConsume(ctx, "192.0.2.50")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, IsLoopback("127.0.0.1"))
	assert.True(t, IsLoopback("127.4.5.6"))
	assert.True(t, IsLoopback("::1"))
	assert.True(t, IsLoopback("localhost"))
	assert.False(t, IsLoopback("10.0.0.1"))
	assert.False(t, IsLoopback("unknown"))
}
