package state

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsume(t *testing.T) {
	ctx := context.Background()
	issued := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	now := issued
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	t.Run("Unknown", func(t *testing.T) {
		assert.ErrorIs(t, store.Consume(ctx, "never-issued"), ErrStateNotFound)
	})

	t.Run("SingleUse", func(t *testing.T) {
		require.NoError(t, store.Issue(ctx, "s1", issued))
		require.NoError(t, store.Consume(ctx, "s1"))
		assert.ErrorIs(t, store.Consume(ctx, "s1"), ErrStateNotFound)
	})

	t.Run("AtTTLBoundary", func(t *testing.T) {
		now = issued.Add(TTL)
		require.NoError(t, store.Issue(ctx, "s2", issued))
		assert.NoError(t, store.Consume(ctx, "s2"))
	})

	t.Run("ExpiredIsRemoved", func(t *testing.T) {
		now = issued.Add(TTL + time.Second)
		require.NoError(t, store.Issue(ctx, "s3", issued))
		assert.ErrorIs(t, store.Consume(ctx, "s3"), ErrStateExpired)
		assert.ErrorIs(t, store.Consume(ctx, "s3"), ErrStateNotFound)
	})
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Issue(ctx, "shared", time.Now()))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Consume(ctx, "shared") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }), WithTTL(time.Minute))

	require.NoError(t, store.Issue(ctx, "old", now.Add(-2*time.Minute)))
	require.NoError(t, store.Issue(ctx, "fresh", now))

	assert.Equal(t, 1, store.Cleanup())
	assert.Equal(t, 1, store.Len())
	assert.NoError(t, store.Consume(ctx, "fresh"))
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	store := NewMemoryStore(WithTTL(time.Nanosecond))
	require.NoError(t, store.Issue(context.Background(), "s", time.Now().Add(-time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunCleanup(ctx, store, time.Millisecond, nil)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup loop did not stop")
	}
}
