// Package storetest holds the behavior every tokenstore.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Factory returns a new, empty store reading the time from now.
type Factory func(t *testing.T, now tokenstore.Clock) tokenstore.Store

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// Run exercises newStore against the shared store contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("Absent", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)

		token, ok, err := store.GetAccessToken(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, token)

		_, ok, err = store.GetRefreshToken(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)

		status, err := store.CheckStatus(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, status.IsValid)
		assert.True(t, status.IsExpired)
		assert.Nil(t, status.ExpiresAt)
		assert.Equal(t, "No tokens found", status.Error)
	})

	t.Run("StoreAndRead", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)
		require.NoError(t, store.Store(ctx, "alice", "access-1", "refresh-1", time.Hour, "Bearer"))

		token, ok, err := store.GetAccessToken(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "access-1", token)

		refresh, ok, err := store.GetRefreshToken(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "refresh-1", refresh)

		status, err := store.CheckStatus(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, status.IsValid)
		assert.False(t, status.IsExpired)
		require.NotNil(t, status.ExpiresAt)
		assert.WithinDuration(t, base.Add(time.Hour), *status.ExpiresAt, time.Second)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)
		require.NoError(t, store.Store(ctx, "alice", "access-1", "refresh-1", time.Hour, "Bearer"))
		require.NoError(t, store.Store(ctx, "alice", "access-2", "", 2*time.Hour, ""))

		token, _, err := store.GetAccessToken(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "access-2", token)

		_, ok, err := store.GetRefreshToken(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok, "the whole record is replaced, including the refresh token")

		status, err := store.CheckStatus(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, status.ExpiresAt)
		assert.WithinDuration(t, base.Add(2*time.Hour), *status.ExpiresAt, time.Second)
	})

	t.Run("ExpiryBoundary", func(t *testing.T) {
		clock := NewClock(base)
		store := newStore(t, clock.Now)
		require.NoError(t, store.Store(ctx, "alice", "access-1", "refresh-1", time.Hour, "Bearer"))

		clock.Set(base.Add(time.Hour - time.Second))
		status, err := store.CheckStatus(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, status.IsValid)

		clock.Set(base.Add(time.Hour))
		status, err = store.CheckStatus(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, status.IsValid)
		assert.True(t, status.IsExpired)
		assert.Empty(t, status.Error)

		token, ok, err := store.GetAccessToken(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok, "expired tokens are still returned")
		assert.Equal(t, "access-1", token)
	})

	t.Run("RevokeIsIdempotent", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)
		require.NoError(t, store.Revoke(ctx, "nobody"))

		require.NoError(t, store.Store(ctx, "alice", "access-1", "refresh-1", time.Hour, "Bearer"))
		require.NoError(t, store.Revoke(ctx, "alice"))
		require.NoError(t, store.Revoke(ctx, "alice"))

		_, ok, err := store.GetAccessToken(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)
		require.NoError(t, store.Store(ctx, "alice", "access-a", "refresh-a", time.Hour, "Bearer"))
		require.NoError(t, store.Store(ctx, "bob", "access-b", "refresh-b", time.Hour, "Bearer"))
		require.NoError(t, store.Revoke(ctx, "alice"))

		token, ok, err := store.GetAccessToken(ctx, "bob")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "access-b", token)
	})

	t.Run("RejectsInvalidInput", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)
		assert.ErrorIs(t, store.Store(ctx, "", "access", "", time.Hour, ""), tokenstore.ErrEmptyUserID)
		assert.ErrorIs(t, store.Store(ctx, "alice", "", "", time.Hour, ""), tokenstore.ErrEmptyAccessToken)
	})

	t.Run("ConcurrentWrites", func(t *testing.T) {
		store := newStore(t, NewClock(base).Now)

		var eg errgroup.Group
		for i := range 16 {
			eg.Go(func() error {
				return store.Store(ctx, "alice", fmt.Sprintf("access-%d", i), fmt.Sprintf("refresh-%d", i), time.Hour, "Bearer")
			})
		}
		require.NoError(t, eg.Wait())

		token, ok, err := store.GetAccessToken(ctx, "alice")
		require.NoError(t, err)
		require.True(t, ok)

		refresh, _, err := store.GetRefreshToken(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "refresh-"+token[len("access-"):], refresh, "a record is never torn between writers")
	})
}
