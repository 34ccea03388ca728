package flow

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/config"
	"github.com/obot-platform/atlassian-oauth/pkg/state"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// mockProvider implements providers.Provider for testing
type mockProvider struct {
	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32

	exchange     func(code string) (*oauth2.Token, error)
	refresh      func(refreshToken string) (*oauth2.Token, error)
	resourcesErr error
	userInfoErr  error
}

func (m *mockProvider) ExchangeCodeForToken(_ context.Context, code string) (*oauth2.Token, error) {
	m.exchangeCalls.Add(1)
	if m.exchange != nil {
		return m.exchange(code)
	}
	return &oauth2.Token{
		AccessToken:  "access_" + code,
		RefreshToken: "refresh_" + code,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
	}, nil
}

func (m *mockProvider) RefreshToken(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	m.refreshCalls.Add(1)
	if m.refresh != nil {
		return m.refresh(refreshToken)
	}
	return &oauth2.Token{AccessToken: "new_access", RefreshToken: "new_refresh", ExpiresIn: 3600}, nil
}

func (m *mockProvider) GetAccessibleResources(context.Context, string) ([]types.Resource, error) {
	if m.resourcesErr != nil {
		return nil, m.resourcesErr
	}
	return []types.Resource{{ID: "cloud-1", Name: "acme"}, {ID: "cloud-2", Name: "other"}}, nil
}

func (m *mockProvider) GetUserInfo(_ context.Context, _, cloudID string) (*types.UserInfo, error) {
	if m.userInfoErr != nil {
		return nil, m.userInfoErr
	}
	return &types.UserInfo{AccountID: "acct-" + cloudID, Email: "mia@example.com", DisplayName: "Mia", Active: true}, nil
}

func (m *mockProvider) GetName() string {
	return "mock"
}

type fixture struct {
	handler  *Handler
	provider *mockProvider
	tokens   *tokenstore.MemoryStore
	states   *state.MemoryStore
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.New("client-id", "secret", "https://app.example.com/callback", nil)
	require.NoError(t, err)

	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{
		provider: &mockProvider{},
		tokens:   tokenstore.NewMemoryStore(tokenstore.WithClock(clock)),
		states:   state.NewMemoryStore(state.WithClock(clock)),
		now:      &now,
	}
	f.handler = NewHandler("alice", cfg, f.provider, f.tokens, f.states, WithClock(clock))
	return f
}

func (f *fixture) issueState(t *testing.T) string {
	t.Helper()
	authURL, st, err := f.handler.GenerateAuthURL(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, st, u.Query().Get("state"))
	return st
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		st := f.issueState(t)

		result, err := f.handler.HandleCallback(ctx, "code1", st)
		require.NoError(t, err)
		assert.Equal(t, TokensStored, result.State)
		assert.Equal(t, "cloud-1", result.CloudID)
		assert.Equal(t, "acme", result.ResourceName)
		assert.Equal(t, time.Hour, result.ExpiresIn)
		assert.Equal(t, "acct-cloud-1", result.UserInfo.AccountID)

		token, ok, err := f.tokens.GetAccessToken(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "access_code1", token)
	})

	t.Run("ReplayIsRejected", func(t *testing.T) {
		f := newFixture(t)
		st := f.issueState(t)

		_, err := f.handler.HandleCallback(ctx, "code1", st)
		require.NoError(t, err)

		result, err := f.handler.HandleCallback(ctx, "code2", st)
		assert.Equal(t, Rejected, result.State)
		var apiErr *apierrors.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "invalid_state", apiErr.Code)
		assert.Equal(t, int32(1), f.provider.exchangeCalls.Load())
	})

	t.Run("ForgedStateNeverReachesTokenEndpoint", func(t *testing.T) {
		f := newFixture(t)

		result, err := f.handler.HandleCallback(ctx, "code1", "forged")
		assert.Equal(t, Rejected, result.State)
		assert.ErrorIs(t, err, apierrors.ErrOAuthFlow)
		assert.ErrorIs(t, err, state.ErrStateNotFound)
		assert.Zero(t, f.provider.exchangeCalls.Load())
		assert.Zero(t, f.tokens.Len())
	})

	t.Run("ExpiredState", func(t *testing.T) {
		f := newFixture(t)
		st := f.issueState(t)
		*f.now = f.now.Add(state.TTL + time.Second)

		result, err := f.handler.HandleCallback(ctx, "code1", st)
		assert.Equal(t, Rejected, result.State)
		assert.ErrorIs(t, err, state.ErrStateExpired)
		assert.Zero(t, f.provider.exchangeCalls.Load())
	})

	t.Run("MissingRefreshTokenUsesPlaceholder", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchange = func(string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "access", ExpiresIn: 600}, nil
		}

		result, err := f.handler.HandleCallback(ctx, "code", f.issueState(t))
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, result.ExpiresIn)

		refresh, ok, err := f.tokens.GetRefreshToken(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, tokenstore.NoRefreshToken, refresh)
	})

	t.Run("MissingAccessTokenFails", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchange = func(string) (*oauth2.Token, error) {
			return &oauth2.Token{RefreshToken: "refresh"}, nil
		}

		result, err := f.handler.HandleCallback(ctx, "code", f.issueState(t))
		assert.Equal(t, Failed, result.State)
		assert.ErrorIs(t, err, apierrors.ErrOAuthFlow)
		assert.Zero(t, f.tokens.Len())
	})

	t.Run("ExchangeFailure", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchange = func(string) (*oauth2.Token, error) {
			return nil, apierrors.NewOAuthFlow("invalid_grant", "Code expired")
		}

		result, err := f.handler.HandleCallback(ctx, "code", f.issueState(t))
		assert.Equal(t, Failed, result.State)
		assert.Equal(t, "Authorization failed: Code expired", apierrors.UserMessage(err))
	})

	t.Run("EnrichmentFailuresAreTolerated", func(t *testing.T) {
		f := newFixture(t)
		f.provider.resourcesErr = errors.New("resources down")

		result, err := f.handler.HandleCallback(ctx, "code", f.issueState(t))
		require.NoError(t, err)
		assert.Equal(t, TokensStored, result.State)
		assert.Empty(t, result.CloudID)
		assert.Equal(t, "alice", result.UserInfo.Email)
	})

	t.Run("StorageFailure", func(t *testing.T) {
		f := newFixture(t)
		cfg, err := config.New("client-id", "secret", "https://app.example.com/callback", nil)
		require.NoError(t, err)
		f.handler = NewHandler("alice", cfg, f.provider, tokenstore.NewEnvStore("", ""), f.states)

		result, err := f.handler.HandleCallback(ctx, "code", f.issueState(t))
		assert.Equal(t, Failed, result.State)
		var apiErr *apierrors.Error
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "storage_error", apiErr.Code)
	})
}

func TestRefreshAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("KeepsRefreshTokenWhenNotRotated", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.tokens.Store(ctx, "alice", "old", "keep-me", time.Minute, ""))
		f.provider.refresh = func(rt string) (*oauth2.Token, error) {
			assert.Equal(t, "keep-me", rt)
			return &oauth2.Token{AccessToken: "fresh", ExpiresIn: 7200}, nil
		}

		require.NoError(t, f.handler.RefreshAccessToken(ctx))

		token, _, _ := f.tokens.GetAccessToken(ctx, "alice")
		refresh, _, _ := f.tokens.GetRefreshToken(ctx, "alice")
		assert.Equal(t, "fresh", token)
		assert.Equal(t, "keep-me", refresh)

		status, err := f.tokens.CheckStatus(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, f.now.Add(2*time.Hour), *status.ExpiresAt)
	})

	t.Run("RotatesRefreshToken", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.tokens.Store(ctx, "alice", "old", "r1", time.Minute, ""))

		require.NoError(t, f.handler.RefreshAccessToken(ctx))

		refresh, _, _ := f.tokens.GetRefreshToken(ctx, "alice")
		assert.Equal(t, "new_refresh", refresh)
	})

	for _, rt := range []string{"", tokenstore.NoRefreshToken} {
		t.Run("NoRefreshToken "+rt, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.tokens.Store(ctx, "alice", "old", rt, time.Minute, ""))

			err := f.handler.RefreshAccessToken(ctx)
			var apiErr *apierrors.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, apierrors.KindTokenRefreshFailed, apiErr.Kind)
			assert.Equal(t, "no_refresh_token", apiErr.Code)
			assert.Zero(t, f.provider.refreshCalls.Load())
		})
	}

	t.Run("ProviderRejection", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.tokens.Store(ctx, "alice", "old", "r1", time.Minute, ""))
		f.provider.refresh = func(string) (*oauth2.Token, error) {
			return nil, apierrors.NewOAuthFlow("invalid_grant", "Refresh token revoked")
		}

		err := f.handler.RefreshAccessToken(ctx)
		assert.ErrorIs(t, err, apierrors.ErrTokenRefreshFailed)
		assert.True(t, apierrors.RequiresReauth(err))

		token, _, _ := f.tokens.GetAccessToken(ctx, "alice")
		assert.Equal(t, "old", token)
	})

	t.Run("ConcurrentCallsShareOneRefresh", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.tokens.Store(ctx, "alice", "old", "r1", time.Minute, ""))

		release := make(chan struct{})
		f.provider.refresh = func(string) (*oauth2.Token, error) {
			<-release
			return &oauth2.Token{AccessToken: "fresh", RefreshToken: "r2", ExpiresIn: 3600}, nil
		}

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- f.handler.RefreshAccessToken(ctx)
			}()
		}
		require.Eventually(t, func() bool { return f.provider.refreshCalls.Load() == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), f.provider.refreshCalls.Load())
	})
}

func TestCheckAuthStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("NoTokens", func(t *testing.T) {
		f := newFixture(t)
		status, err := f.handler.CheckAuthStatus(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsAuthenticated)
		assert.True(t, status.IsExpired)
		assert.Equal(t, "No tokens found", status.Error)
		assert.Equal(t, "alice", status.UserID)
	})

	t.Run("Valid", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.tokens.Store(ctx, "alice", "access", "refresh", time.Hour, ""))

		status, err := f.handler.CheckAuthStatus(ctx)
		require.NoError(t, err)
		assert.True(t, status.IsAuthenticated)
		assert.Equal(t, "cloud-1", status.CloudID)
		assert.Equal(t, "acme", status.ResourceName)
		assert.Equal(t, "Mia", status.UserInfo.DisplayName)
		assert.Empty(t, status.Error)
	})

	t.Run("EnrichmentErrorsSwallowed", func(t *testing.T) {
		f := newFixture(t)
		f.provider.userInfoErr = errors.New("profile down")
		require.NoError(t, f.tokens.Store(ctx, "alice", "access", "refresh", time.Hour, ""))

		status, err := f.handler.CheckAuthStatus(ctx)
		require.NoError(t, err)
		assert.True(t, status.IsAuthenticated)
		assert.Equal(t, "cloud-1", status.CloudID)
		assert.Nil(t, status.UserInfo)
	})

	t.Run("Expired", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.tokens.Store(ctx, "alice", "access", "refresh", time.Hour, ""))
		*f.now = f.now.Add(time.Hour)

		status, err := f.handler.CheckAuthStatus(ctx)
		require.NoError(t, err)
		assert.False(t, status.IsAuthenticated)
		assert.True(t, status.IsExpired)
		assert.Equal(t, "No valid tokens", status.Error)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.tokens.Store(ctx, "alice", "access", "refresh", time.Hour, ""))

	require.NoError(t, f.handler.Revoke(ctx))
	require.NoError(t, f.handler.Revoke(ctx))
	assert.Zero(t, f.tokens.Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "tokens_stored", TokensStored.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "State(42)", State(42).String())
}
