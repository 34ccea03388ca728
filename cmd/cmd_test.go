package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/apiclient"
	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/config"
	"github.com/obot-platform/atlassian-oauth/pkg/jira"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/ratelimit"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOAuthConfig(t *testing.T) *config.OAuthConfig {
	t.Helper()
	cfg, err := config.New("client-id", "secret", "http://localhost:8080/callback", nil,
		config.WithIdentityARN("arn:aws:identity:us-east-1:123:workload/demo"))
	require.NoError(t, err)
	return cfg
}

func TestRootConfig(t *testing.T) {
	c := &RootCmd{TokenBackend: "bolt", Port: "9000", Host: "0.0.0.0", RateLimitWindow: "1m", RateLimitMax: 10}
	cfg, err := c.config()
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.TokenBackend)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 10, cfg.RateLimitMax)

	cfg, err = (&RootCmd{}).config()
	require.NoError(t, err)
	assert.Equal(t, ratelimit.DefaultWindow, cfg.RateLimitWindow)
	assert.Equal(t, ratelimit.DefaultMax, cfg.RateLimitMax)

	_, err = (&RootCmd{RateLimitWindow: "soon"}).config()
	assert.ErrorContains(t, err, "invalid rate-limit-window")
}

func TestNewAppBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	t.Setenv(tokenstore.EnvAccessToken, "env-token")

	tests := []struct {
		name     string
		cfg      types.Config
		writable bool
	}{
		{"memory", types.Config{TokenBackend: BackendMemory}, true},
		{"database", types.Config{TokenBackend: BackendDatabase, DatabaseDSN: filepath.Join(dir, "tokens.db")}, true},
		{"encrypted database", types.Config{TokenBackend: BackendDatabase, DatabaseDSN: filepath.Join(dir, "enc.db"), EncryptionKey: key}, true},
		{"bolt", types.Config{TokenBackend: BackendBolt, BoltPath: filepath.Join(dir, "nested", "tokens.bolt")}, true},
		{"identity", types.Config{TokenBackend: BackendIdentity, IdentityEndpoint: "http://127.0.0.1:1"}, true},
		{"env", types.Config{TokenBackend: BackendEnv}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			a, err := newApp(&cfg, testOAuthConfig(t), logging.Discard())
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, a.Close()) })

			assert.NotNil(t, a.flow)
			assert.NotNil(t, a.cleaner)
			assert.Equal(t, config.DefaultDemoUser, a.flow.UserID())

			if tt.name == "identity" {
				return
			}
			if !tt.writable {
				err := a.tokens.Store(ctx, "demo-user", "x", "y", time.Hour, "")
				assert.ErrorIs(t, err, apierrors.ErrConfiguration)
				token, ok, err := a.tokens.GetAccessToken(ctx, "demo-user")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "env-token", token)
				return
			}

			require.NoError(t, a.tokens.Store(ctx, "demo-user", "at", "rt", time.Hour, ""))
			status, err := a.tokens.CheckStatus(ctx, "demo-user")
			require.NoError(t, err)
			assert.True(t, status.IsValid)

			_, st, err := a.flow.GenerateAuthURL(ctx)
			require.NoError(t, err)
			assert.NoError(t, a.states.Consume(ctx, st))
		})
	}
}

func TestNewAppErrors(t *testing.T) {
	_, err := newApp(&types.Config{TokenBackend: "redis"}, testOAuthConfig(t), logging.Discard())
	assert.ErrorContains(t, err, `unknown token backend "redis"`)

	_, err = newApp(&types.Config{TokenBackend: BackendDatabase, EncryptionKey: "short"}, testOAuthConfig(t), logging.Discard())
	assert.ErrorContains(t, err, "invalid ENCRYPTION_KEY")

	cfg, err := config.New("client-id", "secret", "http://localhost:8080/callback", nil)
	require.NoError(t, err)
	_, err = newApp(&types.Config{TokenBackend: BackendIdentity, IdentityEndpoint: "http://127.0.0.1:1"}, cfg, logging.Discard())
	assert.Error(t, err, "identity backend needs an ARN")
}

func TestCloudID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id":"cloud-1","name":"acme"},{"id":"cloud-2","name":"other"}]`)
	}))
	defer srv.Close()

	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Store(context.Background(), "demo-user", "at", "rt", time.Hour, ""))
	api := apiclient.New("demo-user", store, nil, apiclient.WithEndpoints(config.Endpoints{AccessibleResources: srv.URL}))

	id, err := cloudID(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, "cloud-1", id)
}

func TestRenderAuthStatus(t *testing.T) {
	expires := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderAuthStatus(&buf, &types.AuthStatus{
		IsAuthenticated: true,
		UserID:          "demo-user",
		ExpiresAt:       &expires,
		CloudID:         "cloud-1",
		ResourceName:    "acme",
		UserInfo:        &types.UserInfo{DisplayName: "Mia", Email: "mia@example.com"},
	})
	out := buf.String()
	for _, want := range []string{"Authenticated", "demo-user", "2025-06-01T12:00:00Z", "Mia", "mia@example.com", "acme", "cloud-1"} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	renderAuthStatus(&buf, &types.AuthStatus{UserID: "demo-user", Error: "No tokens found"})
	assert.Contains(t, buf.String(), "Not authenticated")
	assert.Contains(t, buf.String(), "No tokens found")
}

func TestRenderIssues(t *testing.T) {
	var buf bytes.Buffer
	renderIssues(&buf, nil)
	assert.Contains(t, buf.String(), "No issues found")

	due := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	buf.Reset()
	renderIssues(&buf, []jira.Issue{
		{Key: "PROJ-1", Summary: "Fix login", Status: "In Progress", Priority: "High", DueDate: &due},
		{Key: "PROJ-2", Summary: string(bytes.Repeat([]byte("x"), 200)), Status: "To Do"},
	})
	out := buf.String()
	assert.Contains(t, out, "PROJ-1")
	assert.Contains(t, out, "2025-03-31")
	assert.Contains(t, out, "...")
	assert.NotContains(t, out, string(bytes.Repeat([]byte("x"), 81)))
}

type storingRefresher struct {
	tokens tokenstore.Store
	calls  int
}

func (r *storingRefresher) RefreshAccessToken(ctx context.Context) error {
	r.calls++
	return r.tokens.Store(ctx, "alice", "fresh-token", "refresh", time.Hour, "")
}

func TestCurrentToken(t *testing.T) {
	ctx := context.Background()

	t.Run("Valid", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Store(ctx, "alice", "live-token", "refresh", time.Hour, ""))
		r := &storingRefresher{tokens: store}

		token, err := currentToken(ctx, store, r, "alice")
		require.NoError(t, err)
		assert.Equal(t, "live-token", token)
		assert.Zero(t, r.calls)
	})

	t.Run("ExpiredIsRefreshed", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Store(ctx, "alice", "old-token", "refresh", 0, ""))
		r := &storingRefresher{tokens: store}

		token, err := currentToken(ctx, store, r, "alice")
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", token)
		assert.Equal(t, 1, r.calls)
	})

	t.Run("ExpiredWithoutRefreshToken", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Store(ctx, "alice", "old-token", tokenstore.NoRefreshToken, 0, ""))
		r := &storingRefresher{tokens: store}

		token, err := currentToken(ctx, store, r, "alice")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log in again")
		assert.Empty(t, token)
		assert.Zero(t, r.calls)
	})

	t.Run("Missing", func(t *testing.T) {
		store := tokenstore.NewMemoryStore()
		_, err := currentToken(ctx, store, &storingRefresher{tokens: store}, "alice")
		assert.ErrorContains(t, err, "no token found")
	})
}
