package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testARN = "arn:aws:bedrock-agentcore:us-east-1:123456789012:workload-identity/demo"

// identityServer mimics the identity service token API.
type identityServer struct {
	t      *testing.T
	mu     sync.Mutex
	tokens map[string]tokenstore.BackendToken
}

func newIdentityServer(t *testing.T) *httptest.Server {
	s := &identityServer{t: t, tokens: map[string]tokenstore.BackendToken{}}
	srv := httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(srv.Close)
	return srv
}

func (s *identityServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderWorkloadARN) != testARN {
		http.Error(w, "unknown workload", http.StatusForbidden)
		return
	}
	if _, err := uuid.Parse(r.Header.Get(HeaderRequestID)); err != nil {
		http.Error(w, "bad request id", http.StatusBadRequest)
		return
	}
	userID, ok := strings.CutPrefix(r.URL.Path, "/tokens/")
	if !ok || userID == "" {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		var tok tokenstore.BackendToken
		if err := json.NewDecoder(r.Body).Decode(&tok); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.tokens[userID] = tok
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		tok, ok := s.tokens[userID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tok)
	case http.MethodDelete:
		if _, ok := s.tokens[userID]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(s.tokens, userID)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestClientStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now tokenstore.Clock) tokenstore.Store {
		srv := newIdentityServer(t)
		client, err := NewClient(srv.URL, testARN)
		require.NoError(t, err)
		return tokenstore.NewIdentityStore(client, tokenstore.WithClock(now))
	})
}

func TestClientRoundTrip(t *testing.T) {
	srv := newIdentityServer(t)
	client, err := NewClient(srv.URL+"/", testARN)
	require.NoError(t, err)

	ctx := context.Background()
	expires := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	_, err = client.GetToken(ctx, "user@example.com")
	assert.ErrorIs(t, err, tokenstore.ErrTokenNotFound)

	require.NoError(t, client.PutToken(ctx, "user@example.com", tokenstore.BackendToken{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		ExpiresAt:    expires,
	}))

	tok, err := client.GetToken(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access", tok.AccessToken)
	assert.Equal(t, "refresh", tok.RefreshToken)
	assert.True(t, expires.Equal(tok.ExpiresAt))

	require.NoError(t, client.DeleteToken(ctx, "user@example.com"))
	assert.ErrorIs(t, client.DeleteToken(ctx, "user@example.com"), tokenstore.ErrTokenNotFound)
}

func TestClientErrors(t *testing.T) {
	t.Run("WrongARN", func(t *testing.T) {
		srv := newIdentityServer(t)
		client, err := NewClient(srv.URL, "arn:other")
		require.NoError(t, err)

		_, err = client.GetToken(context.Background(), "alice")
		require.Error(t, err)
		assert.NotErrorIs(t, err, tokenstore.ErrTokenNotFound)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("MissingARN", func(t *testing.T) {
		_, err := NewClient("https://identity.example.com", "")
		assert.ErrorIs(t, err, ErrMissingARN)
	})

	t.Run("BadEndpoint", func(t *testing.T) {
		_, err := NewClient("not a url", testARN)
		assert.Error(t, err)
	})

	t.Run("EmptyUser", func(t *testing.T) {
		client, err := NewClient("https://identity.example.com", testARN)
		require.NoError(t, err)
		_, err = client.GetToken(context.Background(), "")
		assert.ErrorIs(t, err, tokenstore.ErrEmptyUserID)
	})
}
