package apierrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"rate limited with retry", NewRateLimited(5), "Too many requests to Atlassian. Please wait 5 seconds and try again."},
		{"rate limited without retry", NewRateLimited(0), "Too many requests to Atlassian. Please wait a moment and try again."},
		{"permission with scopes", NewPermissionDenied("denied", "read:jira-work", "write:jira-work"), "You don't have permission to access this resource. Required permissions: read:jira-work, write:jira-work"},
		{"permission without scopes", NewPermissionDenied("denied"), "You don't have permission to access this resource. Please check your Atlassian permissions."},
		{"not found typed", NewNotFound("issue", ""), "The requested issue was not found."},
		{"not found untyped", NewNotFound("", ""), "The requested resource was not found."},
		{"access denied", NewOAuthFlow("access_denied", "user said no"), "Authorization was cancelled. Please try again if you'd like to connect to Atlassian."},
		{"invalid scope", NewOAuthFlow("invalid_scope", ""), "The requested permissions are not available. Please contact support."},
		{"other flow error", NewOAuthFlow("invalid_state", "Invalid or expired state parameter"), "Authorization failed: Invalid or expired state parameter"},
		{"server", NewServer(503), "Atlassian services are experiencing issues. Please try again in a few moments."},
		{"network", New(KindNetwork, "dial tcp: refused"), "Unable to connect to Atlassian. Please check your internet connection."},
		{"refresh failed", New(KindTokenRefreshFailed, ""), "Unable to refresh your Atlassian session. Please log in again to continue."},
		{"invalid token", New(KindInvalidToken, ""), "Your Atlassian authentication is invalid. Please log in again."},
		{"expired", New(KindTokenExpired, ""), "Your Atlassian session has expired. Attempting to refresh..."},
		{"generic", &Error{Kind: KindAPI, Message: "API request failed: 418"}, "API request failed: 418"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.UserMessage())
		})
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("calling jira: %w", NewRateLimited(3))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindRateLimited, KindOf(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 3, apiErr.RetryAfter)
	assert.Equal(t, 429, apiErr.StatusCode)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindNetwork, cause, "Connection failed")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestUserMessageForForeignErrors(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "An unexpected error occurred while talking to Atlassian. Please try again.", UserMessage(errors.New("boom")))
	assert.Equal(t, "The requested page was not found.", UserMessage(fmt.Errorf("wrapped: %w", NewNotFound("page", ""))))
}

func TestRequiresReauth(t *testing.T) {
	assert.True(t, RequiresReauth(ErrInvalidToken))
	assert.True(t, RequiresReauth(New(KindTokenExpired, "")))
	assert.True(t, RequiresReauth(NewConfiguration(errors.New("missing client id"))))
	assert.False(t, RequiresReauth(NewServer(500)))
	assert.False(t, RequiresReauth(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := NewNotFound("", "Requested resource not found").WithDetail("url", "https://example.com").WithDetail("method", "GET")
	assert.Equal(t, map[string]any{"url": "https://example.com", "method": "GET"}, err.Details)
}
