// Package apierrors defines the typed failures returned by the Atlassian
// OAuth flow, token stores and the authenticated API client.
package apierrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of an Atlassian failure.
type Kind string

const (
	KindTokenExpired       Kind = "token_expired"
	KindTokenRefreshFailed Kind = "token_refresh_failed"
	KindInvalidToken       Kind = "invalid_token"
	KindOAuthFlow          Kind = "oauth_flow_error"
	KindRateLimited        Kind = "rate_limited"
	KindPermissionDenied   Kind = "permission_denied"
	KindNotFound           Kind = "not_found"
	KindServer             Kind = "server_error"
	KindNetwork            Kind = "network_error"
	KindConfiguration      Kind = "configuration_error"
	KindAPI                Kind = "api_error"
)

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrTokenRefreshFailed = &Error{Kind: KindTokenRefreshFailed}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrOAuthFlow          = &Error{Kind: KindOAuthFlow}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrPermissionDenied   = &Error{Kind: KindPermissionDenied}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrServer             = &Error{Kind: KindServer}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrAPI                = &Error{Kind: KindAPI}
)

// Error is a single Atlassian failure. Message is meant for developers and
// logs; UserMessage renders the text shown to end users.
type Error struct {
	Kind    Kind
	Message string

	// StatusCode is the HTTP status that produced the error, if any.
	StatusCode int
	// RetryAfter is the server supplied wait in seconds. Zero means unknown.
	RetryAfter int
	// RequiredScopes lists the OAuth scopes missing for a PermissionDenied error.
	RequiredScopes []string
	// ResourceType names what could not be found, e.g. "issue" or "page".
	ResourceType string
	// Code is the OAuth error code for flow errors, e.g. "access_denied".
	Code string

	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessage(e.Kind)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail sets a detail value and returns e for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// UserMessage returns an actionable message suitable for end users.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindTokenExpired:
		return "Your Atlassian session has expired. Attempting to refresh..."
	case KindTokenRefreshFailed:
		return "Unable to refresh your Atlassian session. Please log in again to continue."
	case KindInvalidToken:
		return "Your Atlassian authentication is invalid. Please log in again."
	case KindOAuthFlow:
		switch e.Code {
		case "access_denied":
			return "Authorization was cancelled. Please try again if you'd like to connect to Atlassian."
		case "invalid_scope":
			return "The requested permissions are not available. Please contact support."
		}
		return "Authorization failed: " + e.messageOrDefault()
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Too many requests to Atlassian. Please wait %d seconds and try again.", e.RetryAfter)
		}
		return "Too many requests to Atlassian. Please wait a moment and try again."
	case KindPermissionDenied:
		if len(e.RequiredScopes) > 0 {
			return "You don't have permission to access this resource. Required permissions: " + strings.Join(e.RequiredScopes, ", ")
		}
		return "You don't have permission to access this resource. Please check your Atlassian permissions."
	case KindNotFound:
		if e.ResourceType != "" {
			return fmt.Sprintf("The requested %s was not found.", e.ResourceType)
		}
		return "The requested resource was not found."
	case KindServer:
		return "Atlassian services are experiencing issues. Please try again in a few moments."
	case KindNetwork:
		return "Unable to connect to Atlassian. Please check your internet connection."
	case KindConfiguration:
		return "Atlassian integration is not configured correctly: " + e.messageOrDefault()
	}
	return e.messageOrDefault()
}

func (e *Error) messageOrDefault() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultMessage(e.Kind)
}

func defaultMessage(kind Kind) string {
	switch kind {
	case KindTokenExpired:
		return "Your Atlassian session has expired"
	case KindTokenRefreshFailed:
		return "Failed to refresh authentication token"
	case KindInvalidToken:
		return "Authentication token is invalid"
	case KindOAuthFlow:
		return "OAuth authorization failed"
	case KindRateLimited:
		return "API rate limit exceeded"
	case KindPermissionDenied:
		return "Insufficient permissions"
	case KindNotFound:
		return "Resource not found"
	case KindServer:
		return "Atlassian service error"
	case KindNetwork:
		return "Network connection failed"
	case KindConfiguration:
		return "Invalid configuration"
	}
	return "Atlassian API request failed"
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// NewOAuthFlow returns a flow error with the given OAuth error code.
func NewOAuthFlow(code, message string) *Error {
	return &Error{Kind: KindOAuthFlow, Code: code, Message: message}
}

// NewRateLimited returns a rate limit error. retryAfter is in seconds, zero
// when the server did not say.
func NewRateLimited(retryAfter int) *Error {
	return &Error{Kind: KindRateLimited, StatusCode: 429, RetryAfter: retryAfter, Message: "API rate limit exceeded"}
}

// NewPermissionDenied returns a 403 error with optional required scopes.
func NewPermissionDenied(message string, requiredScopes ...string) *Error {
	return &Error{Kind: KindPermissionDenied, StatusCode: 403, Message: message, RequiredScopes: requiredScopes}
}

// NewNotFound returns a 404 error for the given resource type, which may be empty.
func NewNotFound(resourceType, message string) *Error {
	return &Error{Kind: KindNotFound, StatusCode: 404, ResourceType: resourceType, Message: message}
}

// NewServer returns a 5xx error.
func NewServer(status int) *Error {
	return &Error{Kind: KindServer, StatusCode: status, Message: fmt.Sprintf("Atlassian server error: %d", status)}
}

// NewConfiguration returns a configuration error wrapping cause.
func NewConfiguration(cause error) *Error {
	msg := "Invalid configuration"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindConfiguration, Message: msg, Err: cause}
}

// KindOf returns the Kind of err, or the empty Kind when err is not a
// taxonomy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage renders err for end users. Errors outside the taxonomy get a
// generic message so internal details never leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return "An unexpected error occurred while talking to Atlassian. Please try again."
}

// RequiresReauth reports whether the user has to log in again to recover.
func RequiresReauth(err error) bool {
	switch KindOf(err) {
	case KindTokenExpired, KindInvalidToken, KindTokenRefreshFailed, KindConfiguration:
		return true
	}
	return false
}
