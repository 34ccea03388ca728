// Package tokenstore persists Atlassian OAuth tokens per user behind a
// single interface with interchangeable backends.
package tokenstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

const (
	DefaultTokenType = "Bearer"

	// NoRefreshToken is stored when the provider did not issue a refresh
	// token, typically because offline_access was not granted.
	NoRefreshToken = "no-refresh-token"

	noTokensFound = "No tokens found"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrEmptyUserID      = errors.New("user id is required")
	ErrEmptyAccessToken = errors.New("access token is required")
	ErrReadOnly         = errors.New("token store is read-only")
)

// Store persists token records keyed by user id. Implementations must be
// safe for concurrent use; Store is last-write-wins and always replaces
// the whole record.
type Store interface {
	Store(ctx context.Context, userID, accessToken, refreshToken string, expiresIn time.Duration, tokenType string) error
	// GetAccessToken returns ok=false, without error, when no record exists.
	GetAccessToken(ctx context.Context, userID string) (token string, ok bool, err error)
	GetRefreshToken(ctx context.Context, userID string) (token string, ok bool, err error)
	CheckStatus(ctx context.Context, userID string) (*types.TokenStatus, error)
	// Revoke deletes the record. Revoking a missing record succeeds.
	Revoke(ctx context.Context, userID string) error
}

// Clock returns the current time.
type Clock func() time.Time

type options struct {
	now    Clock
	logger *slog.Logger
}

// Option configures the stores in this package.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrDiscard(o.logger)
	return o
}

// NewRecord validates the inputs of Store and builds the replacement record.
func NewRecord(now time.Time, userID, accessToken, refreshToken string, expiresIn time.Duration, tokenType string) (*types.TokenRecord, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if accessToken == "" {
		return nil, ErrEmptyAccessToken
	}
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return &types.TokenRecord{
		UserID:       userID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    now.Add(expiresIn),
	}, nil
}

// StatusFor computes the status of rec at now. A nil record, or one without
// an access token, is reported as absent.
func StatusFor(rec *types.TokenRecord, now time.Time) *types.TokenStatus {
	if rec == nil || rec.AccessToken == "" {
		return &types.TokenStatus{IsValid: false, IsExpired: true, Error: noTokensFound}
	}
	expiresAt := rec.ExpiresAt
	expired := rec.IsExpiredAt(now)
	return &types.TokenStatus{
		IsValid:   !expired,
		IsExpired: expired,
		ExpiresAt: &expiresAt,
	}
}

// HasUsableRefreshToken reports whether token can be exchanged at the token endpoint.
func HasUsableRefreshToken(token string) bool {
	return token != "" && token != NoRefreshToken
}
