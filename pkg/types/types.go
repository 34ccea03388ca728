package types

import (
	"time"
)

// Config holds the server and storage settings for the Atlassian auth service.
// The Atlassian OAuth client itself is configured separately by config.OAuthConfig.
type Config struct {
	Port             string
	Host             string
	DatabaseDSN      string
	TokenBackend     string
	EncryptionKey    string
	BoltPath         string
	IdentityEndpoint string
	CallbackPath     string
	AutoComplete     bool
	RateLimitWindow  time.Duration
	RateLimitMax     int
}

// TokenRecord is the stored credential set for one user. It is replaced
// wholesale on every store and refresh.
type TokenRecord struct {
	UserID       string    `gorm:"primaryKey" json:"user_id"`
	AccessToken  string    `gorm:"not null" json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `gorm:"not null;default:Bearer" json:"token_type"`
	ExpiresAt    time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpiredAt reports whether the record is expired at now. Expiry is
// exclusive of the current instant: now == ExpiresAt is expired.
func (r *TokenRecord) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AuthState is a pending CSRF state issued with an authorization URL.
type AuthState struct {
	State     string    `gorm:"primaryKey"`
	IssuedAt  time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TokenStatus is the result of a token store status check.
type TokenStatus struct {
	IsValid   bool       `json:"is_valid"`
	IsExpired bool       `json:"is_expired"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// UserInfo is the Atlassian account behind a token.
type UserInfo struct {
	AccountID   string `json:"account_id,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Active      bool   `json:"active"`
	TimeZone    string `json:"timezone,omitempty"`
}

// Resource is an Atlassian site (cloud) the token can access.
type Resource struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	Scopes    []string `json:"scopes"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

// AuthStatus is the consolidated authentication status for a user.
type AuthStatus struct {
	IsAuthenticated bool       `json:"is_authenticated"`
	UserID          string     `json:"user_id"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	IsExpired       bool       `json:"is_expired"`
	CloudID         string     `json:"cloud_id,omitempty"`
	ResourceName    string     `json:"resource_name,omitempty"`
	UserInfo        *UserInfo  `json:"user_info,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// OAuthError represents OAuth error response
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
