package tokenstore

import (
	"context"
	"os"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

const (
	EnvAccessToken  = "ATLASSIAN_ACCESS_TOKEN"
	EnvRefreshToken = "ATLASSIAN_REFRESH_TOKEN"
)

// envExpiry is reported for environment tokens, whose real expiry is unknown.
var envExpiry = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// EnvStore serves one pre-issued token pair to every user and rejects writes.
type EnvStore struct {
	accessToken  string
	refreshToken string
}

func NewEnvStore(accessToken, refreshToken string) *EnvStore {
	return &EnvStore{accessToken: accessToken, refreshToken: refreshToken}
}

// EnvStoreFromEnv reads ATLASSIAN_ACCESS_TOKEN and ATLASSIAN_REFRESH_TOKEN.
func EnvStoreFromEnv() *EnvStore {
	return NewEnvStore(os.Getenv(EnvAccessToken), os.Getenv(EnvRefreshToken))
}

func (e *EnvStore) Store(context.Context, string, string, string, time.Duration, string) error {
	return apierrors.NewConfiguration(ErrReadOnly)
}

func (e *EnvStore) GetAccessToken(context.Context, string) (string, bool, error) {
	return e.accessToken, e.accessToken != "", nil
}

func (e *EnvStore) GetRefreshToken(context.Context, string) (string, bool, error) {
	return e.refreshToken, e.refreshToken != "", nil
}

func (e *EnvStore) CheckStatus(context.Context, string) (*types.TokenStatus, error) {
	if e.accessToken == "" {
		return StatusFor(nil, time.Time{}), nil
	}
	expiresAt := envExpiry
	return &types.TokenStatus{IsValid: true, ExpiresAt: &expiresAt}, nil
}

func (e *EnvStore) Revoke(context.Context, string) error {
	return apierrors.NewConfiguration(ErrReadOnly)
}
