package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

//go:generate mockgen -source=identity.go -destination=mock_backend_test.go -package=tokenstore_test

// BackendToken is the payload exchanged with a managed identity service.
type BackendToken struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// TokenBackend is the remote credential service behind IdentityStore.
// GetToken returns ErrTokenNotFound when nothing is stored for the user.
type TokenBackend interface {
	PutToken(ctx context.Context, userID string, token BackendToken) error
	GetToken(ctx context.Context, userID string) (*BackendToken, error)
	DeleteToken(ctx context.Context, userID string) error
}

// IdentityStore keeps tokens in a managed identity service so that several
// processes can share them.
type IdentityStore struct {
	backend TokenBackend
	now     Clock
	logger  *slog.Logger
}

func NewIdentityStore(backend TokenBackend, opts ...Option) *IdentityStore {
	o := buildOptions(opts)
	return &IdentityStore{
		backend: backend,
		now:     o.now,
		logger:  o.logger,
	}
}

func (s *IdentityStore) Store(ctx context.Context, userID, accessToken, refreshToken string, expiresIn time.Duration, tokenType string) error {
	now := s.now()
	rec, err := NewRecord(now, userID, accessToken, refreshToken, expiresIn, tokenType)
	if err != nil {
		return err
	}

	err = s.backend.PutToken(ctx, userID, BackendToken{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		ExpiresAt:    rec.ExpiresAt,
		CreatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("failed to store tokens in identity service: %w", err)
	}
	s.logger.Debug("stored tokens in identity service", "user_id", userID)
	return nil
}

func (s *IdentityStore) GetAccessToken(ctx context.Context, userID string) (string, bool, error) {
	tok, err := s.get(ctx, userID)
	if err != nil || tok == nil {
		return "", false, err
	}
	return tok.AccessToken, true, nil
}

func (s *IdentityStore) GetRefreshToken(ctx context.Context, userID string) (string, bool, error) {
	tok, err := s.get(ctx, userID)
	if err != nil || tok == nil || tok.RefreshToken == "" {
		return "", false, err
	}
	return tok.RefreshToken, true, nil
}

func (s *IdentityStore) CheckStatus(ctx context.Context, userID string) (*types.TokenStatus, error) {
	tok, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return StatusFor(nil, s.now()), nil
	}
	return StatusFor(&types.TokenRecord{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.ExpiresAt,
	}, s.now()), nil
}

func (s *IdentityStore) Revoke(ctx context.Context, userID string) error {
	if err := s.backend.DeleteToken(ctx, userID); err != nil && !errors.Is(err, ErrTokenNotFound) {
		return fmt.Errorf("failed to revoke tokens in identity service: %w", err)
	}
	return nil
}

// get returns nil, nil when the backend has no token for the user.
func (s *IdentityStore) get(ctx context.Context, userID string) (*BackendToken, error) {
	tok, err := s.backend.GetToken(ctx, userID)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens from identity service: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, nil
	}
	return tok, nil
}
