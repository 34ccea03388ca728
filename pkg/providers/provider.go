package providers

import (
	"context"

	"github.com/obot-platform/atlassian-oauth/pkg/types"
	"golang.org/x/oauth2"
)

// Provider is the OAuth authorization server and the identity lookups the
// flow performs right after consent.
type Provider interface {
	// ExchangeCodeForToken exchanges an authorization code for tokens.
	ExchangeCodeForToken(ctx context.Context, code string) (*oauth2.Token, error)

	// RefreshToken exchanges a refresh token for a new access token. The
	// returned token has an empty RefreshToken when none was rotated.
	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// GetAccessibleResources lists the sites the token grants access to.
	GetAccessibleResources(ctx context.Context, accessToken string) ([]types.Resource, error)

	// GetUserInfo retrieves the profile of the token owner on cloudID.
	GetUserInfo(ctx context.Context, accessToken, cloudID string) (*types.UserInfo, error)

	// GetName returns the provider name
	GetName() string
}
