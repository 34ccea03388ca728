package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/config"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	// DefaultExpiresIn is assumed when neither the token response nor the
	// access token itself carries an expiry.
	DefaultExpiresIn = 3600 * time.Second

	requestTimeout = 10 * time.Second
)

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        *int64 `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// AtlassianProvider talks to auth.atlassian.com and api.atlassian.com.
type AtlassianProvider struct {
	cfg        *config.OAuthConfig
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*AtlassianProvider)

func WithHTTPClient(c *http.Client) Option {
	return func(p *AtlassianProvider) {
		p.httpClient = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *AtlassianProvider) {
		p.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *AtlassianProvider) {
		p.logger = l
	}
}

// NewAtlassianProvider creates a provider for the configured OAuth client.
func NewAtlassianProvider(cfg *config.OAuthConfig, opts ...Option) *AtlassianProvider {
	p := &AtlassianProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDiscard(p.logger)
	return p
}

// ExchangeCodeForToken exchanges authorization code for tokens
func (p *AtlassianProvider) ExchangeCodeForToken(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.requestToken(ctx, tokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  p.cfg.RedirectURI(),
		ClientID:     p.cfg.ClientID(),
		ClientSecret: p.cfg.ClientSecret(),
	}, "token_exchange_failed")
}

// RefreshToken refreshes an access token using a refresh token
func (p *AtlassianProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.requestToken(ctx, tokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     p.cfg.ClientID(),
		ClientSecret: p.cfg.ClientSecret(),
	}, "token_refresh_failed")
}

func (p *AtlassianProvider) requestToken(ctx context.Context, body tokenRequest, failureCode string) (*oauth2.Token, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoints().Token, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, networkError(ctx, err, "Token request failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.Warn("error closing response body", "error", err)
		}
	}()

	var tr tokenResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&tr)

	if resp.StatusCode != http.StatusOK {
		code := tr.Error
		if code == "" {
			code = failureCode
		}
		desc := tr.ErrorDescription
		if desc == "" {
			desc = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		p.logger.Error("token request rejected", "grant_type", body.GrantType, "status", resp.StatusCode, "error", code)
		e := apierrors.NewOAuthFlow(code, desc)
		e.StatusCode = resp.StatusCode
		return nil, e
	}
	if decodeErr != nil {
		return nil, apierrors.NewOAuthFlow("invalid_response", "Token response is not valid JSON: "+decodeErr.Error())
	}
	if tr.AccessToken == "" {
		return nil, apierrors.NewOAuthFlow("invalid_response", "No access token in response")
	}

	expiresIn := p.expiresIn(tr)
	token := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    int64(expiresIn / time.Second),
		Expiry:       p.now().Add(expiresIn),
	}
	if tr.Scope != "" {
		token = token.WithExtra(map[string]any{"scope": tr.Scope})
	}
	return token, nil
}

// expiresIn prefers expires_in, then the exp claim of the (unverified)
// access token, then DefaultExpiresIn.
func (p *AtlassianProvider) expiresIn(tr tokenResponse) time.Duration {
	if tr.ExpiresIn != nil {
		return time.Duration(*tr.ExpiresIn) * time.Second
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			remaining := exp.Sub(p.now()).Truncate(time.Second)
			if remaining < 0 {
				remaining = 0
			}
			return remaining
		}
	}

	p.logger.Debug("token response has no expiry, using default", "expires_in", DefaultExpiresIn)
	return DefaultExpiresIn
}

// GetAccessibleResources lists the Atlassian sites the token can access.
func (p *AtlassianProvider) GetAccessibleResources(ctx context.Context, accessToken string) ([]types.Resource, error) {
	body, err := p.get(ctx, p.cfg.Endpoints().AccessibleResources, accessToken)
	if err != nil {
		return nil, err
	}

	var resources []types.Resource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, fmt.Errorf("failed to decode accessible resources: %w", err)
	}
	if len(resources) == 0 {
		return nil, apierrors.NewOAuthFlow("no_resources", "No accessible Atlassian resources found")
	}
	return resources, nil
}

// GetUserInfo retrieves the Jira profile of the token owner.
func (p *AtlassianProvider) GetUserInfo(ctx context.Context, accessToken, cloudID string) (*types.UserInfo, error) {
	if cloudID == "" {
		return nil, errors.New("cloud id is required to fetch user info")
	}

	body, err := p.get(ctx, fmt.Sprintf("%s/%s/rest/api/3/myself", p.cfg.Endpoints().JiraAPI, cloudID), accessToken)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(body)
	active := parsed.Get("active")
	return &types.UserInfo{
		AccountID:   parsed.Get("accountId").String(),
		Email:       parsed.Get("emailAddress").String(),
		DisplayName: parsed.Get("displayName").String(),
		AvatarURL:   parsed.Get("avatarUrls.48x48").String(),
		Active:      !active.Exists() || active.Bool(),
		TimeZone:    parsed.Get("timeZone").String(),
	}, nil
}

func (p *AtlassianProvider) get(ctx context.Context, url, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, networkError(ctx, err, "Request to Atlassian failed")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.logger.Warn("error closing response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(ctx, err, "Reading Atlassian response failed")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &apierrors.Error{Kind: apierrors.KindInvalidToken, StatusCode: resp.StatusCode, Message: "Access token rejected"}
	default:
		return nil, &apierrors.Error{Kind: apierrors.KindAPI, StatusCode: resp.StatusCode, Message: fmt.Sprintf("Request failed with status %d", resp.StatusCode)}
	}
}

// GetName returns the provider name
func (p *AtlassianProvider) GetName() string {
	return "atlassian"
}

func networkError(ctx context.Context, err error, message string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apierrors.Wrap(apierrors.KindNetwork, err, message)
}
