// Package config holds the Atlassian OAuth 2.0 (3LO) client configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/encryption"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"golang.org/x/oauth2"
)

const (
	AuthorizationEndpoint       = "https://auth.atlassian.com/authorize"
	TokenEndpoint               = "https://auth.atlassian.com/oauth/token"
	AccessibleResourcesEndpoint = "https://api.atlassian.com/oauth/token/accessible-resources"
	JiraAPIBase                 = "https://api.atlassian.com/ex/jira"
	ConfluenceAPIBase           = "https://api.atlassian.com/ex/confluence"

	Audience         = "api.atlassian.com"
	OfflineAccess    = "offline_access"
	DefaultDemoUser  = "demo-user"
	stateEntropySize = 32
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{
	"read:jira-work",
	"write:jira-work",
	"read:jira-user",
	"read:page:confluence",
	"read:blogpost:confluence",
	"read:space:confluence",
	"read:content:confluence",
	OfflineAccess,
}

// Endpoints are the Atlassian URLs the client talks to.
type Endpoints struct {
	Authorize           string
	Token               string
	AccessibleResources string
	JiraAPI             string
	ConfluenceAPI       string
}

// DefaultEndpoints returns the production Atlassian endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Authorize:           AuthorizationEndpoint,
		Token:               TokenEndpoint,
		AccessibleResources: AccessibleResourcesEndpoint,
		JiraAPI:             JiraAPIBase,
		ConfluenceAPI:       ConfluenceAPIBase,
	}
}

// OAuthConfig is immutable once built by New or FromEnv.
type OAuthConfig struct {
	clientID     string
	clientSecret string
	redirectURI  string
	scopes       []string
	identityARN  string
	demoUserID   string
	endpoints    Endpoints
	logger       *slog.Logger
}

// Option customizes an OAuthConfig during construction.
type Option func(*OAuthConfig)

// WithEndpoints overrides the Atlassian endpoints, typically with httptest servers.
func WithEndpoints(e Endpoints) Option {
	return func(c *OAuthConfig) {
		c.endpoints = e
	}
}

// WithIdentityARN sets the managed identity resource used by the identity token backend.
func WithIdentityARN(arn string) Option {
	return func(c *OAuthConfig) {
		c.identityARN = strings.TrimSpace(arn)
	}
}

// WithDemoUserID sets the user the single-user deployment acts for.
func WithDemoUserID(userID string) Option {
	return func(c *OAuthConfig) {
		if userID = strings.TrimSpace(userID); userID != "" {
			c.demoUserID = userID
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *OAuthConfig) {
		c.logger = l
	}
}

// New builds and validates a configuration. Every violated rule is reported
// in a single Configuration error.
func New(clientID, clientSecret, redirectURI string, scopes []string, opts ...Option) (*OAuthConfig, error) {
	c := &OAuthConfig{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		redirectURI:  strings.TrimSpace(redirectURI),
		scopes:       cleanScopes(scopes),
		demoUserID:   DefaultDemoUser,
		endpoints:    DefaultEndpoints(),
	}
	if len(c.scopes) == 0 {
		c.scopes = slices.Clone(DefaultScopes)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !slices.Contains(c.scopes, OfflineAccess) {
		c.logger.Warn("offline_access scope not requested, refresh tokens will not be issued")
	}
	return c, nil
}

type envConfig struct {
	ClientID     string   `env:"ATLASSIAN_OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"ATLASSIAN_OAUTH_CLIENT_SECRET"`
	RedirectURI  string   `env:"ATLASSIAN_OAUTH_REDIRECT_URI"`
	Scopes       []string `env:"ATLASSIAN_OAUTH_SCOPES" envSeparator:","`
	IdentityARN  string   `env:"AGENTCORE_IDENTITY_ARN"`
	DemoUserID   string   `env:"ATLASSIAN_DEMO_USER_ID" envDefault:"demo-user"`
}

// FromEnv loads the configuration from ATLASSIAN_OAUTH_* environment variables.
func FromEnv(opts ...Option) (*OAuthConfig, error) {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return nil, apierrors.NewConfiguration(fmt.Errorf("parsing environment: %w", err))
	}

	opts = append([]Option{WithIdentityARN(e.IdentityARN), WithDemoUserID(e.DemoUserID)}, opts...)
	return New(e.ClientID, e.ClientSecret, e.RedirectURI, e.Scopes, opts...)
}

// Validate checks every rule and returns all violations joined.
func (c *OAuthConfig) Validate() error {
	var errs []error
	if c.clientID == "" {
		errs = append(errs, errors.New("ATLASSIAN_OAUTH_CLIENT_ID is required"))
	}
	if c.clientSecret == "" {
		errs = append(errs, errors.New("ATLASSIAN_OAUTH_CLIENT_SECRET is required"))
	}
	if c.redirectURI == "" {
		errs = append(errs, errors.New("ATLASSIAN_OAUTH_REDIRECT_URI is required"))
	} else if !strings.HasPrefix(c.redirectURI, "https://") && !strings.HasPrefix(c.redirectURI, "http://localhost") {
		errs = append(errs, errors.New("ATLASSIAN_OAUTH_REDIRECT_URI must use HTTPS (or http://localhost for development)"))
	}
	if len(c.scopes) == 0 {
		errs = append(errs, errors.New("at least one OAuth scope is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return apierrors.NewConfiguration(errors.Join(errs...))
}

// IsConfigured reports whether the configuration passes validation.
func (c *OAuthConfig) IsConfigured() bool {
	return c.Validate() == nil
}

// AuthorizationURL builds the consent URL. An empty state is replaced by a
// fresh 32-byte random value; the state actually used is returned so the
// caller can persist it.
func (c *OAuthConfig) AuthorizationURL(state string) (string, string, error) {
	if state == "" {
		var err error
		state, err = GenerateState()
		if err != nil {
			return "", "", err
		}
	}

	c.logger.Debug("generating authorization url", "scopes", strings.Join(c.scopes, " "))
	authURL := c.OAuth2().AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", Audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return authURL, state, nil
}

// OAuth2 returns the x/oauth2 view of this configuration.
func (c *OAuthConfig) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURI,
		Scopes:       slices.Clone(c.scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.endpoints.Authorize,
			TokenURL: c.endpoints.Token,
		},
	}
}

// GenerateState returns a URL-safe encoding of 32 random bytes.
func GenerateState() (string, error) {
	return encryption.GenerateRandomString(stateEntropySize)
}

func (c *OAuthConfig) ClientID() string     { return c.clientID }
func (c *OAuthConfig) ClientSecret() string { return c.clientSecret }
func (c *OAuthConfig) RedirectURI() string  { return c.redirectURI }
func (c *OAuthConfig) Scopes() []string     { return slices.Clone(c.scopes) }
func (c *OAuthConfig) IdentityARN() string  { return c.identityARN }
func (c *OAuthConfig) DemoUserID() string   { return c.demoUserID }
func (c *OAuthConfig) Endpoints() Endpoints { return c.endpoints }

// HasOfflineAccess reports whether refresh tokens were requested.
func (c *OAuthConfig) HasOfflineAccess() bool {
	return slices.Contains(c.scopes, OfflineAccess)
}

// String masks the client id and never includes the secret.
func (c *OAuthConfig) String() string {
	return fmt.Sprintf("OAuthConfig(client_id=%s, redirect_uri=%s, scopes=%v, demo_user_id=%s)",
		maskClientID(c.clientID), c.redirectURI, c.scopes, c.demoUserID)
}

// LogValue keeps the secret out of structured logs.
func (c *OAuthConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_id", maskClientID(c.clientID)),
		slog.String("redirect_uri", c.redirectURI),
		slog.Any("scopes", c.scopes),
	)
}

func maskClientID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "..."
}

func cleanScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
