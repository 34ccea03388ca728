// Package flow drives the Atlassian authorization code flow for one user:
// issuing the consent URL, completing the callback, refreshing and
// reporting on the stored tokens.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/config"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/providers"
	"github.com/obot-platform/atlassian-oauth/pkg/state"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
	"golang.org/x/sync/singleflight"
)

// State is a step of the authorization flow.
type State int

const (
	NoSession State = iota
	StateIssued
	CodeReceived
	TokensStored
	Rejected
	Failed
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case StateIssued:
		return "state_issued"
	case CodeReceived:
		return "code_received"
	case TokensStored:
		return "tokens_stored"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const defaultStatusError = "No valid tokens"

// CallbackResult describes where HandleCallback ended.
type CallbackResult struct {
	State        State
	UserInfo     *types.UserInfo
	CloudID      string
	ResourceName string
	ExpiresIn    time.Duration
}

// Handler runs the flow for a single user id.
type Handler struct {
	userID   string
	cfg      *config.OAuthConfig
	provider providers.Provider
	tokens   tokenstore.Store
	states   state.Store
	now      func() time.Time
	logger   *slog.Logger

	refreshGroup *singleflight.Group
}

type Option func(*Handler)

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithRefreshGroup shares refresh deduplication between handlers built for
// the same user, e.g. one handler per request.
func WithRefreshGroup(g *singleflight.Group) Option {
	return func(h *Handler) {
		h.refreshGroup = g
	}
}

func NewHandler(userID string, cfg *config.OAuthConfig, provider providers.Provider, tokens tokenstore.Store, states state.Store, opts ...Option) *Handler {
	h := &Handler{
		userID:   userID,
		cfg:      cfg,
		provider: provider,
		tokens:   tokens,
		states:   states,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.refreshGroup == nil {
		h.refreshGroup = &singleflight.Group{}
	}
	h.logger = logging.OrDiscard(h.logger).With("user_id", userID)
	return h
}

func (h *Handler) UserID() string {
	return h.userID
}

// GenerateAuthURL returns the consent URL and the state recorded for it.
func (h *Handler) GenerateAuthURL(ctx context.Context) (string, string, error) {
	authURL, st, err := h.cfg.AuthorizationURL("")
	if err != nil {
		return "", "", fmt.Errorf("failed to generate authorization url: %w", err)
	}
	if err := h.states.Issue(ctx, st, h.now()); err != nil {
		return "", "", fmt.Errorf("failed to record state: %w", err)
	}
	h.logger.Info("issued authorization url")
	return authURL, st, nil
}

// HandleCallback completes the flow with the code and state from the
// redirect. The result is never nil and reports the terminal state.
func (h *Handler) HandleCallback(ctx context.Context, code, st string) (*CallbackResult, error) {
	if err := h.states.Consume(ctx, st); err != nil {
		h.logger.Warn("rejected oauth callback", "reason", err)
		if !errors.Is(err, state.ErrStateNotFound) && !errors.Is(err, state.ErrStateExpired) {
			return &CallbackResult{State: Rejected}, apierrors.Wrap(apierrors.KindOAuthFlow, err, "Unable to verify state parameter")
		}
		e := apierrors.NewOAuthFlow("invalid_state", "Invalid or expired state parameter")
		e.Err = err
		return &CallbackResult{State: Rejected}, e
	}

	if code == "" {
		return &CallbackResult{State: Rejected}, apierrors.NewOAuthFlow("missing_code", "Authorization code is missing")
	}

	result := &CallbackResult{State: CodeReceived}

	token, err := h.provider.ExchangeCodeForToken(ctx, code)
	if err != nil {
		result.State = Failed
		return result, err
	}
	if token.AccessToken == "" {
		result.State = Failed
		return result, apierrors.NewOAuthFlow("invalid_response", "No access token in response")
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		h.logger.Warn("no refresh token received, offline_access scope may be missing")
		refreshToken = tokenstore.NoRefreshToken
	}

	result.ExpiresIn = expiresIn(token.ExpiresIn)
	result.CloudID, result.ResourceName = h.primaryResource(ctx, token.AccessToken)
	result.UserInfo = h.userInfo(ctx, token.AccessToken, result.CloudID)
	if result.UserInfo == nil {
		result.UserInfo = &types.UserInfo{Email: h.userID, Active: true}
	}

	if err := h.tokens.Store(ctx, h.userID, token.AccessToken, refreshToken, result.ExpiresIn, token.TokenType); err != nil {
		result.State = Failed
		e := apierrors.NewOAuthFlow("storage_error", "Failed to store tokens")
		e.Err = err
		return result, e
	}

	result.State = TokensStored
	h.logger.Info("oauth flow completed", "cloud_id", result.CloudID, "expires_in", result.ExpiresIn)
	return result, nil
}

// RefreshAccessToken exchanges the stored refresh token and replaces the
// stored record. Concurrent calls for one user share a single exchange.
func (h *Handler) RefreshAccessToken(ctx context.Context) error {
	_, err, shared := h.refreshGroup.Do(h.userID, func() (any, error) {
		return nil, h.refresh(ctx)
	})
	if shared {
		h.logger.Debug("joined in-flight token refresh")
	}
	return err
}

func (h *Handler) refresh(ctx context.Context) error {
	refreshToken, ok, err := h.tokens.GetRefreshToken(ctx, h.userID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindTokenRefreshFailed, err, "Failed to load refresh token")
	}
	if !ok || !tokenstore.HasUsableRefreshToken(refreshToken) {
		return &apierrors.Error{Kind: apierrors.KindTokenRefreshFailed, Code: "no_refresh_token", Message: "No refresh token available"}
	}

	token, err := h.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		h.logger.Error("token refresh failed", "error", err)
		var apiErr *apierrors.Error
		if errors.As(err, &apiErr) && apiErr.Kind == apierrors.KindOAuthFlow {
			return &apierrors.Error{Kind: apierrors.KindTokenRefreshFailed, Code: apiErr.Code, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		return err
	}

	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	if err := h.tokens.Store(ctx, h.userID, token.AccessToken, newRefresh, expiresIn(token.ExpiresIn), token.TokenType); err != nil {
		return apierrors.Wrap(apierrors.KindTokenRefreshFailed, err, "Failed to store refreshed tokens")
	}

	h.logger.Info("refreshed access token")
	return nil
}

// CheckAuthStatus reports the stored token state, enriched with the site
// and profile when the token is valid.
func (h *Handler) CheckAuthStatus(ctx context.Context) (*types.AuthStatus, error) {
	status, err := h.tokens.CheckStatus(ctx, h.userID)
	if err != nil {
		return nil, err
	}

	out := &types.AuthStatus{
		IsAuthenticated: status.IsValid,
		UserID:          h.userID,
		ExpiresAt:       status.ExpiresAt,
		IsExpired:       status.IsExpired,
	}
	if !status.IsValid {
		out.Error = status.Error
		if out.Error == "" {
			out.Error = defaultStatusError
		}
		return out, nil
	}

	accessToken, ok, err := h.tokens.GetAccessToken(ctx, h.userID)
	if err != nil || !ok {
		return out, nil
	}
	out.CloudID, out.ResourceName = h.primaryResource(ctx, accessToken)
	out.UserInfo = h.userInfo(ctx, accessToken, out.CloudID)
	return out, nil
}

// Revoke deletes the stored tokens.
func (h *Handler) Revoke(ctx context.Context) error {
	if err := h.tokens.Revoke(ctx, h.userID); err != nil {
		return err
	}
	h.logger.Info("revoked stored tokens")
	return nil
}

func (h *Handler) primaryResource(ctx context.Context, accessToken string) (string, string) {
	resources, err := h.provider.GetAccessibleResources(ctx, accessToken)
	if err != nil {
		h.logger.Warn("failed to get accessible resources", "error", err)
		return "", ""
	}
	return resources[0].ID, resources[0].Name
}

func (h *Handler) userInfo(ctx context.Context, accessToken, cloudID string) *types.UserInfo {
	if cloudID == "" {
		return nil
	}
	info, err := h.provider.GetUserInfo(ctx, accessToken, cloudID)
	if err != nil {
		h.logger.Warn("failed to get user info", "error", err)
		return nil
	}
	return info
}

func expiresIn(seconds int64) time.Duration {
	if seconds <= 0 {
		return providers.DefaultExpiresIn
	}
	return time.Duration(seconds) * time.Second
}
