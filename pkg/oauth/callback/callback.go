// Package callback serves the redirect URI that Atlassian sends the browser
// back to after consent.
package callback

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/oauth/flow"
)

// Completer finishes the flow for a code and state.
type Completer interface {
	HandleCallback(ctx context.Context, code, state string) (*flow.CallbackResult, error)
}

type Handler struct {
	completer Completer
	logger    *slog.Logger
}

type Option func(*Handler)

// WithAutoComplete makes the handler exchange the code itself instead of
// asking the user to forward it with /oauth-callback.
func WithAutoComplete(c Completer) Option {
	return func(h *Handler) {
		h.completer = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

func NewHandler(opts ...Option) http.Handler {
	h := &Handler{}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrDiscard(h.logger)
	return h
}

// Command is the chat command that completes the flow for code and state.
func Command(code, state string) string {
	return "/oauth-callback " + url.Values{"code": {code}, "state": {state}}.Encode()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	oauthErr := q.Get("error")

	h.logger.Info("oauth callback received", "code", logging.Truncate(code, 8), "state", logging.Truncate(state, 8))

	if oauthErr != "" {
		description := q.Get("error_description")
		if description == "" {
			description = "Unknown error"
		}
		h.logger.Error("oauth error from atlassian", "error", oauthErr, "description", description)
		render(w, h.logger, http.StatusBadRequest, page{
			Title:       "Authentication Failed",
			Heading:     "Authentication Failed",
			Failed:      true,
			Error:       oauthErr,
			Description: description,
			Message:     "The OAuth flow was cancelled or failed. Please try again.",
		})
		return
	}

	if code == "" || state == "" {
		h.logger.Error("missing code or state in oauth callback")
		render(w, h.logger, http.StatusBadRequest, page{
			Title:   "Invalid Callback",
			Heading: "Invalid OAuth Callback",
			Failed:  true,
			Message: "Missing required parameters (code or state).",
		})
		return
	}

	if h.completer == nil {
		render(w, h.logger, http.StatusOK, page{
			Title:   "Authentication Successful",
			Heading: "Authorization Received",
			Message: "Copy the command below and send it to the assistant to finish connecting your Atlassian account.",
			Command: Command(code, state),
		})
		return
	}

	result, err := h.completer.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.logger.Error("failed to complete oauth callback", "error", err)
		p := page{
			Title:   "Authentication Failed",
			Heading: "Authentication Failed",
			Failed:  true,
			Message: apierrors.UserMessage(err),
		}
		var apiErr *apierrors.Error
		if errors.As(err, &apiErr) {
			p.Error = apiErr.Code
		}
		render(w, h.logger, http.StatusBadRequest, p)
		return
	}

	p := page{
		Title:   "Authentication Successful",
		Heading: "Connected to Atlassian",
		Message: "You can close this window and return to the assistant.",
		Site:    result.ResourceName,
	}
	if result.UserInfo != nil {
		p.User = result.UserInfo.DisplayName
		if p.User == "" {
			p.User = result.UserInfo.Email
		}
	}
	render(w, h.logger, http.StatusOK, p)
}
