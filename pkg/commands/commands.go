// Package commands handles the slash commands a chat surface forwards for
// Atlassian authentication.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/oauth/flow"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

const (
	CheckAuth     = "/check-auth"
	GetToken      = "/get-token"
	OAuthCallback = "/oauth-callback"
)

// Flow is the part of flow.Handler the commands drive.
type Flow interface {
	GenerateAuthURL(ctx context.Context) (string, string, error)
	HandleCallback(ctx context.Context, code, state string) (*flow.CallbackResult, error)
	CheckAuthStatus(ctx context.Context) (*types.AuthStatus, error)
}

type Dispatcher struct {
	flow   Flow
	logger *slog.Logger
}

func NewDispatcher(f Flow, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		flow:   f,
		logger: logging.OrDiscard(logger),
	}
}

// Handle runs line if it is a known command. handled is false for anything
// else so the caller can pass the message on.
func (d *Dispatcher) Handle(ctx context.Context, line string) (reply string, handled bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == CheckAuth:
		return d.checkAuth(ctx), true
	case line == GetToken:
		return d.login(ctx, ""), true
	case line == OAuthCallback || strings.HasPrefix(line, OAuthCallback+" "):
		return d.oauthCallback(ctx, strings.TrimSpace(strings.TrimPrefix(line, OAuthCallback))), true
	}
	return "", false
}

func (d *Dispatcher) checkAuth(ctx context.Context) string {
	status, err := d.flow.CheckAuthStatus(ctx)
	if err != nil {
		d.logger.Error("failed to check auth status", "error", err)
		return "Authentication Check Failed\n\n" + apierrors.UserMessage(err)
	}
	if !status.IsAuthenticated {
		return d.login(ctx, status.Error)
	}

	var b strings.Builder
	b.WriteString("Connected to Atlassian\n\n")
	name, email := status.UserID, ""
	if status.UserInfo != nil {
		email = status.UserInfo.Email
		if status.UserInfo.DisplayName != "" {
			name = status.UserInfo.DisplayName
		}
	}
	fmt.Fprintf(&b, "User: %s\n", name)
	if email != "" {
		fmt.Fprintf(&b, "Email: %s\n", email)
	}
	if status.ResourceName != "" {
		fmt.Fprintf(&b, "Workspace: %s\n", status.ResourceName)
	}
	if status.CloudID != "" {
		fmt.Fprintf(&b, "Cloud ID: %s\n", status.CloudID)
	}
	if status.ExpiresAt != nil {
		fmt.Fprintf(&b, "Token expires: %s\n", status.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) login(ctx context.Context, reason string) string {
	authURL, _, err := d.flow.GenerateAuthURL(ctx)
	if err != nil {
		d.logger.Error("failed to generate authorization url", "error", err)
		return "Unable to start Atlassian login: " + apierrors.UserMessage(err)
	}

	var b strings.Builder
	b.WriteString("Atlassian Authentication Required\n\n")
	if reason != "" {
		fmt.Fprintf(&b, "Status: Not authenticated\nReason: %s\n\n", reason)
	}
	fmt.Fprintf(&b, "Log in to Atlassian: %s\n\n", authURL)
	fmt.Fprintf(&b, "After approving access, follow the instructions on the callback page, then send %s to verify.", CheckAuth)
	return b.String()
}

func (d *Dispatcher) oauthCallback(ctx context.Context, args string) string {
	params := parseArgs(args)
	if oauthErr := params.Get("error"); oauthErr != "" {
		description := params.Get("error_description")
		if description == "" {
			description = "Unknown error"
		}
		return fmt.Sprintf("Authentication Failed\n\nError: %s\nDetails: %s\n\nThe OAuth flow was cancelled or failed. Please try again.", oauthErr, description)
	}

	code, state := params.Get("code"), params.Get("state")
	if code == "" || state == "" {
		return "Invalid OAuth callback. Missing code or state parameter."
	}

	result, err := d.flow.HandleCallback(ctx, code, state)
	if err != nil {
		d.logger.Error("oauth callback failed", "error", err)
		return "Authentication Failed\n\n" + apierrors.UserMessage(err)
	}

	name, email := "User", ""
	if result.UserInfo != nil {
		email = result.UserInfo.Email
		if result.UserInfo.DisplayName != "" {
			name = result.UserInfo.DisplayName
		}
	}
	cloudID := result.CloudID
	if cloudID == "" {
		cloudID = "N/A"
	}
	return fmt.Sprintf("Successfully Connected to Atlassian!\n\nWelcome, %s!\nEmail: %s\nCloud ID: %s", name, email, cloudID)
}

// parseArgs reads "key=value&key=value". Values are query-unescaped when
// they can be and taken verbatim otherwise.
func parseArgs(args string) url.Values {
	out := url.Values{}
	for _, part := range strings.Split(args, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		out.Set(key, value)
	}
	return out
}
