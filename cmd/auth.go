package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/obot-platform/atlassian-oauth/pkg/apiclient"
	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/spf13/cobra"
)

type AuthURL struct {
	root *RootCmd
}

func (s *AuthURL) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "auth-url"
	cobraCmd.Short = "Print an Atlassian consent URL and record its state"
}

func (s *AuthURL) Run(cobraCmd *cobra.Command, args []string) error {
	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	authURL, state, err := a.flow.GenerateAuthURL(cobraCmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Open this URL to authorize access to Atlassian:\n\n  %s\n\n", authURL)
	fmt.Printf("Then run:\n\n  atlassian-oauth oauth-callback --code=<code> --state=%s\n", state)
	if a.cfg.TokenBackend != BackendDatabase && a.cfg.TokenBackend != "" {
		fmt.Fprintln(os.Stderr, "\nNote: the state is only kept in memory with this token backend; complete the flow through the server instead.")
	}
	return nil
}

type OAuthCallback struct {
	root *RootCmd

	Code  string `name:"code" usage:"Authorization code from the callback URL"`
	State string `name:"state" usage:"State parameter from the callback URL"`
}

func (s *OAuthCallback) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "oauth-callback"
	cobraCmd.Short = "Complete the authorization flow with the code and state from the callback"
}

func (s *OAuthCallback) Run(cobraCmd *cobra.Command, args []string) error {
	if s.Code == "" || s.State == "" {
		return errors.New("both --code and --state are required")
	}

	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.flow.HandleCallback(cobraCmd.Context(), s.Code, s.State)
	if err != nil {
		return fmt.Errorf("%s: %w", apierrors.UserMessage(err), err)
	}

	name := result.UserInfo.DisplayName
	if name == "" {
		name = result.UserInfo.Email
	}
	fmt.Printf("Connected to Atlassian as %s (cloud id %s). Token expires in %s.\n", name, result.CloudID, result.ExpiresIn)
	return nil
}

type CheckAuth struct {
	root *RootCmd

	JSON bool `name:"json" usage:"Print the status as JSON"`
}

func (s *CheckAuth) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "check-auth"
	cobraCmd.Short = "Show the stored Atlassian authentication status"
}

func (s *CheckAuth) Run(cobraCmd *cobra.Command, args []string) error {
	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.flow.CheckAuthStatus(cobraCmd.Context())
	if err != nil {
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	renderAuthStatus(os.Stdout, status)
	return nil
}

type GetToken struct {
	root *RootCmd
}

func (s *GetToken) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "get-token"
	cobraCmd.Short = "Print the stored access token, refreshing it first when expired"
}

func (s *GetToken) Run(cobraCmd *cobra.Command, args []string) error {
	ctx := cobraCmd.Context()
	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := currentToken(ctx, a.tokens, a.flow, a.flow.UserID())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// currentToken returns the stored access token, refreshing it first when it
// has expired. An expired token that cannot be refreshed is an error.
func currentToken(ctx context.Context, tokens tokenstore.Store, refresher apiclient.Refresher, userID string) (string, error) {
	status, err := tokens.CheckStatus(ctx, userID)
	if err != nil {
		return "", err
	}
	if status.IsExpired {
		refreshToken, ok, err := tokens.GetRefreshToken(ctx, userID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.New("no token found, run auth-url to log in")
		}
		if !tokenstore.HasUsableRefreshToken(refreshToken) {
			return "", errors.New("access token expired and no refresh token is available, run auth-url to log in again")
		}
		if err := refresher.RefreshAccessToken(ctx); err != nil {
			return "", fmt.Errorf("%s: %w", apierrors.UserMessage(err), err)
		}
	}

	token, ok, err := tokens.GetAccessToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("no token found, run auth-url to log in")
	}
	return token, nil
}

type Revoke struct {
	root *RootCmd
}

func (s *Revoke) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "revoke"
	cobraCmd.Short = "Delete the stored Atlassian tokens"
}

func (s *Revoke) Run(cobraCmd *cobra.Command, args []string) error {
	a, err := s.root.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.flow.Revoke(cobraCmd.Context()); err != nil {
		return err
	}
	fmt.Println("Stored Atlassian tokens deleted.")
	return nil
}
