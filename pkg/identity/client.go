// Package identity is a client for the managed identity service that stores
// per-user Atlassian tokens on behalf of a workload.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
)

const (
	HeaderWorkloadARN = "X-Workload-Identity-Arn"
	HeaderRequestID   = "X-Request-Id"

	defaultTimeout = 10 * time.Second
)

var ErrMissingARN = errors.New("workload identity ARN is required")

// Client implements tokenstore.TokenBackend over the identity service's
// JSON API: PUT, GET and DELETE on {endpoint}/tokens/{userID}.
type Client struct {
	endpoint   string
	arn        string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient returns a client scoped to the workload identity arn.
func NewClient(endpoint, arn string, opts ...Option) (*Client, error) {
	if arn == "" {
		return nil, ErrMissingARN
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid identity endpoint %q: %w", endpoint, err)
	}

	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		arn:        arn,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c, nil
}

func (c *Client) PutToken(ctx context.Context, userID string, token tokenstore.BackendToken) error {
	body, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, userID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated {
		return statusError(resp)
	}
	return nil
}

func (c *Client) GetToken(ctx context.Context, userID string) (*tokenstore.BackendToken, error) {
	resp, err := c.do(ctx, http.MethodGet, userID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, tokenstore.ErrTokenNotFound
	default:
		return nil, statusError(resp)
	}

	var token tokenstore.BackendToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

func (c *Client) DeleteToken(ctx context.Context, userID string) error {
	resp, err := c.do(ctx, http.MethodDelete, userID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return tokenstore.ErrTokenNotFound
	}
	return statusError(resp)
}

func (c *Client) do(ctx context.Context, method, userID string, body []byte) (*http.Response, error) {
	if userID == "" {
		return nil, tokenstore.ErrEmptyUserID
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+"/tokens/"+url.PathEscape(userID), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set(HeaderWorkloadARN, c.arn)
	req.Header.Set(HeaderRequestID, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("identity request", "method", method, "user_id", userID, "request_id", requestID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service request failed: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("identity service returned %d: %s", resp.StatusCode, logging.Truncate(strings.TrimSpace(string(body)), 200))
}
