// Package apiclient performs authenticated requests against the Atlassian
// REST APIs, refreshing the access token once when a request is rejected.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/config"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	MaxBackoff         = 10 * time.Second
)

// Refresher renews the stored access token. flow.Handler implements it.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) error
}

// Client sends requests on behalf of one user.
type Client struct {
	userID      string
	tokens      tokenstore.Store
	refresher   Refresher
	httpClient  *http.Client
	limiter     *rate.Limiter
	endpoints   config.Endpoints
	backoff     time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithRateLimit throttles outgoing requests to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cl *Client) {
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// WithBackoff sets the wait before the second attempt. Later waits double
// up to MaxBackoff.
func WithBackoff(d time.Duration) Option {
	return func(cl *Client) {
		cl.backoff = d
	}
}

func WithMaxAttempts(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxAttempts = n
		}
	}
}

func WithEndpoints(e config.Endpoints) Option {
	return func(cl *Client) {
		cl.endpoints = e
	}
}

func New(userID string, tokens tokenstore.Store, refresher Refresher, opts ...Option) *Client {
	c := &Client{
		userID:    userID,
		tokens:    tokens,
		refresher: refresher,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		endpoints:   config.DefaultEndpoints(),
		backoff:     DefaultBackoff,
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// JiraBaseURL returns the Jira platform API root for a site.
func (c *Client) JiraBaseURL(cloudID string) string {
	return fmt.Sprintf("%s/%s", c.endpoints.JiraAPI, cloudID)
}

// ConfluenceBaseURL returns the Confluence API root for a site.
func (c *Client) ConfluenceBaseURL(cloudID string) string {
	return fmt.Sprintf("%s/%s", c.endpoints.ConfluenceAPI, cloudID)
}

// AccessibleResourcesURL is the endpoint listing the sites a token can reach.
func (c *Client) AccessibleResourcesURL() string {
	return c.endpoints.AccessibleResources
}

type request struct {
	query   url.Values
	body    []byte
	headers http.Header
	params  map[string]any
}

// RequestOption customizes a single request.
type RequestOption func(*request) error

func WithQuery(q url.Values) RequestOption {
	return func(r *request) error {
		for k, vs := range q {
			for _, v := range vs {
				r.query.Add(k, v)
			}
			r.params[k] = q.Get(k)
		}
		return nil
	}
}

func WithJSONBody(v any) RequestOption {
	return func(r *request) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		r.body = data
		r.headers.Set("Content-Type", "application/json")
		return nil
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *request) error {
		r.headers.Set(key, value)
		r.params[key] = value
		return nil
	}
}

func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, opts...)
}

func (c *Client) Post(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, opts...)
}

func (c *Client) Put(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, url, opts...)
}

func (c *Client) Delete(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, url, opts...)
}

// Do sends an authenticated request and maps failures to apierrors kinds.
// A 401 triggers exactly one refresh followed by one retry.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts ...RequestOption) (*Response, error) {
	req := &request{query: url.Values{}, headers: http.Header{}, params: map[string]any{}}
	for _, opt := range opts {
		if err := opt(req); err != nil {
			return nil, apierrors.Wrap(apierrors.KindAPI, err, "Invalid request").WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
		}
	}
	req.headers.Set("Accept", "application/json")

	accessToken, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("atlassian request", "method", method, "url", RedactURL(rawURL), "params", Redact(req.params))

	resp, err := c.send(ctx, method, rawURL, req, accessToken)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("received 401, refreshing access token", "url", RedactURL(rawURL), "kind", apierrors.KindTokenExpired)
		return c.refreshAndRetry(ctx, method, rawURL, req)
	}
	if err := c.checkStatus(method, rawURL, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) refreshAndRetry(ctx context.Context, method, rawURL string, req *request) (*Response, error) {
	if c.refresher == nil {
		return nil, apierrors.New(apierrors.KindTokenRefreshFailed, "Token refresh is not available")
	}
	if err := c.refresher.RefreshAccessToken(ctx); err != nil {
		c.logger.Error("token refresh failed", "error", err)
		if apierrors.KindOf(err) == apierrors.KindTokenRefreshFailed {
			return nil, err
		}
		return nil, apierrors.Wrap(apierrors.KindTokenRefreshFailed, err, "Failed to refresh token").WithDetail("original_url", RedactURL(rawURL))
	}

	accessToken, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, rawURL, req, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Error("still unauthorized after token refresh", "url", RedactURL(rawURL))
		return nil, apierrors.New(apierrors.KindInvalidToken, "Token invalid even after refresh").WithDetail("url", RedactURL(rawURL))
	}
	if err := c.checkStatus(method, rawURL, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	token, ok, err := c.tokens.GetAccessToken(ctx, c.userID)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindInvalidToken, err, "Failed to load access token")
	}
	if !ok || token == "" {
		c.logger.Error("no access token available", "user_id", c.userID)
		return "", apierrors.New(apierrors.KindInvalidToken, "No valid access token available")
	}
	return token, nil
}

// send performs the request, retrying transport failures with exponential
// backoff. HTTP statuses are never retried here.
func (c *Client) send(ctx context.Context, method, rawURL string, req *request, accessToken string) (*Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindAPI, err, "Invalid request URL").WithDetail("method", method)
	}
	if len(req.query) > 0 {
		q := target.Query()
		for k, vs := range req.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := backoffFor(c.backoff, attempt-1)
			c.logger.Warn("retrying atlassian request", "url", RedactURL(rawURL), "attempt", attempt, "wait", wait, "error", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, canceled(err, method, rawURL)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, canceled(err, method, rawURL)
			}
		}

		resp, err := c.sendOnce(ctx, method, target.String(), req, accessToken)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, canceled(ctx.Err(), method, rawURL)
		}
		if !isTransient(err) {
			return nil, apierrors.Wrap(apierrors.KindAPI, err, "Request failed").WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
		}
		lastErr = err
	}

	c.logger.Error("atlassian request failed", "url", RedactURL(rawURL), "attempts", c.maxAttempts, "error", lastErr)
	return nil, apierrors.Wrap(apierrors.KindNetwork, lastErr, "Connection failed").WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
}

func (c *Client) sendOnce(ctx context.Context, method, target string, req *request, accessToken string) (*Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.headers {
		httpReq.Header[k] = vs
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = RedactURL(urlErr.URL)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) checkStatus(method, rawURL string, resp *Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		c.logger.Warn("rate limit exceeded", "url", RedactURL(rawURL), "retry_after", retryAfter)
		return apierrors.NewRateLimited(retryAfter).WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
	case code == http.StatusForbidden:
		c.logger.Error("permission denied", "url", RedactURL(rawURL))
		return apierrors.NewPermissionDenied("Insufficient permissions for this operation").
			WithDetail("url", RedactURL(rawURL)).WithDetail("method", method).WithDetail("response", resp.errorBody())
	case code == http.StatusNotFound:
		c.logger.Warn("resource not found", "url", RedactURL(rawURL))
		return apierrors.NewNotFound("", "Requested resource not found").WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
	case code >= 500:
		c.logger.Error("atlassian server error", "url", RedactURL(rawURL), "status", code)
		return apierrors.NewServer(code).WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
	}
	c.logger.Error("atlassian request failed", "url", RedactURL(rawURL), "status", code)
	return (&apierrors.Error{
		Kind:       apierrors.KindAPI,
		StatusCode: code,
		Message:    fmt.Sprintf("API request failed: %d", code),
	}).WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
}

// backoffFor returns the wait after the n-th failed attempt:
// min(base*2^(n-1), MaxBackoff).
func backoffFor(base time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return min(d, MaxBackoff)
}

// isTransient reports connection and timeout failures. *url.Error is
// unwrapped first since it implements net.Error for every failure.
func isTransient(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// canceled wraps a context or limiter failure so it stays inside the
// error taxonomy while errors.Is still matches the context error.
func canceled(err error, method, rawURL string) error {
	return apierrors.Wrap(apierrors.KindNetwork, err, "Request cancelled").WithDetail("url", RedactURL(rawURL)).WithDetail("method", method)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
