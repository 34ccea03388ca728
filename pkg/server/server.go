// Package server exposes the Atlassian authorization flow over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/obot-platform/atlassian-oauth/pkg/apierrors"
	"github.com/obot-platform/atlassian-oauth/pkg/commands"
	"github.com/obot-platform/atlassian-oauth/pkg/handlerutils"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/oauth/callback"
	"github.com/obot-platform/atlassian-oauth/pkg/ratelimit"
	"github.com/obot-platform/atlassian-oauth/pkg/state"
)

const (
	DefaultCallbackPath    = "/callback"
	DefaultCleanupInterval = time.Hour
	maxCommandBody         = 64 << 10
)

// Flow is the part of flow.Handler the server needs.
type Flow interface {
	commands.Flow
	Revoke(ctx context.Context) error
}

type Server struct {
	flow            Flow
	states          state.Cleaner
	commands        *commands.Dispatcher
	rateLimiter     *ratelimit.RateLimiter
	callbackPath    string
	autoComplete    bool
	cleanupInterval time.Duration
	accessLog       io.Writer
	logger          *slog.Logger

	cancel context.CancelFunc
}

type Option func(*Server)

func WithCallbackPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.callbackPath = path
		}
	}
}

// WithAutoComplete makes the callback route exchange the code directly.
func WithAutoComplete(enabled bool) Option {
	return func(s *Server) {
		s.autoComplete = enabled
	}
}

func WithRateLimit(window time.Duration, max int) Option {
	return func(s *Server) {
		s.rateLimiter = ratelimit.NewRateLimiter(window, max)
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(s *Server) {
		s.cleanupInterval = d
	}
}

// WithAccessLog sets where the combined access log goes. Defaults to stdout.
func WithAccessLog(w io.Writer) Option {
	return func(s *Server) {
		s.accessLog = w
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New builds a server for f. states may be nil when the state store has no
// bulk cleanup.
func New(f Flow, states state.Cleaner, opts ...Option) *Server {
	s := &Server{
		flow:            f,
		states:          states,
		callbackPath:    DefaultCallbackPath,
		cleanupInterval: DefaultCleanupInterval,
		accessLog:       os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rateLimiter == nil {
		s.rateLimiter = ratelimit.NewRateLimiter(ratelimit.DefaultWindow, ratelimit.DefaultMax)
	}
	s.logger = logging.OrDiscard(s.logger)
	s.commands = commands.NewDispatcher(f, s.logger)
	return s
}

// Start runs the background cleanup of expired states and rate limiter
// entries until ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.rateLimiter.Prune()
			case <-ctx.Done():
				return
			}
		}
	}()
	if s.states != nil {
		go state.RunCleanup(ctx, s.states, s.cleanupInterval, s.logger)
	}
}

func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// SetupRoutes registers every route on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	callbackOpts := []callback.Option{callback.WithLogger(s.logger)}
	if s.autoComplete {
		callbackOpts = append(callbackOpts, callback.WithAutoComplete(s.flow))
	}

	mux.HandleFunc("GET /health", s.withCORS(s.healthHandler))
	mux.HandleFunc("GET /authorize", s.withRateLimit(http.HandlerFunc(s.authorizeHandler)))
	mux.HandleFunc("GET "+s.callbackPath, s.withRateLimit(callback.NewHandler(callbackOpts...)))
	mux.HandleFunc("GET /status", s.withRateLimit(http.HandlerFunc(s.statusHandler)))
	mux.HandleFunc("POST /command", s.withRateLimit(http.HandlerFunc(s.commandHandler)))
	mux.HandleFunc("POST /revoke", s.withRateLimit(http.HandlerFunc(s.revokeHandler)))
}

// Handler returns the routes wrapped in access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return handlers.LoggingHandler(s.accessLog, mux)
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))
		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(handlerutils.GetClientIP(r)) {
			handlerutils.Error(w, http.StatusTooManyRequests, "too_many_requests", "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	authURL, _, err := s.flow.GenerateAuthURL(r.Context())
	if err != nil {
		s.logger.Error("failed to generate authorization url", "error", err)
		handlerutils.Error(w, http.StatusInternalServerError, "server_error", apierrors.UserMessage(err))
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.flow.CheckAuthStatus(r.Context())
	if err != nil {
		s.logger.Error("failed to check auth status", "error", err)
		handlerutils.Error(w, http.StatusInternalServerError, "server_error", apierrors.UserMessage(err))
		return
	}
	handlerutils.JSON(w, http.StatusOK, status)
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Handled bool   `json:"handled"`
	Reply   string `json:"reply,omitempty"`
}

func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody)).Decode(&req); err != nil {
		handlerutils.Error(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a command field")
		return
	}

	reply, handled := s.commands.Handle(r.Context(), req.Command)
	handlerutils.JSON(w, http.StatusOK, commandResponse{Handled: handled, Reply: reply})
}

func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.flow.Revoke(r.Context()); err != nil {
		s.logger.Error("failed to revoke tokens", "error", err)
		handlerutils.Error(w, http.StatusInternalServerError, "server_error", apierrors.UserMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
