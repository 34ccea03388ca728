package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type Serve struct {
	root *RootCmd
}

func (s *Serve) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "serve"
	cobraCmd.Short = "Run the HTTP server (the default when no subcommand is given)"
}

func (s *Serve) Run(cobraCmd *cobra.Command, args []string) error {
	return s.root.serve(cobraCmd.Context())
}

func (c *RootCmd) serve(ctx context.Context) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("error closing token store", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(a.flow, a.cleaner,
		server.WithCallbackPath(a.cfg.CallbackPath),
		server.WithAutoComplete(a.cfg.AutoComplete),
		server.WithRateLimit(a.cfg.RateLimitWindow, a.cfg.RateLimitMax),
		server.WithLogger(a.logger),
	)
	srv.Start(ctx)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Host, a.cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("starting atlassian oauth server",
		"address", httpServer.Addr,
		"callback_path", a.cfg.CallbackPath,
		"token_backend", a.cfg.TokenBackend,
		"oauth", a.oauth,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down server")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
