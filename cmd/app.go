package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/obot-platform/atlassian-oauth/pkg/apiclient"
	"github.com/obot-platform/atlassian-oauth/pkg/config"
	"github.com/obot-platform/atlassian-oauth/pkg/db"
	"github.com/obot-platform/atlassian-oauth/pkg/encryption"
	"github.com/obot-platform/atlassian-oauth/pkg/identity"
	"github.com/obot-platform/atlassian-oauth/pkg/oauth/flow"
	"github.com/obot-platform/atlassian-oauth/pkg/providers"
	"github.com/obot-platform/atlassian-oauth/pkg/state"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

const (
	BackendDatabase = "database"
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendIdentity = "identity"
	BackendEnv      = "env"
)

// app is the wiring shared by the server and the CLI subcommands.
type app struct {
	cfg    *types.Config
	oauth  *config.OAuthConfig
	tokens tokenstore.Store
	states state.Store
	// cleaner drops expired states, nil when states has nothing to clean.
	cleaner state.Cleaner
	flow   *flow.Handler
	logger *slog.Logger

	closers []func() error
}

func newApp(cfg *types.Config, oauthCfg *config.OAuthConfig, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		oauth:  oauthCfg,
		logger: logger,
	}
	if err := a.openStores(); err != nil {
		_ = a.Close()
		return nil, err
	}

	provider := providers.NewAtlassianProvider(oauthCfg, providers.WithLogger(logger))
	a.flow = flow.NewHandler(oauthCfg.DemoUserID(), oauthCfg, provider, a.tokens, a.states, flow.WithLogger(logger))
	return a, nil
}

func (a *app) openStores() error {
	opts := []tokenstore.Option{tokenstore.WithLogger(a.logger)}

	switch a.cfg.TokenBackend {
	case BackendDatabase, "":
		var dbOpts []db.Option
		if a.cfg.EncryptionKey != "" {
			key, err := encryption.DecodeKey(a.cfg.EncryptionKey)
			if err != nil {
				return fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
			}
			dbOpts = append(dbOpts, db.WithEncryptionKey(key))
		}
		store, err := db.New(a.cfg.DatabaseDSN, append(dbOpts, db.WithLogger(a.logger))...)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.tokens, a.states, a.cleaner = store, store, store
		a.logger.Info("using database token store", "database", databaseType(a.cfg.DatabaseDSN), "encrypted", a.cfg.EncryptionKey != "")
		return nil
	case BackendMemory:
		a.tokens = tokenstore.NewMemoryStore(opts...)
	case BackendBolt:
		if err := os.MkdirAll(filepath.Dir(a.cfg.BoltPath), 0o700); err != nil {
			return fmt.Errorf("failed to create bolt directory: %w", err)
		}
		store, err := tokenstore.OpenBoltStore(a.cfg.BoltPath, opts...)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.tokens = store
	case BackendIdentity:
		client, err := identity.NewClient(a.cfg.IdentityEndpoint, a.oauth.IdentityARN(), identity.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.tokens = tokenstore.NewIdentityStore(client, opts...)
	case BackendEnv:
		a.tokens = tokenstore.EnvStoreFromEnv()
	default:
		return fmt.Errorf("unknown token backend %q", a.cfg.TokenBackend)
	}

	states := state.NewMemoryStore(state.WithLogger(a.logger))
	a.states, a.cleaner = states, states
	a.logger.Info("using token store", "backend", a.cfg.TokenBackend)
	return nil
}

// apiClient returns an authenticated client that refreshes through the flow.
func (a *app) apiClient() *apiclient.Client {
	return apiclient.New(a.flow.UserID(), a.tokens, a.flow,
		apiclient.WithEndpoints(a.oauth.Endpoints()),
		apiclient.WithRateLimit(10, 10),
		apiclient.WithLogger(a.logger),
	)
}

// cloudID returns the first site the stored token can access.
func cloudID(ctx context.Context, api *apiclient.Client) (string, error) {
	resp, err := api.Get(ctx, api.AccessibleResourcesURL())
	if err != nil {
		return "", err
	}
	id := resp.Get("0.id").String()
	if id == "" {
		return "", errors.New("the token cannot access any Atlassian site")
	}
	return id, nil
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func databaseType(dsn string) string {
	switch {
	case dsn == "":
		return "SQLite (data/atlassian_oauth.db)"
	case db.IsPostgres(dsn):
		return "PostgreSQL"
	}
	return fmt.Sprintf("SQLite (%s)", dsn)
}
