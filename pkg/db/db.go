package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/encryption"
	"github.com/obot-platform/atlassian-oauth/pkg/logging"
	"github.com/obot-platform/atlassian-oauth/pkg/state"
	"github.com/obot-platform/atlassian-oauth/pkg/tokenstore"
	"github.com/obot-platform/atlassian-oauth/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the database backed token and CSRF state store.
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
	key    []byte
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Store)

// WithEncryptionKey enables AES-256-GCM encryption of stored tokens.
func WithEncryptionKey(key []byte) Option {
	return func(s *Store) {
		s.key = key
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New opens the database and sets up the schema. An empty dsn selects a
// SQLite file under ./data, a postgres:// or postgresql:// dsn selects
// PostgreSQL, and anything else is taken as a SQLite file path.
func New(dsn string, opts ...Option) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	switch {
	case dsn == "":
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		gormDB, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "atlassian_oauth.db")), gormConfig)
		dbType = "sqlite"
	case IsPostgres(dsn):
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	default:
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// SQLite allows a single writer.
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Store{db: gormDB, dbType: dbType, now: time.Now}
	for _, opt := range opts {
		opt(database)
	}
	database.logger = logging.OrDiscard(database.logger)

	if err := database.setupSchema(); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return database, nil
}

// IsPostgres reports whether dsn selects PostgreSQL.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (d *Store) setupSchema() error {
	if err := d.db.AutoMigrate(&types.TokenRecord{}, &types.AuthState{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return nil
}

// Store replaces the token record for userID.
func (d *Store) Store(ctx context.Context, userID, accessToken, refreshToken string, expiresIn time.Duration, tokenType string) error {
	now := d.now()
	rec, err := tokenstore.NewRecord(now, userID, accessToken, refreshToken, expiresIn, tokenType)
	if err != nil {
		return err
	}

	if rec.AccessToken, err = d.seal(rec.AccessToken); err != nil {
		return err
	}
	if rec.RefreshToken, err = d.seal(rec.RefreshToken); err != nil {
		return err
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "token_type", "expires_at", "updated_at"}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	return nil
}

func (d *Store) GetAccessToken(ctx context.Context, userID string) (string, bool, error) {
	rec, err := d.getRecord(ctx, userID)
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.AccessToken, true, nil
}

func (d *Store) GetRefreshToken(ctx context.Context, userID string) (string, bool, error) {
	rec, err := d.getRecord(ctx, userID)
	if err != nil || rec == nil || rec.RefreshToken == "" {
		return "", false, err
	}
	return rec.RefreshToken, true, nil
}

func (d *Store) CheckStatus(ctx context.Context, userID string) (*types.TokenStatus, error) {
	rec, err := d.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	return tokenstore.StatusFor(rec, d.now()), nil
}

// Revoke deletes the record. Deleting a missing record is not an error.
func (d *Store) Revoke(ctx context.Context, userID string) error {
	if err := d.db.WithContext(ctx).Delete(&types.TokenRecord{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return nil
}

// getRecord returns the decrypted record, or nil when none exists.
func (d *Store) getRecord(ctx context.Context, userID string) (*types.TokenRecord, error) {
	var rec types.TokenRecord
	err := d.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	if rec.AccessToken, err = d.open(rec.AccessToken); err != nil {
		return nil, err
	}
	if rec.RefreshToken, err = d.open(rec.RefreshToken); err != nil {
		return nil, err
	}
	if rec.AccessToken == "" {
		return nil, nil
	}
	return &rec, nil
}

func (d *Store) seal(value string) (string, error) {
	if d.key == nil || value == "" {
		return value, nil
	}
	sealed, err := encryption.EncryptString(d.key, value)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}
	return sealed, nil
}

func (d *Store) open(value string) (string, error) {
	if d.key == nil || value == "" {
		return value, nil
	}
	plain, err := encryption.DecryptString(d.key, value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}
	return plain, nil
}

// Issue records a CSRF state issued at issuedAt.
func (d *Store) Issue(ctx context.Context, s string, issuedAt time.Time) error {
	if s == "" {
		return state.ErrStateNotFound
	}
	if err := d.db.WithContext(ctx).Create(&types.AuthState{State: s, IssuedAt: issuedAt}).Error; err != nil {
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

// Consume deletes the state in a transaction. Only the caller whose delete
// affected the row wins; an expired state is deleted and reported expired.
func (d *Store) Consume(ctx context.Context, s string) error {
	var expired bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st types.AuthState
		if err := tx.First(&st, "state = ?", s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return state.ErrStateNotFound
			}
			return err
		}

		result := tx.Delete(&types.AuthState{}, "state = ?", s)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return state.ErrStateNotFound
		}

		expired = state.Expired(st.IssuedAt, d.now(), state.TTL)
		return nil
	})
	if err != nil {
		if errors.Is(err, state.ErrStateNotFound) {
			return err
		}
		return fmt.Errorf("failed to consume state: %w", err)
	}
	if expired {
		return state.ErrStateExpired
	}
	return nil
}

// CleanupExpired removes states older than the state TTL.
func (d *Store) CleanupExpired(ctx context.Context) error {
	result := d.db.WithContext(ctx).Where("issued_at < ?", d.now().Add(-state.TTL)).Delete(&types.AuthState{})
	if result.Error != nil {
		return fmt.Errorf("failed to cleanup expired states: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		d.logger.Info("deleted expired oauth states", "count", result.RowsAffected)
	}
	return nil
}

// Close closes the database connection.
func (d *Store) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
