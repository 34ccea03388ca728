package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const (
	boltDirPerm     = fs.FileMode(0o700)
	boltFilePerm    = fs.FileMode(0o600)
	boltOpenTimeout = 5 * time.Second
)

var tokensBucket = []byte("atlassian_tokens")

// boltRecord is the on-disk form of a TokenRecord, which keeps its secrets
// out of its own JSON encoding.
type boltRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BoltStore persists tokens in a local bbolt file. The file is locked by the
// opening process, so it suits a single long running server.
type BoltStore struct {
	db     *bolt.DB
	now    Clock
	logger *slog.Logger
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string, opts ...Option) (*BoltStore, error) {
	o := buildOptions(opts)

	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tokensBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing token store: %w", err)
	}

	return &BoltStore{db: db, now: o.now, logger: o.logger}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) Store(_ context.Context, userID, accessToken, refreshToken string, expiresIn time.Duration, tokenType string) error {
	now := b.now()
	rec, err := NewRecord(now, userID, accessToken, refreshToken, expiresIn, tokenType)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(tokensBucket)

		createdAt := now
		if existing := bucket.Get([]byte(userID)); existing != nil {
			var old boltRecord
			if err := json.Unmarshal(existing, &old); err == nil {
				createdAt = old.CreatedAt
			}
		}

		data, err := json.Marshal(boltRecord{
			AccessToken:  rec.AccessToken,
			RefreshToken: rec.RefreshToken,
			TokenType:    rec.TokenType,
			ExpiresAt:    rec.ExpiresAt,
			CreatedAt:    createdAt,
			UpdatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("marshaling token record: %w", err)
		}
		return bucket.Put([]byte(userID), data)
	})
}

func (b *BoltStore) GetAccessToken(_ context.Context, userID string) (string, bool, error) {
	rec, err := b.get(userID)
	if err != nil || rec == nil {
		return "", false, err
	}
	return rec.AccessToken, true, nil
}

func (b *BoltStore) GetRefreshToken(_ context.Context, userID string) (string, bool, error) {
	rec, err := b.get(userID)
	if err != nil || rec == nil || rec.RefreshToken == "" {
		return "", false, err
	}
	return rec.RefreshToken, true, nil
}

func (b *BoltStore) CheckStatus(_ context.Context, userID string) (*types.TokenStatus, error) {
	rec, err := b.get(userID)
	if err != nil {
		return nil, err
	}
	return StatusFor(rec, b.now()), nil
}

func (b *BoltStore) Revoke(_ context.Context, userID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(userID))
	})
}

func (b *BoltStore) get(userID string) (*types.TokenRecord, error) {
	var rec *types.TokenRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(tokensBucket).Get([]byte(userID))
		if data == nil {
			return nil
		}
		var stored boltRecord
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}
		rec = &types.TokenRecord{
			UserID:       userID,
			AccessToken:  stored.AccessToken,
			RefreshToken: stored.RefreshToken,
			TokenType:    stored.TokenType,
			ExpiresAt:    stored.ExpiresAt,
			CreatedAt:    stored.CreatedAt,
			UpdatedAt:    stored.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading token record for %s: %w", userID, err)
	}
	if rec != nil && rec.AccessToken == "" {
		return nil, nil
	}
	return rec, nil
}
