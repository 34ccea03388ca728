package tokenstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/types"
)

// MemoryStore keeps tokens in process memory. Records do not survive a
// restart; it is meant for tests and single-process development.
type MemoryStore struct {
	lock    sync.RWMutex
	records map[string]types.TokenRecord
	now     Clock
	logger  *slog.Logger
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		records: map[string]types.TokenRecord{},
		now:     o.now,
		logger:  o.logger,
	}
}

func (m *MemoryStore) Store(_ context.Context, userID, accessToken, refreshToken string, expiresIn time.Duration, tokenType string) error {
	now := m.now()
	rec, err := NewRecord(now, userID, accessToken, refreshToken, expiresIn, tokenType)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if old, ok := m.records[userID]; ok {
		rec.CreatedAt = old.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.records[userID] = *rec

	m.logger.Debug("stored tokens", "user_id", userID, "expires_at", rec.ExpiresAt)
	return nil
}

func (m *MemoryStore) GetAccessToken(_ context.Context, userID string) (string, bool, error) {
	rec, ok := m.get(userID)
	if !ok {
		return "", false, nil
	}
	return rec.AccessToken, true, nil
}

func (m *MemoryStore) GetRefreshToken(_ context.Context, userID string) (string, bool, error) {
	rec, ok := m.get(userID)
	if !ok || rec.RefreshToken == "" {
		return "", false, nil
	}
	return rec.RefreshToken, true, nil
}

func (m *MemoryStore) CheckStatus(_ context.Context, userID string) (*types.TokenStatus, error) {
	rec, ok := m.get(userID)
	if !ok {
		return StatusFor(nil, m.now()), nil
	}
	return StatusFor(&rec, m.now()), nil
}

func (m *MemoryStore) Revoke(_ context.Context, userID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.records, userID)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) get(userID string) (types.TokenRecord, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	rec, ok := m.records[userID]
	return rec, ok
}
