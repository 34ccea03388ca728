// Package state tracks the CSRF state values issued with authorization URLs
// until the matching callback consumes them.
package state

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/obot-platform/atlassian-oauth/pkg/logging"
)

// TTL is how long an issued state stays acceptable.
const TTL = 600 * time.Second

var (
	ErrStateNotFound = errors.New("state not found or already used")
	ErrStateExpired  = errors.New("state expired")
)

// Store records issued states. Consume is an atomic check-and-delete: of
// several concurrent calls for one state exactly one succeeds.
type Store interface {
	Issue(ctx context.Context, state string, issuedAt time.Time) error
	// Consume removes the state. It returns ErrStateNotFound for unknown or
	// already consumed states and ErrStateExpired for states older than the
	// TTL, which are removed as well.
	Consume(ctx context.Context, state string) error
}

// Expired reports whether a state issued at issuedAt is past ttl at now.
func Expired(issuedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(issuedAt) > ttl
}

// MemoryStore keeps states in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*MemoryStore)

func WithClock(now func() time.Time) Option {
	return func(m *MemoryStore) {
		m.now = now
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(m *MemoryStore) {
		m.ttl = ttl
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *MemoryStore) {
		m.logger = l
	}
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	m := &MemoryStore{
		states: map[string]time.Time{},
		ttl:    TTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDiscard(m.logger)
	return m
}

func (m *MemoryStore) Issue(_ context.Context, state string, issuedAt time.Time) error {
	if state == "" {
		return ErrStateNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = issuedAt
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, state string) error {
	m.mu.Lock()
	issuedAt, ok := m.states[state]
	delete(m.states, state)
	m.mu.Unlock()

	if !ok {
		return ErrStateNotFound
	}
	if Expired(issuedAt, m.now(), m.ttl) {
		m.logger.Warn("rejected expired oauth state", "age", m.now().Sub(issuedAt))
		return ErrStateExpired
	}
	return nil
}

// Len returns the number of pending states.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// Cleanup removes expired states and returns how many were removed.
func (m *MemoryStore) Cleanup() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for s, issuedAt := range m.states {
		if Expired(issuedAt, now, m.ttl) {
			delete(m.states, s)
			count++
		}
	}
	if count > 0 {
		m.logger.Debug("cleaned up expired oauth states", "count", count)
	}
	return count
}

// CleanupExpired is Cleanup in the Cleaner shape.
func (m *MemoryStore) CleanupExpired(context.Context) error {
	m.Cleanup()
	return nil
}

// Cleaner is a Store that can drop expired states in bulk.
type Cleaner interface {
	CleanupExpired(ctx context.Context) error
}

// RunCleanup calls c.CleanupExpired every interval until ctx is done.
// Failures are logged and the loop keeps going.
func RunCleanup(ctx context.Context, c Cleaner, interval time.Duration, logger *slog.Logger) {
	logger = logging.OrDiscard(logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.CleanupExpired(ctx); err != nil {
				logger.Error("failed to cleanup expired oauth states", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
