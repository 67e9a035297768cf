/*
Package history keeps the durable ledger of disclosures already processed.

Manager wraps a Store and serializes access to it. Entries older than the
retention period are evicted at the start of each engine pass.
*/
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/shanehull/bsewatch/internal/config"
)

// Entry is one processed disclosure key.
type Entry struct {
	Key      string    `badgerhold:"key"`
	SeenAt   time.Time `badgerhold:"index"`
	Notified bool
}

// Store is the persistence behind a Manager.
type Store interface {
	Has(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, e Entry) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open builds the store named by cfg.Backend.
func Open(cfg config.StorageConfig, logger arbor.ILogger) (Store, error) {
	switch cfg.Backend {
	case "", "badger":
		s, err := OpenBadgerStore(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

type Manager struct {
	store     Store
	mutex     sync.Mutex
	retention time.Duration
	logger    arbor.ILogger
	now       func() time.Time
}

func NewManager(ctx context.Context, store Store, retention time.Duration, logger arbor.ILogger) (*Manager, error) {
	m := &Manager{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}

	n, err := store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read seen set: %w", err)
	}
	logger.Info().Int("entries", n).Str("retention", retention.String()).Msg("Seen set loaded")
	return m, nil
}

func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ok, err := m.store.Has(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	return ok, nil
}

// Mark records key as processed now.
func (m *Manager) Mark(ctx context.Context, key string, notified bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err := m.store.Put(ctx, Entry{Key: key, SeenAt: m.now(), Notified: notified}); err != nil {
		return fmt.Errorf("failed to mark %s: %w", key, err)
	}
	return nil
}

// Evict drops entries older than the retention period and returns how many went.
func (m *Manager) Evict(ctx context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cutoff := m.now().Add(-m.retention)
	n, err := m.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict entries before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		m.logger.Info().Int("evicted", n).Str("cutoff", cutoff.Format(time.RFC3339)).Msg("Evicted old seen entries")
	}
	return n, nil
}

func (m *Manager) Len(ctx context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.store.Count(ctx)
}

func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.store.Close()
}
