package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

type BadgerStore struct {
	store *badgerhold.Store
}

func OpenBadgerStore(path string, logger arbor.ILogger) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Badger seen store opened")
	return &BadgerStore{store: store}, nil
}

func (s *BadgerStore) Has(_ context.Context, key string) (bool, error) {
	var e Entry
	err := s.store.Get(key, &e)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BadgerStore) Put(_ context.Context, e Entry) error {
	return s.store.Upsert(e.Key, &e)
}

func (s *BadgerStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("SeenAt").Lt(cutoff)
	n, err := s.store.Count(&Entry{}, query)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.store.DeleteMatching(&Entry{}, query); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *BadgerStore) Count(_ context.Context) (int, error) {
	n, err := s.store.Count(&Entry{}, nil)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}
