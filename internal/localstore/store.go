// Package localstore provides durable on-device storage for the encoded
// journal snapshot. Each backend keeps a small key/value table and exposes the
// snapshot under a single fixed key.
package localstore

import (
	"context"
	"errors"
	"fmt"
)

// DefaultKey is the application key the snapshot is stored under.
const DefaultKey = "jukutatsu_state"

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Backend is a minimal key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Store reads and writes the snapshot blob under one key. It satisfies
// journal.Persister.
type Store struct {
	backend Backend
	key     string
}

// New binds backend to key. An empty key selects DefaultKey.
func New(backend Backend, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{backend: backend, key: key}
}

// Load returns the stored blob, or nil when nothing has been saved yet.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	blob, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.key, err)
	}
	return blob, nil
}

// Save replaces the stored blob.
func (s *Store) Save(ctx context.Context, blob []byte) error {
	if err := s.backend.Put(ctx, s.key, blob); err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Open opens the backend named by driver ("sqlite" or "badger") at path.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLite(path)
	case DriverBadger:
		cfg := DefaultBadgerConfig()
		cfg.Path = path
		return NewBadger(cfg)
	}
	return nil, fmt.Errorf("unknown local store driver %q", driver)
}
