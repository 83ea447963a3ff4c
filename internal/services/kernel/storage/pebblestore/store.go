// Package pebblestore stores content-addressed payloads and aggregate snapshots
// in a Pebble key-value database.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

const (
	contentPrefix  = "content:"
	snapshotPrefix = "snapshot:"
)

// Store is a storage.ContentStore and storage.AggregateStore.
type Store struct {
	db *pebble.DB
	// snapshotMu makes the version comparison and write in SaveSnapshot atomic.
	snapshotMu sync.Mutex
}

var (
	_ storage.ContentStore   = (*Store)(nil)
	_ storage.AggregateStore = (*Store)(nil)
)

// Open opens or creates the database directory at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores data under addr after checking that data hashes to it.
func (s *Store) Put(ctx context.Context, addr address.Address, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !addr.Verify(data) {
		return fmt.Errorf("content does not match address %s", addr)
	}
	return s.db.Set(contentKey(addr), data, pebble.Sync)
}

// Get implements storage.ContentStore.
func (s *Store) Get(ctx context.Context, addr address.Address) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.get(contentKey(addr))
}

type snapshotRecord struct {
	Version   uint64          `json:"version"`
	State     json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LoadSnapshot implements storage.AggregateStore.
func (s *Store) LoadSnapshot(ctx context.Context, aggregateType string, id identity.EntityID) (storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return storage.Snapshot{}, err
	}
	raw, err := s.get(snapshotKey(aggregateType, id))
	if err != nil {
		return storage.Snapshot{}, err
	}
	var rec snapshotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return storage.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return storage.Snapshot{
		AggregateType: aggregateType,
		AggregateID:   id,
		Version:       rec.Version,
		State:         rec.State,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

// SaveSnapshot implements storage.AggregateStore.
func (s *Store) SaveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	current, err := s.LoadSnapshot(ctx, snap.AggregateType, snap.AggregateID)
	switch {
	case err == nil && current.Version >= snap.Version:
		return nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return err
	}

	raw, err := json.Marshal(snapshotRecord{Version: snap.Version, State: snap.State, UpdatedAt: snap.UpdatedAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Set(snapshotKey(snap.AggregateType, snap.AggregateID), raw, pebble.Sync)
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func contentKey(addr address.Address) []byte {
	return []byte(contentPrefix + addr.Digest.String())
}

func snapshotKey(aggregateType string, id identity.EntityID) []byte {
	return []byte(snapshotPrefix + aggregateType + ":" + id.String())
}
