package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

type snapshotKey struct {
	aggregateType string
	id            identity.EntityID
}

// AggregateStore is an in-memory storage.AggregateStore.
type AggregateStore struct {
	mu        sync.RWMutex
	snapshots map[snapshotKey]storage.Snapshot
}

var _ storage.AggregateStore = (*AggregateStore)(nil)

// NewAggregateStore creates an empty snapshot store.
func NewAggregateStore() *AggregateStore {
	return &AggregateStore{snapshots: make(map[snapshotKey]storage.Snapshot)}
}

// LoadSnapshot implements storage.AggregateStore.
func (s *AggregateStore) LoadSnapshot(_ context.Context, aggregateType string, id identity.EntityID) (storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey{aggregateType, id}]
	if !ok {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	return snap, nil
}

// SaveSnapshot implements storage.AggregateStore.
func (s *AggregateStore) SaveSnapshot(_ context.Context, snapshot storage.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey{snapshot.AggregateType, snapshot.AggregateID}
	if current, ok := s.snapshots[key]; ok && current.Version >= snapshot.Version {
		return nil
	}
	s.snapshots[key] = snapshot
	return nil
}

// ContentStore is an in-memory storage.ContentStore.
type ContentStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ storage.ContentStore = (*ContentStore)(nil)

// NewContentStore creates an empty content store.
func NewContentStore() *ContentStore {
	return &ContentStore{blobs: make(map[string][]byte)}
}

// Put implements storage.ContentStore.
func (s *ContentStore) Put(_ context.Context, addr address.Address, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[addr.String()] = append([]byte(nil), data...)
	return nil
}

// Get implements storage.ContentStore.
func (s *ContentStore) Get(_ context.Context, addr address.Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[addr.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// CheckpointStore is an in-memory storage.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[[2]string]storage.Checkpoint
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore creates an empty checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[[2]string]storage.Checkpoint)}
}

// GetCheckpoint implements storage.CheckpointStore.
func (s *CheckpointStore) GetCheckpoint(_ context.Context, projection, stream string) (storage.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cp, ok := s.checkpoints[[2]string{projection, stream}]; ok {
		return cp, nil
	}
	return storage.Checkpoint{Projection: projection, Stream: stream}, nil
}

// SaveCheckpoint implements storage.CheckpointStore.
func (s *CheckpointStore) SaveCheckpoint(_ context.Context, checkpoint storage.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[[2]string{checkpoint.Projection, checkpoint.Stream}] = checkpoint
	return nil
}
