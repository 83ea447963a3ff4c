package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

var _ storage.AggregateStore = (*Store)(nil)

// LoadSnapshot implements storage.AggregateStore.
func (s *Store) LoadSnapshot(ctx context.Context, aggregateType string, id identity.EntityID) (storage.Snapshot, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, state_json, updated_at FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, id.String(),
	)
	snap := storage.Snapshot{AggregateType: aggregateType, AggregateID: id}
	var version, updatedAtMillis int64
	var state string
	err := row.Scan(&version, &state, &updatedAtMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Version = uint64(version)
	snap.State = []byte(state)
	snap.UpdatedAt = fromMillis(updatedAtMillis)
	return snap, nil
}

// SaveSnapshot upserts a snapshot unless a newer one is stored.
func (s *Store) SaveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if strings.TrimSpace(snap.AggregateType) == "" {
		return fmt.Errorf("aggregate type is required")
	}
	if snap.AggregateID.IsZero() {
		return fmt.Errorf("aggregate id is required")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, version, state_json, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
		     version = excluded.version,
		     state_json = excluded.state_json,
		     updated_at = excluded.updated_at
		 WHERE excluded.version > snapshots.version`,
		snap.AggregateType,
		snap.AggregateID.String(),
		int64(snap.Version),
		string(snap.State),
		toMillis(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
