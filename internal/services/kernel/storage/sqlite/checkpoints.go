package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

var _ storage.CheckpointStore = (*Store)(nil)

// GetCheckpoint implements storage.CheckpointStore.
func (s *Store) GetCheckpoint(ctx context.Context, projection, stream string) (storage.Checkpoint, error) {
	cp := storage.Checkpoint{Projection: projection, Stream: stream}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT sequence, updated_at FROM checkpoints WHERE projection = ? AND stream = ?`,
		projection, stream,
	)
	var sequence, updatedAtMillis int64
	err := row.Scan(&sequence, &updatedAtMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return storage.Checkpoint{}, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.Sequence = uint64(sequence)
	cp.UpdatedAt = fromMillis(updatedAtMillis)
	return cp, nil
}

// SaveCheckpoint upserts the checkpoint for a projection and stream.
func (s *Store) SaveCheckpoint(ctx context.Context, cp storage.Checkpoint) error {
	if strings.TrimSpace(cp.Projection) == "" || strings.TrimSpace(cp.Stream) == "" {
		return fmt.Errorf("projection and stream are required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO checkpoints (projection, stream, sequence, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (projection, stream) DO UPDATE SET
		     sequence = excluded.sequence,
		     updated_at = excluded.updated_at`,
		cp.Projection, cp.Stream, int64(cp.Sequence), toMillis(cp.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
