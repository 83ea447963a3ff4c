// Package redisstore keeps projection checkpoints in Redis so several
// projection workers can share progress.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

const defaultKeyPrefix = "aggkernel"

// Config locates the Redis server.
type Config struct {
	Addr      string `env:"ADDR"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"aggkernel"`
}

// CheckpointStore is a Redis-backed storage.CheckpointStore. Each checkpoint
// is a hash with sequence and updated_at fields.
type CheckpointStore struct {
	rdb    *goredis.Client
	prefix string
}

var _ storage.CheckpointStore = (*CheckpointStore)(nil)

// Open dials the server in cfg and checks it responds.
func Open(ctx context.Context, cfg Config) (*CheckpointStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewCheckpointStore(rdb, cfg.KeyPrefix), nil
}

// NewCheckpointStore wraps an existing client.
func NewCheckpointStore(rdb *goredis.Client, keyPrefix string) *CheckpointStore {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &CheckpointStore{rdb: rdb, prefix: keyPrefix}
}

// Close closes the client. It is nil-safe.
func (s *CheckpointStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// GetCheckpoint implements storage.CheckpointStore.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, projection, stream string) (storage.Checkpoint, error) {
	cp := storage.Checkpoint{Projection: projection, Stream: stream}
	fields, err := s.rdb.HGetAll(ctx, s.key(projection, stream)).Result()
	if errors.Is(err, goredis.Nil) {
		return cp, nil
	}
	if err != nil {
		return storage.Checkpoint{}, fmt.Errorf("redis get checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return cp, nil
	}
	if cp.Sequence, err = strconv.ParseUint(fields["sequence"], 10, 64); err != nil {
		return storage.Checkpoint{}, fmt.Errorf("parse checkpoint sequence: %w", err)
	}
	if raw := fields["updated_at"]; raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return storage.Checkpoint{}, fmt.Errorf("parse checkpoint time: %w", err)
		}
		cp.UpdatedAt = time.UnixMilli(millis).UTC()
	}
	return cp, nil
}

// SaveCheckpoint implements storage.CheckpointStore.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp storage.Checkpoint) error {
	if strings.TrimSpace(cp.Projection) == "" || strings.TrimSpace(cp.Stream) == "" {
		return fmt.Errorf("projection and stream are required")
	}
	err := s.rdb.HSet(ctx, s.key(cp.Projection, cp.Stream),
		"sequence", strconv.FormatUint(cp.Sequence, 10),
		"updated_at", strconv.FormatInt(cp.UpdatedAt.UTC().UnixMilli(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("redis save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) key(projection, stream string) string {
	return s.prefix + ":checkpoint:" + projection + ":" + stream
}
