package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
	"golang.org/x/time/rate"
)

var _ storage.Stream = (*Store)(nil)

const eventColumns = `sequence, aggregate_id, aggregate_type, version, message_id, correlation_id,
	causation_id, event_type, occurred_at, payload_json, metadata_json`

// Append implements storage.Stream.
func (s *Store) Append(ctx context.Context, stream string, expectedVersion uint64, events []envelope.EventEnvelope) ([]envelope.EventEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if err := storage.ValidateAppend(stream, events); err != nil {
		return nil, err
	}
	aggregateID := events[0].AggregateID

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storage.AppendFailed(stream, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var current uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream = ? AND aggregate_id = ?`,
		stream, aggregateID.String(),
	).Scan(&current); err != nil {
		return nil, storage.AppendFailed(stream, fmt.Errorf("load aggregate version: %w", err))
	}
	if current != expectedVersion {
		return nil, conflict(stream, aggregateID, expectedVersion, current)
	}

	var last uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE stream = ?`, stream,
	).Scan(&last); err != nil {
		return nil, storage.AppendFailed(stream, fmt.Errorf("load stream sequence: %w", err))
	}

	stored := storage.Stamp(events, expectedVersion, last+1)
	for _, evt := range stored {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		metadata, err := json.Marshal(evt.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (stream, `+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stream,
			int64(evt.Sequence),
			evt.AggregateID.String(),
			evt.AggregateType,
			int64(evt.Version),
			evt.Identity.MessageID.String(),
			evt.Identity.CorrelationID.String(),
			evt.Identity.CausationID.String(),
			evt.EventType(),
			toMillis(evt.OccurredAt),
			string(payload),
			string(metadata),
		); err != nil {
			if isConstraintError(err) {
				return nil, conflict(stream, aggregateID, expectedVersion, expectedVersion+1)
			}
			return nil, storage.AppendFailed(stream, fmt.Errorf("insert event: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		if isBusyError(err) || isConstraintError(err) {
			return nil, conflict(stream, aggregateID, expectedVersion, expectedVersion+1)
		}
		return nil, storage.AppendFailed(stream, fmt.Errorf("commit: %w", err))
	}
	for i := range stored {
		stored[i].OccurredAt = stored[i].OccurredAt.UTC().Truncate(time.Millisecond)
	}
	return stored, nil
}

// conflict reports a lost version race. When the insert itself collides the
// exact current version is unknown, so actual is the lowest possible value.
func conflict(stream string, aggregateID identity.EntityID, expected, actual uint64) error {
	return &storage.ConcurrencyConflictError{
		Stream:      stream,
		AggregateID: aggregateID,
		Expected:    expected,
		Actual:      actual,
	}
}

// ReadAggregate implements storage.Stream.
func (s *Store) ReadAggregate(ctx context.Context, stream string, aggregateID identity.EntityID, afterVersion uint64) ([]envelope.EventEnvelope, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE stream = ? AND aggregate_id = ? AND version > ?
		 ORDER BY version`,
		stream, aggregateID.String(), int64(afterVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("read aggregate events: %w", err)
	}
	return scanEvents(rows)
}

// Read implements storage.Stream.
func (s *Store) Read(ctx context.Context, stream string, from uint64, limit int) ([]envelope.EventEnvelope, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE stream = ? AND sequence >= ?
		 ORDER BY sequence LIMIT ?`,
		stream, int64(max(from, 1)), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read stream events: %w", err)
	}
	return scanEvents(rows)
}

// Subscribe implements storage.Stream by polling at most once per poll
// interval.
func (s *Store) Subscribe(ctx context.Context, stream string, from uint64) iter.Seq2[envelope.EventEnvelope, error] {
	limiter := rate.NewLimiter(rate.Every(s.pollInterval), 1)
	// The first read happens immediately; spend the burst token so the first
	// wait is a full interval.
	limiter.Allow()
	read := func(ctx context.Context, from uint64, limit int) ([]envelope.EventEnvelope, error) {
		return s.Read(ctx, stream, from, limit)
	}
	return storage.Follow(ctx, from, read, limiter.Wait)
}

func scanEvents(rows *sql.Rows) ([]envelope.EventEnvelope, error) {
	defer rows.Close()
	var events []envelope.EventEnvelope
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (envelope.EventEnvelope, error) {
	var (
		evt                                  envelope.EventEnvelope
		sequence, version, occurredAtMillis  int64
		aggregateID, messageID               string
		correlationID, causationID           string
		eventType, payloadJSON, metadataJSON string
	)
	if err := rows.Scan(
		&sequence, &aggregateID, &evt.AggregateType, &version, &messageID, &correlationID,
		&causationID, &eventType, &occurredAtMillis, &payloadJSON, &metadataJSON,
	); err != nil {
		return envelope.EventEnvelope{}, fmt.Errorf("scan event: %w", err)
	}

	var err error
	if evt.AggregateID, err = identity.ParseEntityID(aggregateID); err != nil {
		return envelope.EventEnvelope{}, err
	}
	if evt.Identity.MessageID, err = identity.ParseMessageID(messageID); err != nil {
		return envelope.EventEnvelope{}, err
	}
	if evt.Identity.CorrelationID, err = identity.ParseMessageID(correlationID); err != nil {
		return envelope.EventEnvelope{}, err
	}
	if evt.Identity.CausationID, err = identity.ParseMessageID(causationID); err != nil {
		return envelope.EventEnvelope{}, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &evt.Payload); err != nil {
		return envelope.EventEnvelope{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal([]byte(metadataJSON), &evt.Metadata); err != nil {
		return envelope.EventEnvelope{}, fmt.Errorf("decode metadata: %w", err)
	}
	if evt.Metadata.PayloadType == "" {
		evt.Metadata.PayloadType = eventType
	}
	evt.Sequence = uint64(sequence)
	evt.Version = uint64(version)
	evt.OccurredAt = fromMillis(occurredAtMillis)
	return evt, nil
}
