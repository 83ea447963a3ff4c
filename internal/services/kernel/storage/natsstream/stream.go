// Package natsstream implements storage.Stream on NATS JetStream.
//
// Each logical stream is one JetStream stream, so the JetStream stream
// sequence is the event Sequence. Events for one aggregate share a subject,
// and appends use the expected-last-subject-sequence check for optimistic
// concurrency. JetStream has no multi-message transaction: a batch is
// published event by event, each one checked against the previous, so a
// batch cut short by a transport failure leaves a prefix stored.
package natsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

const (
	subjectRoot   = "aggkernel"
	versionHeader = "Aggkernel-Version"
)

// Config locates the NATS server.
type Config struct {
	URL      string `env:"URL" envDefault:"nats://127.0.0.1:4222"`
	InMemory bool   `env:"IN_MEMORY" envDefault:"false"`
}

// Stream is a JetStream-backed storage.Stream.
type Stream struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	storage jetstream.StorageType

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

var _ storage.Stream = (*Stream)(nil)

// Connect dials cfg.URL and enables JetStream.
func Connect(cfg Config) (*Stream, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("aggkernel"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	s := &Stream{
		nc:      nc,
		js:      js,
		storage: jetstream.FileStorage,
		streams: make(map[string]jetstream.Stream),
	}
	if cfg.InMemory {
		s.storage = jetstream.MemoryStorage
	}
	return s, nil
}

// Close drains the connection. It is nil-safe.
func (s *Stream) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}

// StreamName maps a logical stream to its JetStream stream name.
func StreamName(stream string) string {
	return strings.ToUpper(subjectRoot + "_" + token(stream))
}

func subject(stream string, aggregateID identity.EntityID) string {
	return subjectRoot + "." + token(stream) + "." + aggregateID.String()
}

// token makes a name safe as a subject token and stream name.
func token(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *Stream) ensure(ctx context.Context, stream string) (jetstream.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if js, ok := s.streams[stream]; ok {
		return js, nil
	}
	js, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName(stream),
		Subjects: []string{subjectRoot + "." + token(stream) + ".>"},
		Storage:  s.storage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure jetstream stream %s: %w", stream, err)
	}
	s.streams[stream] = js
	return js, nil
}

// Append implements storage.Stream.
func (s *Stream) Append(ctx context.Context, stream string, expectedVersion uint64, events []envelope.EventEnvelope) ([]envelope.EventEnvelope, error) {
	if err := storage.ValidateAppend(stream, events); err != nil {
		return nil, err
	}
	js, err := s.ensure(ctx, stream)
	if err != nil {
		return nil, storage.AppendFailed(stream, err)
	}
	aggregateID := events[0].AggregateID
	subj := subject(stream, aggregateID)

	current, lastSubjectSeq, err := lastVersion(ctx, js, subj)
	if err != nil {
		return nil, storage.AppendFailed(stream, err)
	}
	if current != expectedVersion {
		return nil, &storage.ConcurrencyConflictError{Stream: stream, AggregateID: aggregateID, Expected: expectedVersion, Actual: current}
	}

	stored := storage.Stamp(events, expectedVersion, 0)
	for i := range stored {
		data, err := json.Marshal(stored[i])
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		msg := nats.NewMsg(subj)
		msg.Data = data
		msg.Header.Set(versionHeader, strconv.FormatUint(stored[i].Version, 10))
		ack, err := s.js.PublishMsg(ctx, msg,
			jetstream.WithMsgID(stored[i].Identity.MessageID.String()),
			jetstream.WithExpectLastSequencePerSubject(lastSubjectSeq),
		)
		if err != nil {
			if isWrongLastSequence(err) {
				actual, _, _ := lastVersion(ctx, js, subj)
				return nil, &storage.ConcurrencyConflictError{Stream: stream, AggregateID: aggregateID, Expected: stored[i].Version - 1, Actual: actual}
			}
			return nil, storage.AppendFailed(stream, err)
		}
		stored[i].Sequence = ack.Sequence
		lastSubjectSeq = ack.Sequence
	}
	return stored, nil
}

func lastVersion(ctx context.Context, js jetstream.Stream, subj string) (version, seq uint64, err error) {
	msg, err := js.GetLastMsgForSubject(ctx, subj)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load last event: %w", err)
	}
	version, err = strconv.ParseUint(msg.Header.Get(versionHeader), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse version header: %w", err)
	}
	return version, msg.Sequence, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// ReadAggregate implements storage.Stream.
func (s *Stream) ReadAggregate(ctx context.Context, stream string, aggregateID identity.EntityID, afterVersion uint64) ([]envelope.EventEnvelope, error) {
	js, err := s.ensure(ctx, stream)
	if err != nil {
		return nil, err
	}
	subj := subject(stream, aggregateID)
	var out []envelope.EventEnvelope
	for seq := uint64(1); ; {
		msg, err := js.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(subj))
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read aggregate events: %w", err)
		}
		evt, err := decode(msg.Data, msg.Sequence)
		if err != nil {
			return nil, err
		}
		if evt.Version > afterVersion {
			out = append(out, evt)
		}
		seq = msg.Sequence + 1
	}
}

// Read implements storage.Stream.
func (s *Stream) Read(ctx context.Context, stream string, from uint64, limit int) ([]envelope.EventEnvelope, error) {
	js, err := s.ensure(ctx, stream)
	if err != nil {
		return nil, err
	}
	var out []envelope.EventEnvelope
	for seq := max(from, 1); limit <= 0 || len(out) < limit; seq++ {
		msg, err := js.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read stream events: %w", err)
		}
		evt, err := decode(msg.Data, msg.Sequence)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

// Subscribe implements storage.Stream with an ordered consumer.
func (s *Stream) Subscribe(ctx context.Context, stream string, from uint64) iter.Seq2[envelope.EventEnvelope, error] {
	return func(yield func(envelope.EventEnvelope, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(envelope.EventEnvelope{}, err)
			return
		}
		if _, err := s.ensure(ctx, stream); err != nil {
			yield(envelope.EventEnvelope{}, err)
			return
		}
		consumer, err := s.js.OrderedConsumer(ctx, StreamName(stream), jetstream.OrderedConsumerConfig{
			DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
			OptStartSeq:   max(from, 1),
		})
		if err != nil {
			yield(envelope.EventEnvelope{}, fmt.Errorf("create ordered consumer: %w", err))
			return
		}
		msgs, err := consumer.Messages()
		if err != nil {
			yield(envelope.EventEnvelope{}, fmt.Errorf("consume %s: %w", stream, err))
			return
		}
		defer msgs.Stop()
		stop := context.AfterFunc(ctx, msgs.Stop)
		defer stop()

		for {
			msg, err := msgs.Next()
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield(envelope.EventEnvelope{}, err)
				return
			}
			meta, err := msg.Metadata()
			if err != nil {
				yield(envelope.EventEnvelope{}, fmt.Errorf("message metadata: %w", err))
				return
			}
			evt, err := decode(msg.Data(), meta.Sequence.Stream)
			if err != nil {
				yield(envelope.EventEnvelope{}, err)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
	}
}

func decode(data []byte, sequence uint64) (envelope.EventEnvelope, error) {
	var evt envelope.EventEnvelope
	if err := json.Unmarshal(data, &evt); err != nil {
		return envelope.EventEnvelope{}, fmt.Errorf("decode event: %w", err)
	}
	evt.Sequence = sequence
	return evt, nil
}
