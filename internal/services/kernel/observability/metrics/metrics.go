// Package metrics exposes Prometheus collectors for stream appends and saga
// outcomes.
package metrics

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

const namespace = "aggkernel"

// Metrics holds the kernel collectors.
type Metrics struct {
	appended      *prometheus.CounterVec   // envelopes appended by stream
	appendErrors  *prometheus.CounterVec   // failed appends by stream and error code
	appendLatency *prometheus.HistogramVec // append duration by stream

	sagaSteps    *prometheus.CounterVec // step outcomes by step and outcome
	sagaFinished *prometheus.CounterVec // finished sagas by final state
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "appended_events_total",
			Help:      "Total number of event envelopes appended",
		}, []string{"stream"}),
		appendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "append_errors_total",
			Help:      "Total number of failed appends",
		}, []string{"stream", "code"}),
		appendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "append_duration_seconds",
			Help:      "Append latency",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stream"}),
		sagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "steps_total",
			Help:      "Saga step outcomes",
		}, []string{"step", "outcome"}),
		sagaFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "finished_total",
			Help:      "Sagas that reached a terminal state",
		}, []string{"state"}),
	}
	for _, c := range []prometheus.Collector{m.appended, m.appendErrors, m.appendLatency, m.sagaSteps, m.sagaFinished} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Step outcome labels.
const (
	OutcomeCompleted   = "completed"
	OutcomeRejected    = "rejected"
	OutcomeCompensated = "compensated"
)

// StepCompleted implements saga.Observer.
func (m *Metrics) StepCompleted(step saga.Step) { m.step(step, OutcomeCompleted) }

// StepRejected implements saga.Observer.
func (m *Metrics) StepRejected(step saga.Step) { m.step(step, OutcomeRejected) }

// StepCompensated implements saga.Observer.
func (m *Metrics) StepCompensated(step saga.Step) { m.step(step, OutcomeCompensated) }

// Finished implements saga.Observer.
func (m *Metrics) Finished(state saga.State) {
	m.sagaFinished.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) step(step saga.Step, outcome string) {
	m.sagaSteps.WithLabelValues(strconv.Itoa(step.Index), outcome).Inc()
}

var _ saga.Observer = (*Metrics)(nil)

// InstrumentedStream records append metrics around another stream.
type InstrumentedStream struct {
	next    storage.Stream
	metrics *Metrics
	now     func() time.Time
}

// Stream wraps next.
func (m *Metrics) Stream(next storage.Stream) *InstrumentedStream {
	return &InstrumentedStream{next: next, metrics: m, now: time.Now}
}

// Append implements storage.Stream.
func (s *InstrumentedStream) Append(ctx context.Context, stream string, expectedVersion uint64, events []envelope.EventEnvelope) ([]envelope.EventEnvelope, error) {
	start := s.now()
	stored, err := s.next.Append(ctx, stream, expectedVersion, events)
	s.metrics.appendLatency.WithLabelValues(stream).Observe(s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.appendErrors.WithLabelValues(stream, string(apperrors.CodeOf(err))).Inc()
		return nil, err
	}
	s.metrics.appended.WithLabelValues(stream).Add(float64(len(stored)))
	return stored, nil
}

// ReadAggregate implements storage.Stream.
func (s *InstrumentedStream) ReadAggregate(ctx context.Context, stream string, aggregateID identity.EntityID, afterVersion uint64) ([]envelope.EventEnvelope, error) {
	return s.next.ReadAggregate(ctx, stream, aggregateID, afterVersion)
}

// Read implements storage.Stream.
func (s *InstrumentedStream) Read(ctx context.Context, stream string, from uint64, limit int) ([]envelope.EventEnvelope, error) {
	return s.next.Read(ctx, stream, from, limit)
}

// Subscribe implements storage.Stream.
func (s *InstrumentedStream) Subscribe(ctx context.Context, stream string, from uint64) iter.Seq2[envelope.EventEnvelope, error] {
	return s.next.Subscribe(ctx, stream, from)
}

var _ storage.Stream = (*InstrumentedStream)(nil)
