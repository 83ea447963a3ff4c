package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	platformcmd "github.com/louisbranch/aggkernel/internal/platform/cmd"
	"github.com/louisbranch/aggkernel/internal/platform/logging"
	"github.com/louisbranch/aggkernel/internal/platform/timeouts"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/bucket"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/engine"
	"github.com/louisbranch/aggkernel/internal/services/kernel/observability/metrics"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection/orderstatus"
	"github.com/louisbranch/aggkernel/internal/services/kernel/query"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/memory"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/natsstream"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/pebblestore"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/redisstore"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/sqlite"
)

// stores is the storage stack a run uses.
type stores struct {
	stream      storage.Stream
	snapshots   storage.AggregateStore
	content     storage.ContentStore
	checkpoints storage.CheckpointStore
	closers     []io.Closer
}

func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	return errors.Join(errs...)
}

// Run executes the configured scenario and writes a report to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceKernel, platformcmd.RunOptions{Logger: logger}, func(ctx context.Context) error {
		return run(ctx, cfg, logger, out)
	})
}

func run(ctx context.Context, cfg Config, logger *zap.Logger, out io.Writer) (err error) {
	if err := checkModels(logger); err != nil {
		return err
	}
	scenario := DefaultScenario()
	if cfg.Scenario != "" {
		if scenario, err = LoadScenario(cfg.Scenario); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, registry, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close stores: %w", closeErr))
		}
	}()

	keyring, err := bucket.KeyringFromEnv()
	if err != nil {
		return err
	}
	ledger := bucket.NewLedger(keyring)
	coordinator := newCoordinator(cfg, st, m, ledger, logger)

	logger.Info("running scenario",
		zap.String("backend", cfg.Backend),
		zap.Int("sagas", len(scenario.Sagas)),
		zap.Bool("signed", keyring != nil),
	)
	for _, script := range scenario.Sagas {
		if err := runSaga(ctx, coordinator, script, out); err != nil {
			return fmt.Errorf("saga %q: %w", script.Name, err)
		}
	}

	if err := verifyLedger(ledger, out); err != nil {
		return err
	}
	return report(ctx, st, coordinator.IDs, logger, out)
}

func openStores(ctx context.Context, cfg Config) (*stores, error) {
	st := &stores{
		snapshots:   memory.NewAggregateStore(),
		content:     memory.NewContentStore(),
		checkpoints: memory.NewCheckpointStore(),
	}
	fail := func(err error) (*stores, error) {
		_ = st.Close()
		return nil, err
	}

	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, db)
		st.stream, st.snapshots, st.checkpoints = db, db, db
	case BackendJetStream:
		js, err := natsstream.Connect(cfg.NATS)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, js)
		st.stream = js
	default:
		st.stream = memory.NewStream()
	}

	if cfg.ContentPath != "" {
		pb, err := pebblestore.Open(cfg.ContentPath)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, pb)
		st.content = pb
		if !strings.EqualFold(cfg.Backend, BackendSQLite) {
			st.snapshots = pb
		}
	}
	if cfg.Redis.Addr != "" {
		rs, err := redisstore.Open(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, rs)
		st.checkpoints = rs
	}
	return st, nil
}

func newCoordinator(cfg Config, st *stores, m *metrics.Metrics, ledger *bucket.Ledger, logger *zap.Logger) *saga.Coordinator {
	ids := identity.NewMonotonicGenerator()
	stream := m.Stream(st.stream)
	var snapshots storage.AggregateStore
	if cfg.Snapshots {
		snapshots = st.snapshots
	}
	return &saga.Coordinator{
		Orders: &engine.Handler[order.State, order.Command, order.Event]{
			Model: order.Model{}, Stream: stream, IDs: ids, Snapshots: snapshots,
			Content: st.content, Ledger: ledger, Source: platformcmd.ServiceKernel, Logger: logger,
		},
		Payments: &engine.Handler[payment.State, payment.Command, payment.Event]{
			Model: payment.Model{Limit: cfg.PaymentLimit}, Stream: stream, IDs: ids, Snapshots: snapshots,
			Content: st.content, Ledger: ledger, Source: platformcmd.ServiceKernel, Logger: logger,
		},
		Shipments: &engine.Handler[shipment.State, shipment.Command, shipment.Event]{
			Model: shipment.Model{}, Stream: stream, IDs: ids, Snapshots: snapshots,
			Content: st.content, Ledger: ledger, Source: platformcmd.ServiceKernel, Logger: logger,
		},
		Stream:   stream,
		IDs:      ids,
		Source:   platformcmd.ServiceKernel,
		Logger:   logger,
		Observer: m,
	}
}

func runSaga(ctx context.Context, c *saga.Coordinator, script SagaScript, out io.Writer) error {
	commands, err := script.Commands()
	if err != nil {
		return err
	}
	start := envelope.NewCommand(c.IDs, saga.Participants{})
	started, err := c.Start(ctx, start)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "saga %s (%s) started\n", started.SagaID, script.Name)

	// Each scripted command is its own root, correlated with the start
	// command so one script reads as one transaction.
	transaction := start.Identity.MessageID

	state := started.State
	for _, cmd := range commands {
		decision, err := c.Handle(ctx, started.SagaID, envelope.WrapCommand(cmd, identity.NewRootInTransaction(c.IDs, transaction)))
		switch {
		case errors.Is(err, saga.ErrInvalidTransition):
			fmt.Fprintf(out, "  %-24s skipped: not valid in %s\n", cmd.Type, state)
			continue
		case errors.Is(err, saga.ErrCompensationFailed):
			fmt.Fprintf(out, "  %-24s compensation failed: %v\n", cmd.Type, err)
			return nil
		case err != nil:
			return err
		}
		state = decision.State
		if decision.Rejection != nil {
			fmt.Fprintf(out, "  %-24s rejected: %v\n", cmd.Type, decision.Rejection)
			fmt.Fprintf(out, "  compensated steps %v -> %s\n", decision.Compensated, decision.State)
			break
		}
		fmt.Fprintf(out, "  %-24s -> %s\n", cmd.Type, decision.State)
		if state.IsTerminal() {
			break
		}
	}
	return nil
}

func verifyLedger(ledger *bucket.Ledger, out io.Writer) error {
	buckets := ledger.Buckets()
	for _, name := range buckets {
		if err := ledger.Verify(name); err != nil {
			return fmt.Errorf("verify bucket %s: %w", name, err)
		}
	}
	fmt.Fprintf(out, "verified %d bucket chains\n", len(buckets))
	return nil
}

func report(ctx context.Context, st *stores, ids identity.Generator, logger *zap.Logger, out io.Writer) error {
	view := orderstatus.New()
	runner := &projection.Runner{
		Stream:      st.stream,
		Checkpoints: st.checkpoints,
		Content:     st.content,
		Logger:      logger,
	}
	// Persistent checkpoints would skip history this in-memory view has
	// never seen, so the view is always rebuilt. Both streams feed the same
	// view and are rebuilt together.
	results, err := runner.Rebuild(ctx, view, order.AggregateType, saga.AggregateType)
	if err != nil {
		return fmt.Errorf("project %s: %w", view.Name(), err)
	}
	for stream, result := range results {
		logger.Debug("projection rebuilt", zap.String("stream", stream), zap.Int("applied", result.Applied))
	}

	orders := &query.Orders{View: view, Logger: logger}
	resp, err := orders.List(ctx, envelope.NewQuery(ids, query.ListOrders{}))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp.Result)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
