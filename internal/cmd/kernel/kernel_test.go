package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection/orderstatus"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
	"go.uber.org/zap"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("AGGKERNEL_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	fs := flag.NewFlagSet("kernel", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Backend)
	}
	if cfg.PaymentLimit != 100000 || !cfg.Snapshots {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.Redis.KeyPrefix != "aggkernel" {
		t.Fatalf("unexpected nested defaults: %+v %+v", cfg.NATS, cfg.Redis)
	}
}

func TestParseConfigReadsDotEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.env")
	if err := os.WriteFile(path, []byte("AGGKERNEL_BACKEND=sqlite\nAGGKERNEL_PAYMENT_LIMIT=77\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("AGGKERNEL_ENV_FILE", path)
	// godotenv sets variables for the process; register cleanups for them.
	t.Setenv("AGGKERNEL_BACKEND", "")
	os.Unsetenv("AGGKERNEL_BACKEND")
	t.Setenv("AGGKERNEL_PAYMENT_LIMIT", "")
	os.Unsetenv("AGGKERNEL_PAYMENT_LIMIT")

	fs := flag.NewFlagSet("kernel", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-sqlite", filepath.Join(t.TempDir(), "k.db")})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != BackendSQLite || cfg.PaymentLimit != 77 {
		t.Fatalf("env file not applied: %+v", cfg)
	}
	if !strings.HasSuffix(cfg.SQLitePath, "k.db") {
		t.Fatalf("flag not applied: %q", cfg.SQLitePath)
	}
}

func TestParseConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("AGGKERNEL_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	fs := flag.NewFlagSet("kernel", flag.ContinueOnError)
	if _, err := ParseConfig(fs, []string{"-backend", "kafka"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(`
sagas:
  - name: quick
    amount: 10
    carrier: ups
    steps: [validate_order, process_payment, ship_order]
`))
	if err != nil {
		t.Fatalf("parse scenario: %v", err)
	}
	cmds, err := sc.Sagas[0].Commands()
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	if len(cmds) != 3 || cmds[1].Amount != 10 || cmds[2].Carrier != "ups" || cmds[0].Type != saga.CommandValidateOrder {
		t.Fatalf("unexpected commands: %+v", cmds)
	}
}

func TestParseScenarioRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"unknown step":  "sagas:\n  - name: x\n    steps: [teleport]\n",
		"unknown field": "sagas:\n  - name: x\n    colour: red\n",
		"empty":         "sagas: []\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseScenario([]byte(raw)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func runDefault(t *testing.T, cfg Config) []orderstatus.View {
	t.Helper()
	cfg.Log.Mode = "dev"
	cfg.Log.Level = "error"
	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	text := out.String()
	if !strings.Contains(text, "verified") {
		t.Fatalf("missing verification line:\n%s", text)
	}
	idx := strings.Index(text, "\n[")
	if idx < 0 {
		t.Fatalf("missing report:\n%s", text)
	}
	var views []orderstatus.View
	if err := json.Unmarshal([]byte(text[idx+1:]), &views); err != nil {
		t.Fatalf("decode report: %v\n%s", err, text)
	}
	return views
}

func outcomes(views []orderstatus.View) map[orderstatus.Outcome]int {
	out := make(map[orderstatus.Outcome]int)
	for _, v := range views {
		out[v.Outcome]++
	}
	return out
}

func TestRunDefaultScenarioInMemory(t *testing.T) {
	views := runDefault(t, Config{Backend: BackendMemory, PaymentLimit: 100000, Snapshots: true})
	if len(views) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(views))
	}
	got := outcomes(views)
	if got[orderstatus.OutcomeCompleted] != 1 || got[orderstatus.OutcomeCompensated] != 2 {
		t.Fatalf("unexpected outcomes: %v", got)
	}
	// Order state comes from the order stream and must survive the saga
	// stream being projected into the same view.
	for _, v := range views {
		want := order.StateCancelled
		wantVersion := uint64(2)
		if v.Outcome == orderstatus.OutcomeCompleted {
			want, wantVersion = order.StateValidated, 1
		}
		if v.State != want || v.Version != wantVersion {
			t.Fatalf("order %s: state=%s version=%d outcome=%s, want state=%s version=%d",
				v.OrderID, v.State, v.Version, v.Outcome, want, wantVersion)
		}
	}
	// Every command of one script shares a transaction, and scripts do not
	// share one with each other.
	correlations := make(map[string]bool)
	for _, v := range views {
		if v.LastCorrelation.IsZero() {
			t.Fatalf("order %s has no correlation", v.OrderID)
		}
		correlations[v.LastCorrelation.String()] = true
	}
	if len(correlations) != len(views) {
		t.Fatalf("expected %d distinct transactions, got %d", len(views), len(correlations))
	}
}

func TestRunWithSQLiteAndPebble(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Backend:      BackendSQLite,
		SQLitePath:   filepath.Join(dir, "kernel.db"),
		ContentPath:  filepath.Join(dir, "content"),
		PaymentLimit: 100000,
		Snapshots:    true,
	}
	if got := len(runDefault(t, cfg)); got != 3 {
		t.Fatalf("first run projected %d orders", got)
	}
	// History persists across runs.
	if got := len(runDefault(t, cfg)); got != 6 {
		t.Fatalf("second run projected %d orders", got)
	}
}

func TestCheckModels(t *testing.T) {
	if err := checkModels(zap.NewNop()); err != nil {
		t.Fatalf("checkModels: %v", err)
	}
}

func TestCheckModelReportsGaps(t *testing.T) {
	alphabet := []payment.Command{{Type: payment.CommandCapture, Amount: 1}}
	err := checkModel[payment.State, payment.Command](zap.NewNop(), payment.AggregateType, payment.Model{}, alphabet)
	if !errors.Is(err, ErrModelUnsound) {
		t.Fatalf("err = %v, want ErrModelUnsound", err)
	}
}
