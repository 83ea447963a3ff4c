// Package kernel runs order saga scenarios against a configured storage
// stack and reports the resulting read model.
package kernel

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/louisbranch/aggkernel/internal/platform/config"
	"github.com/louisbranch/aggkernel/internal/platform/logging"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/natsstream"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/redisstore"
)

// Stream backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendJetStream = "jetstream"
)

// Config holds kernel command configuration. Variables carry the
// AGGKERNEL_ prefix.
type Config struct {
	Backend    string `env:"BACKEND"     envDefault:"memory"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"aggkernel.db"`
	// ContentPath enables the Pebble content store when set.
	ContentPath  string            `env:"CONTENT_PATH"`
	Scenario     string            `env:"SCENARIO_FILE"`
	PaymentLimit int64             `env:"PAYMENT_LIMIT" envDefault:"100000"`
	MetricsAddr  string            `env:"METRICS_ADDR"`
	Snapshots    bool              `env:"SNAPSHOTS"     envDefault:"true"`
	NATS         natsstream.Config `envPrefix:"NATS_"`
	// Redis.Addr enables Redis checkpoints when set.
	Redis redisstore.Config `envPrefix:"REDIS_"`
	Log   logging.Config    `envPrefix:"LOG_"`
}

// ParseConfig reads a .env file when present, then the environment, then
// flags.
func ParseConfig(fset *flag.FlagSet, args []string) (Config, error) {
	if err := loadDotEnv(os.Getenv(config.EnvPrefix + "ENV_FILE")); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, config.EnvPrefix); err != nil {
		return Config{}, err
	}

	fset.StringVar(&cfg.Backend, "backend", cfg.Backend, "stream backend: memory, sqlite or jetstream")
	fset.StringVar(&cfg.SQLitePath, "sqlite", cfg.SQLitePath, "sqlite database path")
	fset.StringVar(&cfg.ContentPath, "content", cfg.ContentPath, "pebble content store directory")
	fset.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "path to a YAML scenario file")
	fset.Int64Var(&cfg.PaymentLimit, "payment-limit", cfg.PaymentLimit, "largest capturable amount, 0 for unbounded")
	fset.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address while running")
	fset.StringVar(&cfg.NATS.URL, "nats-url", cfg.NATS.URL, "NATS server URL")
	fset.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address for projection checkpoints")
	fset.StringVar(&cfg.Log.Mode, "log-mode", cfg.Log.Mode, "log mode: dev or prod")
	fset.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case BackendMemory, BackendJetStream:
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.PaymentLimit < 0 {
		return errors.New("payment limit must not be negative")
	}
	return nil
}

// loadDotEnv loads path, defaulting to ".env". A missing file is not an
// error. Variables already set win.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
