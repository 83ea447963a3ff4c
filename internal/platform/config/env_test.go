package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Backend string `env:"AGGKERNEL_TEST_BACKEND" envDefault:"memory"`
	Limit   int    `env:"AGGKERNEL_TEST_LIMIT" envDefault:"123"`
}

type prefixedTestConfig struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
	Limit   int    `env:"LIMIT" envDefault:"10"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Limit != 123 {
		t.Fatalf("expected default limit 123, got %d", cfg.Limit)
	}
	if cfg.Backend != "memory" {
		t.Fatalf("expected default backend memory, got %q", cfg.Backend)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("AGGKERNEL_TEST_LIMIT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvPrefixedReadsPrefixedNames(t *testing.T) {
	t.Setenv("AGGKERNEL_TESTP_BACKEND", "sqlite")
	t.Setenv("AGGKERNEL_TESTP_LIMIT", "42")

	var cfg prefixedTestConfig
	if err := ParseEnvPrefixed(&cfg, EnvPrefix+"TESTP_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Backend != "sqlite" || cfg.Limit != 42 {
		t.Fatalf("cfg = %+v, want sqlite/42", cfg)
	}
}

func TestParseEnvPrefixedErrorNamesPrefix(t *testing.T) {
	t.Setenv("AGGKERNEL_TESTQ_LIMIT", "nope")

	var cfg prefixedTestConfig
	err := ParseEnvPrefixed(&cfg, "AGGKERNEL_TESTQ_")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "AGGKERNEL_TESTQ_*") {
		t.Fatalf("expected prefix in error, got %v", err)
	}
}
