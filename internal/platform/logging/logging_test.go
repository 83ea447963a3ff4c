package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewBuildsForEachMode(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "PRODUCTION", ""} {
		logger, err := New(Config{Mode: mode, Level: "debug"})
		if err != nil {
			t.Fatalf("new %q: %v", mode, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("mode %q: expected debug enabled", mode)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected level parse error")
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	level, err := ParseLevel(" ")
	if err != nil {
		t.Fatalf("parse level: %v", err)
	}
	if level != zapcore.InfoLevel {
		t.Fatalf("level = %v, want info", level)
	}
	level, err = ParseLevel("WARN")
	if err != nil || level != zapcore.WarnLevel {
		t.Fatalf("parse WARN = %v, %v", level, err)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
	logger := Nop()
	if OrNop(logger) != logger {
		t.Fatal("expected same logger back")
	}
}
