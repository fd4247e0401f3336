package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port          int           `env:"TEST_PORT" envDefault:"123"`
	SweepInterval time.Duration `env:"TEST_SWEEP_INTERVAL" envDefault:"30m"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.SweepInterval != 30*time.Minute {
		t.Fatalf("expected default sweep interval 30m, got %v", cfg.SweepInterval)
	}
}

func TestParseEnvUsesPrefix(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TABLECACHE_TEST_PORT", "9000")
	t.Setenv("TEST_PORT", "1")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected prefixed port 9000, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TABLECACHE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
