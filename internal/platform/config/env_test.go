package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port int `env:"TAROT_SPACE_TEST_PORT" envDefault:"123"`
}

type prefixedTestConfig struct {
	Addr    string        `env:"ADDR" envDefault:":9000"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TAROT_SPACE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvPrefixed(t *testing.T) {
	t.Setenv("TAROT_SPACE_UNIT_TIMEOUT", "750ms")

	var cfg prefixedTestConfig
	if err := ParseEnvPrefixed(&cfg, Prefix+"UNIT_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.Timeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms timeout, got %s", cfg.Timeout)
	}
}
