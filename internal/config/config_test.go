package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvStr(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	if v := envStr("TEST_STR", "fallback"); v != "hello" {
		t.Fatalf("expected hello, got %s", v)
	}
	if v := envStr("TEST_STR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for unparseable value, got %d", v)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !envBool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if envBool("TEST_BOOL_BAD", false) {
		t.Fatal("expected fallback false for unparseable value")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	if v := envDuration("TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	if v := envDuration("TEST_DUR_MISSING", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8090 {
		t.Fatalf("expected default port 8090, got %d", cfg.Port)
	}
	if cfg.HeartbeatTimeout != 90*time.Second {
		t.Fatalf("expected default heartbeat timeout 90s, got %s", cfg.HeartbeatTimeout)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty base path", func(c *Config) { c.BasePath = "" }, "COORD_BASE_PATH"},
		{"bad port", func(c *Config) { c.Port = 0 }, "COORD_PORT"},
		{"zero heartbeat timeout", func(c *Config) { c.HeartbeatTimeout = 0 }, "COORD_HEARTBEAT_TIMEOUT"},
		{"negative reclaim interval", func(c *Config) { c.ReclaimInterval = -time.Second }, "COORD_RECLAIM_INTERVAL"},
		{"zero capacity", func(c *Config) { c.DefaultCapacity = 0 }, "COORD_DEFAULT_CAPACITY"},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }, "COORD_MAX_BODY_BYTES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected Validate() to fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error should mention %s, got: %v", tc.want, err)
			}
		})
	}
}
