// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Store settings. BasePath is the directory holding the coordination
	// database and the telemetry span log.
	BasePath    string
	BusyTimeout time.Duration

	// Coordination settings.
	HeartbeatTimeout time.Duration // staleness threshold for reclamation
	ReclaimInterval  time.Duration // how often the server sweeps for abandoned claims
	DefaultCapacity  int           // capacity assigned to agents that register without one
	MetricsFreshness time.Duration // heartbeat window for counting an agent as active

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // maximum HTTP request body size in bytes
	MaxPayloadBytes     int   // maximum encoded payload/metadata/result size
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("COORD_PORT", 8090),
		ReadTimeout:         envDuration("COORD_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("COORD_WRITE_TIMEOUT", 30*time.Second),
		BasePath:            envStr("COORD_BASE_PATH", "./coordination"),
		BusyTimeout:         envDuration("COORD_BUSY_TIMEOUT", 5*time.Second),
		HeartbeatTimeout:    envDuration("COORD_HEARTBEAT_TIMEOUT", 90*time.Second),
		ReclaimInterval:     envDuration("COORD_RECLAIM_INTERVAL", 30*time.Second),
		DefaultCapacity:     envInt("COORD_DEFAULT_CAPACITY", 5),
		MetricsFreshness:    envDuration("COORD_METRICS_FRESHNESS", 5*time.Minute),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "coord"),
		LogLevel:            envStr("COORD_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("COORD_MAX_BODY_BYTES", 1*1024*1024)),
		MaxPayloadBytes:     envInt("COORD_MAX_PAYLOAD_BYTES", 256*1024),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("config: COORD_BASE_PATH is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: COORD_PORT must be in 1..65535")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: COORD_HEARTBEAT_TIMEOUT must be positive")
	}
	if c.ReclaimInterval < 0 {
		return fmt.Errorf("config: COORD_RECLAIM_INTERVAL must not be negative (0 disables the sweep)")
	}
	if c.DefaultCapacity <= 0 {
		return fmt.Errorf("config: COORD_DEFAULT_CAPACITY must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: COORD_MAX_BODY_BYTES must be positive")
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("config: COORD_MAX_PAYLOAD_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
