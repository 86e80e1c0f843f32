package coord

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all overrides after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port             int
	basePath         string
	heartbeatTimeout time.Duration
	logger           *slog.Logger
	version          string
}

// WithPort overrides the TCP port from config (COORD_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithBasePath overrides the coordination base path from config
// (COORD_BASE_PATH env var). The directory is created if missing.
func WithBasePath(path string) Option {
	return func(o *resolvedOptions) { o.basePath = path }
}

// WithHeartbeatTimeout overrides the staleness threshold used by the
// reclamation sweep (COORD_HEARTBEAT_TIMEOUT env var).
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.heartbeatTimeout = d }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
