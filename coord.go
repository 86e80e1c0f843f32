// Package coord is the public API for embedding the coordination server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := coord.New(
//	    coord.WithVersion(version),
//	    coord.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: coord (root) imports
// internal/*, but internal/* never imports coord (root).
package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/coordd/coord/internal/config"
	"github.com/coordd/coord/internal/engine"
	"github.com/coordd/coord/internal/metrics"
	"github.com/coordd/coord/internal/server"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
	"github.com/coordd/coord/migrations"
)

// App is the coordination server lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	spans        *telemetry.SpanLog
	eng          *engine.Engine
	agg          *metrics.Aggregator
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the coordination server. It opens the store under the
// configured base path, runs migrations, and wires all subsystems. It does
// NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.basePath != "" {
		cfg.BasePath = o.basePath
	}
	if o.heartbeatTimeout != 0 {
		cfg.HeartbeatTimeout = o.heartbeatTimeout
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("coord starting", "version", version, "port", cfg.Port, "base_path", cfg.BasePath)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if err := os.MkdirAll(cfg.BasePath, 0o750); err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("base path: %w", err)
	}

	db, err := storage.Open(context.Background(), filepath.Join(cfg.BasePath, "coordination.db"), cfg.BusyTimeout, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	spans, err := telemetry.OpenSpanLog(filepath.Join(cfg.BasePath, "telemetry_spans.jsonl"))
	if err != nil {
		_ = db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("span log: %w", err)
	}

	eng := engine.New(db, telemetry.NewCorrelator(spans, logger), logger, engine.Config{
		DefaultCapacity: cfg.DefaultCapacity,
		MaxMapBytes:     cfg.MaxPayloadBytes,
	})

	agg := metrics.New(db, cfg.MetricsFreshness, logger)
	if err := agg.RegisterObservers(telemetry.Meter("coord/metrics")); err != nil {
		logger.Warn("metrics gauges not registered", "error", err)
	}

	srv := server.New(server.ServerConfig{
		Engine:              eng,
		Metrics:             agg,
		DB:                  db,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		Spans:               spans,
		HeartbeatTimeout:    cfg.HeartbeatTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		spans:        spans,
		eng:          eng,
		agg:          agg,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Engine exposes the coordination engine for embedding consumers that want
// to invoke operations in-process instead of over HTTP.
func (a *App) Engine() *engine.Engine {
	return a.eng
}

// Run starts the reclamation loop and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown is called
// automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	go a.reclaimLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// reclaimLoop periodically sweeps for abandoned claims. Sweep failures are
// logged and retried on the next tick; a momentarily locked store must not
// kill the loop.
func (a *App) reclaimLoop(ctx context.Context) {
	if a.cfg.ReclaimInterval <= 0 {
		a.logger.Info("reclaim sweep disabled")
		return
	}
	ticker := time.NewTicker(a.cfg.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := storage.WithRetry(ctx, 2, 100*time.Millisecond, func() error {
				_, err := a.eng.ReclaimAbandoned(ctx, a.cfg.HeartbeatTimeout)
				return err
			})
			if err != nil {
				a.logger.Warn("reclaim sweep failed", "error", err)
			}
		}
	}
}

// Shutdown performs a phased graceful shutdown: stop accepting HTTP requests
// and drain in-flight, then close the span log, the store, and the OTEL
// provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("coord shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if err := a.spans.Close(); err != nil {
		a.logger.Error("span log close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}
	if err := a.otelShutdown(ctx); err != nil {
		a.logger.Error("otel shutdown error", "error", err)
	}

	a.logger.Info("coord shutdown complete")
	return nil
}
