package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coordd/coord/internal/engine"
	"github.com/coordd/coord/internal/metrics"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
)

// Server is the coordination HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Engine  *engine.Engine
	Metrics *metrics.Aggregator
	DB      *storage.DB
	Logger  *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	Spans               *telemetry.SpanLog
	HeartbeatTimeout    time.Duration
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:           cfg.Engine,
		Metrics:          cfg.Metrics,
		DB:               cfg.DB,
		Logger:           cfg.Logger,
		Version:          cfg.Version,
		Spans:            cfg.Spans,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		MaxBodyBytes:     cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Agent lifecycle.
	mux.HandleFunc("POST /v1/agents", h.HandleRegisterAgent)
	mux.HandleFunc("GET /v1/agents", h.HandleListAgents)
	mux.HandleFunc("POST /v1/agents/{agent_id}/heartbeat", h.HandleHeartbeat)
	mux.HandleFunc("POST /v1/agents/{agent_id}/status", h.HandleUpdateStatus)

	// Work lifecycle.
	mux.HandleFunc("POST /v1/work", h.HandleSubmitWork)
	mux.HandleFunc("GET /v1/work", h.HandleListWork)
	mux.HandleFunc("GET /v1/work/{work_item_id}", h.HandleGetWork)
	mux.HandleFunc("POST /v1/work/{work_item_id}/claim", h.HandleClaimWork)
	mux.HandleFunc("POST /v1/work/{work_item_id}/start", h.HandleStartWork)
	mux.HandleFunc("POST /v1/work/{work_item_id}/complete", h.HandleCompleteWork)
	mux.HandleFunc("POST /v1/work/{work_item_id}/fail", h.HandleFailWork)

	// Reclamation, observability.
	mux.HandleFunc("POST /v1/reclaim", h.HandleReclaim)
	mux.HandleFunc("GET /v1/status", h.HandleStatus)
	mux.HandleFunc("GET /v1/log", h.HandleListLog)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
