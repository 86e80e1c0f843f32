package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/engine"
	"github.com/coordd/coord/internal/metrics"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	engine  *engine.Engine
	metrics *metrics.Aggregator
	db      *storage.DB
	logger  *slog.Logger

	version          string
	spans            *telemetry.SpanLog
	heartbeatTimeout time.Duration // default staleness threshold for reclaim
	maxBodyBytes     int64
	startedAt        time.Time
}

// HandlersDeps holds the dependencies for NewHandlers.
type HandlersDeps struct {
	Engine           *engine.Engine
	Metrics          *metrics.Aggregator
	DB               *storage.DB
	Logger           *slog.Logger
	Version          string
	Spans            *telemetry.SpanLog
	HeartbeatTimeout time.Duration
	MaxBodyBytes     int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		engine:           deps.Engine,
		metrics:          deps.Metrics,
		db:               deps.DB,
		logger:           deps.Logger,
		version:          deps.Version,
		spans:            deps.Spans,
		heartbeatTimeout: deps.HeartbeatTimeout,
		maxBodyBytes:     deps.MaxBodyBytes,
		startedAt:        time.Now(),
	}
}

// statusForKind maps an error kind to its stable HTTP status.
func statusForKind(kind coorderr.Kind) int {
	switch kind {
	case coorderr.KindValidationFailed:
		return http.StatusBadRequest
	case coorderr.KindAgentNotFound, coorderr.KindWorkItemNotFound:
		return http.StatusNotFound
	case coorderr.KindDuplicateAgent, coorderr.KindAlreadyClaimed,
		coorderr.KindInvalidTransition, coorderr.KindAgentOverCapacity:
		return http.StatusConflict
	case coorderr.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError surfaces the error kind verbatim in the response body.
func (h *Handlers) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := coorderr.KindOf(err)
	if !ok {
		h.logger.Error("unclassified error", "error", err, "path", r.URL.Path)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeError(w, r, statusForKind(kind), string(kind), err.Error())
}

// decodeBody decodes a size-limited JSON request body.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if h.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	if err := decodeJSON(r, target); err != nil {
		writeError(w, r, http.StatusBadRequest, string(coorderr.KindValidationFailed),
			"invalid request body: "+err.Error())
		return false
	}
	return true
}

// HandleRegisterAgent handles POST /v1/agents.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	agent, err := h.engine.RegisterAgent(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, agent)
}

// HandleListAgents handles GET /v1/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.engine.ListAgents(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, agents)
}

// HandleHeartbeat handles POST /v1/agents/{agent_id}/heartbeat.
func (h *Handlers) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	if err := h.engine.Heartbeat(r.Context(), agentID); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"agent_id": agentID, "status": "ok"})
}

// HandleUpdateStatus handles POST /v1/agents/{agent_id}/status.
func (h *Handlers) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	var req model.UpdateStatusRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.UpdateStatus(r.Context(), agentID, req.Status); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"agent_id": agentID, "status": string(req.Status)})
}

// HandleSubmitWork handles POST /v1/work.
func (h *Handlers) HandleSubmitWork(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitWorkRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.engine.SubmitWork(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, item)
}

// HandleListWork handles GET /v1/work with an optional status filter.
func (h *Handlers) HandleListWork(w http.ResponseWriter, r *http.Request) {
	status := model.WorkStatus(r.URL.Query().Get("status"))
	items, err := h.engine.ListWork(r.Context(), status)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, items)
}

// HandleGetWork handles GET /v1/work/{work_item_id}.
func (h *Handlers) HandleGetWork(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.GetWork(r.Context(), r.PathValue("work_item_id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleClaimWork handles POST /v1/work/{work_item_id}/claim.
func (h *Handlers) HandleClaimWork(w http.ResponseWriter, r *http.Request) {
	var req model.ClaimWorkRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.engine.ClaimWork(r.Context(), r.PathValue("work_item_id"), req.AgentID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleStartWork handles POST /v1/work/{work_item_id}/start.
func (h *Handlers) HandleStartWork(w http.ResponseWriter, r *http.Request) {
	item, err := h.engine.StartWork(r.Context(), r.PathValue("work_item_id"))
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleCompleteWork handles POST /v1/work/{work_item_id}/complete.
func (h *Handlers) HandleCompleteWork(w http.ResponseWriter, r *http.Request) {
	var req model.ResultRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.engine.CompleteWork(r.Context(), r.PathValue("work_item_id"), req.Result)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleFailWork handles POST /v1/work/{work_item_id}/fail.
func (h *Handlers) HandleFailWork(w http.ResponseWriter, r *http.Request) {
	var req model.ResultRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	item, err := h.engine.FailWork(r.Context(), r.PathValue("work_item_id"), req.Result)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, item)
}

// HandleReclaim handles POST /v1/reclaim. Timeout defaults to the configured
// heartbeat threshold when the body omits it.
func (h *Handlers) HandleReclaim(w http.ResponseWriter, r *http.Request) {
	var req model.ReclaimRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	timeout := time.Duration(req.Timeout)
	if timeout == 0 {
		timeout = h.heartbeatTimeout
	}
	reclaimed, err := h.engine.ReclaimAbandoned(r.Context(), timeout)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if reclaimed == nil {
		reclaimed = []string{}
	}
	writeJSON(w, r, http.StatusOK, model.ReclaimResponse{Reclaimed: reclaimed})
}

// HandleStatus handles GET /v1/status with the metrics snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.metrics.Snapshot(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// HandleListLog handles GET /v1/log with an optional limit parameter.
func (h *Handlers) HandleListLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, string(coorderr.KindValidationFailed),
				"limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.engine.ListLog(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	overall, store, status := "ok", "ok", http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		overall, store, status = "degraded", "unavailable", http.StatusServiceUnavailable
	}
	spanLog := "disabled"
	if h.spans != nil {
		spanLog = h.spans.Status()
	}
	writeJSON(w, r, status, model.HealthResponse{
		Status:  overall,
		Version: h.version,
		Store:   store,
		SpanLog: spanLog,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}
