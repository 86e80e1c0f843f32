package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordd/coord/internal/engine"
	"github.com/coordd/coord/internal/metrics"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/server"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
	"github.com/coordd/coord/migrations"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := t.TempDir()
	db, err := storage.Open(ctx, filepath.Join(dir, "coordination.db"), 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))

	spans, err := telemetry.OpenSpanLog(filepath.Join(dir, "telemetry_spans.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = spans.Close() })

	eng := engine.New(db, telemetry.NewCorrelator(spans, logger), logger, engine.Config{DefaultCapacity: 5})
	agg := metrics.New(db, 5*time.Minute, logger)

	srv := server.New(server.ServerConfig{
		Engine:              eng,
		Metrics:             agg,
		DB:                  db,
		Logger:              logger,
		Version:             "test",
		Spans:               spans,
		HeartbeatTimeout:    90 * time.Second,
		MaxRequestBodyBytes: 1 * 1024 * 1024,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestRegisterAndDuplicate(t *testing.T) {
	ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodPost, "/v1/agents", model.RegisterAgentRequest{
		AgentID:      "agent_http_1",
		Capabilities: []string{"build"},
	})
	require.Equal(t, http.StatusCreated, status)
	var agent model.Agent
	require.NoError(t, json.Unmarshal(env.Data, &agent))
	assert.Equal(t, model.AgentActive, agent.Status)
	assert.Equal(t, 5, agent.Capacity)
	assert.NotEmpty(t, env.Meta.RequestID)

	status, env = doJSON(t, ts, http.MethodPost, "/v1/agents", model.RegisterAgentRequest{
		AgentID: "agent_http_1",
	})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "DuplicateAgent", env.Error.Code)
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodPost, "/v1/agents/ghost/heartbeat", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AgentNotFound", env.Error.Code)
}

func TestWorkLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/agents", model.RegisterAgentRequest{AgentID: "a1"})
	require.Equal(t, http.StatusCreated, status)

	status, env := doJSON(t, ts, http.MethodPost, "/v1/work", model.SubmitWorkRequest{
		WorkType: "build",
		Priority: model.PriorityHigh,
		Payload:  map[string]any{"target": "x"},
	})
	require.Equal(t, http.StatusCreated, status)
	var item model.WorkItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	require.NotEmpty(t, item.WorkItemID)
	assert.Equal(t, model.WorkPending, item.Status)

	base := "/v1/work/" + item.WorkItemID

	status, env = doJSON(t, ts, http.MethodPost, base+"/claim", model.ClaimWorkRequest{AgentID: "a1"})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, model.WorkClaimed, item.Status)

	// a second claim conflicts.
	status, env = doJSON(t, ts, http.MethodPost, base+"/claim", model.ClaimWorkRequest{AgentID: "a1"})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "AlreadyClaimed", env.Error.Code)

	status, _ = doJSON(t, ts, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, status)

	status, env = doJSON(t, ts, http.MethodPost, base+"/complete", model.ResultRequest{
		Result: map[string]any{"ok": true},
	})
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, model.WorkCompleted, item.Status)

	// completing again is an invalid transition.
	status, env = doJSON(t, ts, http.MethodPost, base+"/complete", model.ResultRequest{})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "InvalidTransition", env.Error.Code)

	status, env = doJSON(t, ts, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, true, item.Result["ok"])
}

func TestListWorkFilter(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		status, _ := doJSON(t, ts, http.MethodPost, "/v1/work", model.SubmitWorkRequest{WorkType: "build"})
		require.Equal(t, http.StatusCreated, status)
	}

	status, env := doJSON(t, ts, http.MethodGet, "/v1/work?status=pending", nil)
	require.Equal(t, http.StatusOK, status)
	var items []model.WorkItem
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 2)

	status, env = doJSON(t, ts, http.MethodGet, "/v1/work?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ValidationFailed", env.Error.Code)
}

func TestGetWorkNotFound(t *testing.T) {
	ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodGet, "/v1/work/work_missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "WorkItemNotFound", env.Error.Code)
}

func TestInvalidBody(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/agents", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, status)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, 1.0, snap.EfficiencyRatio)
	assert.Equal(t, 100.0, snap.HealthScore)
}

func TestLogEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, _ := doJSON(t, ts, http.MethodPost, "/v1/agents", model.RegisterAgentRequest{AgentID: "a1"})
	require.Equal(t, http.StatusCreated, status)

	status, env := doJSON(t, ts, http.MethodGet, "/v1/log?limit=10", nil)
	require.Equal(t, http.StatusOK, status)
	var entries []model.CoordinationLogEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, model.LogOpRegister, entries[0].Operation)
	assert.NotEmpty(t, entries[0].TraceID, "log entries carry the request trace id")

	status, env = doJSON(t, ts, http.MethodGet, "/v1/log?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ValidationFailed", env.Error.Code)
}

func TestReclaimEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodPost, "/v1/reclaim", model.ReclaimRequest{})
	require.Equal(t, http.StatusOK, status)
	var resp model.ReclaimResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Empty(t, resp.Reclaimed)
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var health model.HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "ok", health.Store)
	assert.Equal(t, "ok", health.SpanLog)
}
