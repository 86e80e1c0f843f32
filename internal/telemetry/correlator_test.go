package telemetry_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/telemetry"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readSpans(t *testing.T, path string) []model.TelemetrySpan {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var spans []model.TelemetrySpan
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var s model.TelemetrySpan
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s), "line: %s", sc.Text())
		spans = append(spans, s)
	}
	require.NoError(t, sc.Err())
	return spans
}

func TestWithSpan_RecordsSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_spans.jsonl")
	spans, err := telemetry.OpenSpanLog(path)
	require.NoError(t, err)
	defer spans.Close()

	cor := telemetry.NewCorrelator(spans, discard())

	err = cor.WithSpan(context.Background(), "submit_work",
		map[string]any{"work_item_id": "work_1"},
		func(ctx context.Context) error {
			assert.NotEmpty(t, telemetry.TraceIDFromContext(ctx), "trace id propagates into the operation")
			return nil
		})
	require.NoError(t, err)

	recs := readSpans(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "submit_work", recs[0].Operation)
	assert.Equal(t, model.SpanOK, recs[0].Status)
	assert.Empty(t, recs[0].ErrorKind)
	assert.NotEmpty(t, recs[0].TraceID)
	assert.NotEmpty(t, recs[0].SpanID)
	assert.False(t, recs[0].EndedAt.Before(recs[0].StartedAt))
	assert.Equal(t, "work_1", recs[0].Attributes["work_item_id"])
}

func TestWithSpan_RecordsErrorKindAndPassesErrorThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_spans.jsonl")
	spans, err := telemetry.OpenSpanLog(path)
	require.NoError(t, err)
	defer spans.Close()

	cor := telemetry.NewCorrelator(spans, discard())

	opErr := coorderr.New(coorderr.KindAlreadyClaimed, "work item %s is not pending", "work_1")
	err = cor.WithSpan(context.Background(), "claim_work", nil, func(ctx context.Context) error {
		return opErr
	})
	require.Error(t, err)
	var ce *coorderr.Error
	require.True(t, errors.As(err, &ce), "error passes through unaltered")
	assert.Equal(t, coorderr.KindAlreadyClaimed, ce.Kind)

	recs := readSpans(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, model.SpanError, recs[0].Status)
	assert.Equal(t, "AlreadyClaimed", recs[0].ErrorKind)
}

func TestWithSpan_PropagatesExplicitTraceID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_spans.jsonl")
	spans, err := telemetry.OpenSpanLog(path)
	require.NoError(t, err)
	defer spans.Close()

	cor := telemetry.NewCorrelator(spans, discard())
	ctx := telemetry.ContextWithTraceID(context.Background(), "trace_fixed")

	require.NoError(t, cor.WithSpan(ctx, "heartbeat", nil, func(ctx context.Context) error { return nil }))

	recs := readSpans(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "trace_fixed", recs[0].TraceID)
}

func TestWithSpan_SpanLogFailureDoesNotFailOperation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry_spans.jsonl")
	spans, err := telemetry.OpenSpanLog(path)
	require.NoError(t, err)
	require.NoError(t, spans.Close()) // closed log: every append fails

	cor := telemetry.NewCorrelator(spans, discard())
	err = cor.WithSpan(context.Background(), "register_agent", nil, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "telemetry failure must not fail the wrapped operation")
}

func TestSpanLog_AppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	l, err := telemetry.OpenSpanLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.Error(t, l.Append(model.TelemetrySpan{TraceID: "t", SpanID: "s", Operation: "x"}))
}

func TestSpanLog_StatusTracksLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	l, err := telemetry.OpenSpanLog(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())
	assert.Equal(t, "ok", l.Status())
	require.NoError(t, l.Close())
	assert.Equal(t, "closed", l.Status())
}
