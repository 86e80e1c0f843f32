package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/identity"
	"github.com/coordd/coord/internal/model"
)

type contextKey string

const contextKeyTraceID contextKey = "coord_trace_id"

// ContextWithTraceID attaches an explicit trace ID for propagation into
// spans recorded below this point.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKeyTraceID, traceID)
}

// TraceIDFromContext extracts a previously attached trace ID, if any.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return v
	}
	return ""
}

// Correlator wraps engine operations with trace/span correlation. Every
// wrapped call appends exactly one record to the span log; append failures
// are logged and never fail the wrapped operation.
type Correlator struct {
	spans  *SpanLog
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time
}

// NewCorrelator creates a Correlator writing to spans. spans may be nil, in
// which case only OTEL instrumentation happens (used in tests).
func NewCorrelator(spans *SpanLog, logger *slog.Logger) *Correlator {
	return &Correlator{
		spans:  spans,
		tracer: otel.Tracer("coord/engine"),
		logger: logger,
		now:    time.Now,
	}
}

// WithSpan runs fn under a correlated span named after operation. The trace
// ID is taken from the incoming context (an OTEL span context or an
// explicitly attached ID); if neither is present a fresh one is generated,
// so every operation is traceable even when invoked from a bare CLI call.
// The error returned by fn passes through unaltered; its kind is recorded
// as a span attribute.
func (c *Correlator) WithSpan(ctx context.Context, operation string, attrs map[string]any, fn func(ctx context.Context) error) error {
	start := c.now().UTC()

	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String("coord."+k, stringify(v)))
	}
	ctx, span := c.tracer.Start(ctx, operation, trace.WithAttributes(otelAttrs...))
	defer span.End()

	traceID, spanID := c.identify(ctx, span)
	ctx = ContextWithTraceID(ctx, traceID)

	err := fn(ctx)
	end := c.now().UTC()

	rec := model.TelemetrySpan{
		TraceID:    traceID,
		SpanID:     spanID,
		Operation:  operation,
		Status:     model.SpanOK,
		StartedAt:  start,
		EndedAt:    end,
		Attributes: attrs,
	}
	if err != nil {
		kind, _ := coorderr.KindOf(err)
		rec.Status = model.SpanError
		rec.ErrorKind = string(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if c.spans != nil {
		if aerr := c.spans.Append(rec); aerr != nil {
			c.logger.Warn("span log append failed", "operation", operation, "error", aerr)
		}
	}
	return err
}

// identify resolves the trace/span IDs for a record: a recording OTEL span
// wins, then an explicitly attached trace ID, then fresh random IDs.
func (c *Correlator) identify(ctx context.Context, span trace.Span) (traceID, spanID string) {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String(), sc.SpanID().String()
	}
	if tid := TraceIDFromContext(ctx); tid != "" {
		return tid, identity.NewToken(8)
	}
	return identity.NewToken(16), identity.NewToken(8)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
