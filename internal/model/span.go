package model

import "time"

// SpanStatus represents the outcome of a correlated operation.
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
)

// TelemetrySpan correlates one coordination operation: trace/span identity,
// timing, outcome, and open attributes. Written once to the span log, never
// mutated; the engine never reads spans back.
type TelemetrySpan struct {
	TraceID    string         `json:"trace_id"`
	SpanID     string         `json:"span_id"`
	Operation  string         `json:"operation"`
	Status     SpanStatus     `json:"status"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
