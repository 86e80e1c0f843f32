package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/coordd/coord/internal/model"
)

// maxSpanBytes bounds one encoded span record. O_APPEND writes of this size
// land as a single contiguous line even with concurrent appenders.
const maxSpanBytes = 1 << 20 // 1 MB

// SpanLog is the append-only, newline-delimited JSON span log under the
// coordination base path. Records are written once and never revised, so a
// plain O_APPEND file handle is the whole concurrency story; the mutex only
// serializes appenders within this process.
type SpanLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenSpanLog opens (creating if necessary) the span log at path.
func OpenSpanLog(path string) (*SpanLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("telemetry: open span log: %w", err)
	}
	return &SpanLog{f: f, path: path}, nil
}

// Append writes one span as a single JSON line.
func (l *SpanLog) Append(span model.TelemetrySpan) error {
	raw, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("telemetry: marshal span: %w", err)
	}
	if len(raw) > maxSpanBytes {
		return fmt.Errorf("telemetry: span record too large (%d bytes, max %d)", len(raw), maxSpanBytes)
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("telemetry: span log is closed")
	}
	if _, err := l.f.Write(raw); err != nil {
		return fmt.Errorf("telemetry: append span: %w", err)
	}
	return nil
}

// Path returns the span log file path.
func (l *SpanLog) Path() string {
	return l.path
}

// Status reports whether the log can accept appends: "ok" while the file
// handle is open, "closed" after Close.
func (l *SpanLog) Status() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return "closed"
	}
	return "ok"
}

// Close closes the underlying file. Further appends fail.
func (l *SpanLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
