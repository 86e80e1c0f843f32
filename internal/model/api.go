package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Limits for the open key/value maps (payload, metadata, result). The maps
// are schema-less by design; only size and nesting depth are bounded so a
// single oversized field cannot fill the store with caller-controlled bulk.
const (
	DefaultMaxMapBytes = 256 * 1024
	MaxMapDepth        = 16
)

// ValidateOpenMap checks an open map against the size and depth limits.
// A nil map is valid (absent is not an error).
func ValidateOpenMap(name string, m map[string]any, maxBytes int) error {
	if m == nil {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMapBytes
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%s is not JSON-encodable: %w", name, err)
	}
	if len(raw) > maxBytes {
		return fmt.Errorf("%s exceeds maximum size of %d bytes", name, maxBytes)
	}
	if d := mapDepth(m, 1); d > MaxMapDepth {
		return fmt.Errorf("%s exceeds maximum nesting depth of %d", name, MaxMapDepth)
	}
	return nil
}

func mapDepth(v any, depth int) int {
	if depth > MaxMapDepth {
		return depth
	}
	max := depth
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			if d := mapDepth(child, depth+1); d > max {
				max = d
			}
		}
	case []any:
		for _, child := range t {
			if d := mapDepth(child, depth+1); d > max {
				max = d
			}
		}
	}
	return max
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope. Code carries the error
// kind verbatim for diagnosability.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterAgentRequest is the request body for POST /v1/agents.
type RegisterAgentRequest struct {
	AgentID      string         `json:"agent_id"`
	Team         string         `json:"team,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Capacity     int            `json:"capacity,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UpdateStatusRequest is the request body for POST /v1/agents/{agent_id}/status.
type UpdateStatusRequest struct {
	Status AgentStatus `json:"status"`
}

// SubmitWorkRequest is the request body for POST /v1/work.
type SubmitWorkRequest struct {
	WorkType string         `json:"work_type"`
	Priority Priority       `json:"priority"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// ClaimWorkRequest is the request body for POST /v1/work/{id}/claim.
type ClaimWorkRequest struct {
	AgentID string `json:"agent_id"`
}

// ResultRequest is the request body for complete and fail operations.
type ResultRequest struct {
	Result map[string]any `json:"result,omitempty"`
}

// ReclaimRequest is the request body for POST /v1/reclaim. Timeout is the
// data-level staleness threshold; zero means the server's configured default.
type ReclaimRequest struct {
	Timeout Duration `json:"timeout,omitempty"`
}

// ReclaimResponse reports the items reset to pending.
type ReclaimResponse struct {
	Reclaimed []string `json:"reclaimed"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	SpanLog string `json:"span_log"`
	Uptime  int64  `json:"uptime_seconds"`
}

// Duration is a time.Duration that marshals as a Go duration string
// ("90s", "5m") so thresholds read naturally in JSON and on the CLI.
type Duration time.Duration

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds as a number.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or a number of nanoseconds")
	}
	*d = Duration(n)
	return nil
}
