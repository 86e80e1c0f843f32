package model

import "time"

// CoordinationLogEntry is an append-only audit record of one accepted
// mutation: who performed it, what it touched, when, and under which trace.
// Entries are never updated or deleted; Seq preserves commit order.
type CoordinationLogEntry struct {
	Seq        int64     `json:"seq"`
	Operation  string    `json:"operation"`
	AgentID    string    `json:"agent_id,omitempty"`
	WorkItemID string    `json:"work_item_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	TraceID    string    `json:"trace_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Log operation tags. "reclaimed" marks the single permitted state
// regression so auditors can distinguish it from a fresh submit.
const (
	LogOpRegister     = "register_agent"
	LogOpUpdateStatus = "update_status"
	LogOpSubmit       = "submit_work"
	LogOpClaim        = "claim_work"
	LogOpStart        = "start_work"
	LogOpComplete     = "complete_work"
	LogOpFail         = "fail_work"
	LogOpReclaimed    = "reclaimed"
)
