package model

import (
	"fmt"
	"time"
)

// Priority orders work items for external schedulers. The engine itself does
// not schedule; it only stores and exposes the field.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// WorkStatus represents the lifecycle state of a work item.
type WorkStatus string

const (
	WorkPending    WorkStatus = "pending"
	WorkClaimed    WorkStatus = "claimed"
	WorkInProgress WorkStatus = "in_progress"
	WorkCompleted  WorkStatus = "completed"
	WorkFailed     WorkStatus = "failed"
)

// ValidWorkStatus reports whether s is one of the known work states.
func ValidWorkStatus(s WorkStatus) bool {
	switch s {
	case WorkPending, WorkClaimed, WorkInProgress, WorkCompleted, WorkFailed:
		return true
	}
	return false
}

// StatusRank returns the position of a work state in the forward ordering
// pending < claimed < in_progress < {completed, failed}. Terminal states
// share the highest rank. Unknown states rank -1.
func StatusRank(s WorkStatus) int {
	switch s {
	case WorkPending:
		return 0
	case WorkClaimed:
		return 1
	case WorkInProgress:
		return 2
	case WorkCompleted, WorkFailed:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether s is a terminal work state.
func (s WorkStatus) Terminal() bool {
	return s == WorkCompleted || s == WorkFailed
}

// WorkItem is a unit of work progressing through the state machine
// pending → claimed → in_progress → completed, with claimed|in_progress →
// failed as the alternate terminal path. The only permitted regression is
// heartbeat-timeout reclamation back to pending with ClaimedBy cleared.
//
// Invariant: Status == pending implies ClaimedBy == nil, and at most one
// agent ever holds ClaimedBy for a given item.
type WorkItem struct {
	WorkItemID  string         `json:"work_item_id"`
	WorkType    string         `json:"work_type"`
	Priority    Priority       `json:"priority"`
	Status      WorkStatus     `json:"status"`
	ClaimedBy   *string        `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ValidateWorkType checks that a work type is non-empty and of bounded
// length. Work types are free-form otherwise: the payload is the contract
// between submitter and worker, not the engine's concern.
func ValidateWorkType(wt string) error {
	if len(wt) == 0 {
		return fmt.Errorf("work_type is required")
	}
	if len(wt) > 200 {
		return fmt.Errorf("work_type must be at most 200 characters")
	}
	return nil
}
