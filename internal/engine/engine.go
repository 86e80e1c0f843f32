// Package engine implements the coordination engine: agent registration and
// heartbeat, work submission, atomic claim, lifecycle transitions, and
// abandoned-work reclamation.
//
// The engine is the only writer to the coordination store. Every mutating
// operation runs as one short transaction that re-reads current state,
// validates the transition, writes, and appends a coordination log entry —
// all inside the store's exclusive section, which is what makes two
// concurrent claims on the same item impossible. Operations return typed
// error kinds and never panic across the package boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/identity"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
)

// Config holds engine tunables supplied from external configuration.
type Config struct {
	// DefaultCapacity is assigned to agents that register without an
	// explicit concurrent-claim bound.
	DefaultCapacity int
	// MaxMapBytes bounds the encoded size of payload/metadata/result maps.
	MaxMapBytes int
}

// Engine coordinates agents and work items over the shared store.
type Engine struct {
	db     *storage.DB
	cor    *telemetry.Correlator
	logger *slog.Logger
	cfg    Config

	now func() time.Time // injectable clock for tests
}

// New creates an Engine. cor must not be nil; use a correlator with a nil
// span log to disable span recording.
func New(db *storage.DB, cor *telemetry.Correlator, logger *slog.Logger, cfg Config) *Engine {
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 5
	}
	if cfg.MaxMapBytes <= 0 {
		cfg.MaxMapBytes = model.DefaultMaxMapBytes
	}
	return &Engine{db: db, cor: cor, logger: logger, cfg: cfg, now: time.Now}
}

// storeErr converts an infrastructure error into the transient kind unless
// a kind was already assigned inside the transaction.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := coorderr.KindOf(err); ok {
		return err
	}
	return coorderr.Wrap(coorderr.KindStoreUnavailable, err, "%s", op)
}

// RegisterAgent creates a new agent with status=active. Fails with
// DuplicateAgent if the agent_id is already registered.
func (e *Engine) RegisterAgent(ctx context.Context, req model.RegisterAgentRequest) (model.Agent, error) {
	var agent model.Agent
	err := e.cor.WithSpan(ctx, "register_agent",
		map[string]any{"agent_id": req.AgentID},
		func(ctx context.Context) error {
			if err := model.ValidateAgentID(req.AgentID); err != nil {
				return coorderr.Wrap(coorderr.KindValidationFailed, err, "register_agent")
			}
			for _, c := range req.Capabilities {
				if err := model.ValidateCapability(c); err != nil {
					return coorderr.Wrap(coorderr.KindValidationFailed, err, "register_agent")
				}
			}
			if err := model.ValidateOpenMap("metadata", req.Metadata, e.cfg.MaxMapBytes); err != nil {
				return coorderr.Wrap(coorderr.KindValidationFailed, err, "register_agent")
			}
			if req.Capacity < 0 {
				return coorderr.New(coorderr.KindValidationFailed, "capacity must not be negative")
			}

			capacity := req.Capacity
			if capacity == 0 {
				capacity = e.cfg.DefaultCapacity
			}
			now := e.now().UTC()
			agent = model.Agent{
				AgentID:       req.AgentID,
				Team:          req.Team,
				Status:        model.AgentActive,
				Capabilities:  req.Capabilities,
				Capacity:      capacity,
				LastHeartbeat: now,
				Metadata:      req.Metadata,
				RegisteredAt:  now,
			}

			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				exists, err := tx.AgentExists(ctx, req.AgentID)
				if err != nil {
					return err
				}
				if exists {
					return coorderr.New(coorderr.KindDuplicateAgent, "agent %s is already registered", req.AgentID)
				}
				if err := tx.InsertAgent(ctx, agent); err != nil {
					return err
				}
				return tx.AppendLog(ctx, model.CoordinationLogEntry{
					Operation:  model.LogOpRegister,
					AgentID:    req.AgentID,
					Detail:     fmt.Sprintf("capacity=%d capabilities=%d", capacity, len(req.Capabilities)),
					TraceID:    telemetry.TraceIDFromContext(ctx),
					RecordedAt: now,
				})
			})
			return storeErr(err, "register_agent")
		})
	if err != nil {
		return model.Agent{}, err
	}
	e.logger.Info("agent registered", "agent_id", agent.AgentID, "capacity", agent.Capacity)
	return agent, nil
}

// Heartbeat updates the agent's last_heartbeat to now and resets its status
// to active. Heartbeats are idempotent last-write-wins updates on the
// agent's own row; they bypass the exclusive claim section.
func (e *Engine) Heartbeat(ctx context.Context, agentID string) error {
	return e.cor.WithSpan(ctx, "heartbeat",
		map[string]any{"agent_id": agentID},
		func(ctx context.Context) error {
			err := e.db.Heartbeat(ctx, agentID, e.now().UTC())
			if errors.Is(err, storage.ErrNotFound) {
				return coorderr.New(coorderr.KindAgentNotFound, "agent %s is not registered", agentID)
			}
			return storeErr(err, "heartbeat")
		})
}

// UpdateStatus sets an agent's status to one of the known states. Issued by
// the agent itself; the engine records it in the coordination log.
func (e *Engine) UpdateStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	return e.cor.WithSpan(ctx, "update_status",
		map[string]any{"agent_id": agentID, "status": string(status)},
		func(ctx context.Context) error {
			if !model.ValidAgentStatus(status) {
				return coorderr.New(coorderr.KindValidationFailed, "unknown agent status %q", status)
			}
			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				if err := tx.SetAgentStatus(ctx, agentID, status); err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return coorderr.New(coorderr.KindAgentNotFound, "agent %s is not registered", agentID)
					}
					return err
				}
				return tx.AppendLog(ctx, model.CoordinationLogEntry{
					Operation:  model.LogOpUpdateStatus,
					AgentID:    agentID,
					Detail:     string(status),
					TraceID:    telemetry.TraceIDFromContext(ctx),
					RecordedAt: e.now().UTC(),
				})
			})
			return storeErr(err, "update_status")
		})
}

// SubmitWork creates a pending work item. It validates required fields only;
// the payload is an opaque map bounded by size and depth, not structure.
func (e *Engine) SubmitWork(ctx context.Context, req model.SubmitWorkRequest) (model.WorkItem, error) {
	var item model.WorkItem
	err := e.cor.WithSpan(ctx, "submit_work",
		map[string]any{"work_type": req.WorkType, "priority": string(req.Priority)},
		func(ctx context.Context) error {
			if err := model.ValidateWorkType(req.WorkType); err != nil {
				return coorderr.Wrap(coorderr.KindValidationFailed, err, "submit_work")
			}
			priority := req.Priority
			if priority == "" {
				priority = model.PriorityMedium
			}
			if !model.ValidPriority(priority) {
				return coorderr.New(coorderr.KindValidationFailed, "unknown priority %q", req.Priority)
			}
			if err := model.ValidateOpenMap("payload", req.Payload, e.cfg.MaxMapBytes); err != nil {
				return coorderr.Wrap(coorderr.KindValidationFailed, err, "submit_work")
			}

			now := e.now().UTC()
			item = model.WorkItem{
				WorkItemID:  identity.New("work"),
				WorkType:    req.WorkType,
				Priority:    priority,
				Status:      model.WorkPending,
				Payload:     req.Payload,
				SubmittedAt: now,
			}

			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				if err := tx.InsertWorkItem(ctx, item); err != nil {
					return err
				}
				return tx.AppendLog(ctx, model.CoordinationLogEntry{
					Operation:  model.LogOpSubmit,
					WorkItemID: item.WorkItemID,
					Detail:     req.WorkType,
					TraceID:    telemetry.TraceIDFromContext(ctx),
					RecordedAt: now,
				})
			})
			return storeErr(err, "submit_work")
		})
	if err != nil {
		return model.WorkItem{}, err
	}
	return item, nil
}

// ClaimWork atomically assigns a pending work item to an agent. The whole
// check-and-set runs inside one immediate transaction: re-read the item,
// verify it is still pending, verify the agent exists and has spare
// capacity, then write the claim and bump the agent's workload. Any
// concurrent claim on the same item serializes behind the transaction and
// observes status != pending.
func (e *Engine) ClaimWork(ctx context.Context, workItemID, agentID string) (model.WorkItem, error) {
	var item model.WorkItem
	err := e.cor.WithSpan(ctx, "claim_work",
		map[string]any{"work_item_id": workItemID, "agent_id": agentID},
		func(ctx context.Context) error {
			now := e.now().UTC()
			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				w, err := tx.GetWorkItem(ctx, workItemID)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return coorderr.New(coorderr.KindWorkItemNotFound, "work item %s does not exist", workItemID)
					}
					return err
				}
				if w.Status != model.WorkPending {
					return coorderr.New(coorderr.KindAlreadyClaimed, "work item %s is %s", workItemID, w.Status)
				}

				agent, err := tx.GetAgent(ctx, agentID)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return coorderr.New(coorderr.KindAgentNotFound, "agent %s is not registered", agentID)
					}
					return err
				}
				if agent.CurrentWorkload >= agent.Capacity {
					return coorderr.New(coorderr.KindAgentOverCapacity,
						"agent %s is at capacity (%d/%d)", agentID, agent.CurrentWorkload, agent.Capacity)
				}

				if err := tx.MarkClaimed(ctx, workItemID, agentID, now); err != nil {
					return err
				}
				if err := tx.AdjustWorkload(ctx, agentID, 1); err != nil {
					return err
				}
				if err := tx.AppendLog(ctx, model.CoordinationLogEntry{
					Operation:  model.LogOpClaim,
					AgentID:    agentID,
					WorkItemID: workItemID,
					TraceID:    telemetry.TraceIDFromContext(ctx),
					RecordedAt: now,
				}); err != nil {
					return err
				}

				w.Status = model.WorkClaimed
				w.ClaimedBy = &agentID
				w.ClaimedAt = &now
				item = w
				return nil
			})
			return storeErr(err, "claim_work")
		})
	if err != nil {
		return model.WorkItem{}, err
	}
	e.logger.Info("work claimed", "work_item_id", workItemID, "agent_id", agentID)
	return item, nil
}

// StartWork moves a claimed item to in_progress.
func (e *Engine) StartWork(ctx context.Context, workItemID string) (model.WorkItem, error) {
	var item model.WorkItem
	err := e.cor.WithSpan(ctx, "start_work",
		map[string]any{"work_item_id": workItemID},
		func(ctx context.Context) error {
			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				w, err := tx.GetWorkItem(ctx, workItemID)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return coorderr.New(coorderr.KindWorkItemNotFound, "work item %s does not exist", workItemID)
					}
					return err
				}
				if w.Status != model.WorkClaimed {
					return coorderr.New(coorderr.KindInvalidTransition,
						"cannot start work item %s from %s", workItemID, w.Status)
				}
				if err := tx.MarkStarted(ctx, workItemID); err != nil {
					return err
				}
				if err := tx.AppendLog(ctx, model.CoordinationLogEntry{
					Operation:  model.LogOpStart,
					AgentID:    deref(w.ClaimedBy),
					WorkItemID: workItemID,
					TraceID:    telemetry.TraceIDFromContext(ctx),
					RecordedAt: e.now().UTC(),
				}); err != nil {
					return err
				}
				w.Status = model.WorkInProgress
				item = w
				return nil
			})
			return storeErr(err, "start_work")
		})
	if err != nil {
		return model.WorkItem{}, err
	}
	return item, nil
}

// CompleteWork moves an in_progress item to completed, stores the result,
// and releases one unit of the claimant's workload.
func (e *Engine) CompleteWork(ctx context.Context, workItemID string, result map[string]any) (model.WorkItem, error) {
	return e.finishWork(ctx, "complete_work", workItemID, result, model.WorkCompleted)
}

// FailWork moves a claimed or in_progress item to failed, stores the
// result, and releases one unit of the claimant's workload.
func (e *Engine) FailWork(ctx context.Context, workItemID string, result map[string]any) (model.WorkItem, error) {
	return e.finishWork(ctx, "fail_work", workItemID, result, model.WorkFailed)
}

func (e *Engine) finishWork(ctx context.Context, op, workItemID string, result map[string]any, terminal model.WorkStatus) (model.WorkItem, error) {
	var item model.WorkItem
	err := e.cor.WithSpan(ctx, op,
		map[string]any{"work_item_id": workItemID},
		func(ctx context.Context) error {
			if err := model.ValidateOpenMap("result", result, e.cfg.MaxMapBytes); err != nil {
				return coorderr.Wrap(coorderr.KindValidationFailed, err, "%s", op)
			}
			now := e.now().UTC()
			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				w, err := tx.GetWorkItem(ctx, workItemID)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return coorderr.New(coorderr.KindWorkItemNotFound, "work item %s does not exist", workItemID)
					}
					return err
				}
				// complete requires in_progress; fail also accepts claimed.
				ok := w.Status == model.WorkInProgress ||
					(terminal == model.WorkFailed && w.Status == model.WorkClaimed)
				if !ok {
					return coorderr.New(coorderr.KindInvalidTransition,
						"cannot move work item %s from %s to %s", workItemID, w.Status, terminal)
				}
				if err := tx.MarkFinished(ctx, workItemID, terminal, now, result); err != nil {
					return err
				}
				if w.ClaimedBy != nil {
					if err := tx.AdjustWorkload(ctx, *w.ClaimedBy, -1); err != nil {
						return err
					}
				}
				logOp := model.LogOpComplete
				if terminal == model.WorkFailed {
					logOp = model.LogOpFail
				}
				if err := tx.AppendLog(ctx, model.CoordinationLogEntry{
					Operation:  logOp,
					AgentID:    deref(w.ClaimedBy),
					WorkItemID: workItemID,
					TraceID:    telemetry.TraceIDFromContext(ctx),
					RecordedAt: now,
				}); err != nil {
					return err
				}
				w.Status = terminal
				w.CompletedAt = &now
				w.Result = result
				item = w
				return nil
			})
			return storeErr(err, op)
		})
	if err != nil {
		return model.WorkItem{}, err
	}
	return item, nil
}

// ── Read-only views ───────────────────────────────────────────────────────────

// GetWork returns one work item.
func (e *Engine) GetWork(ctx context.Context, workItemID string) (model.WorkItem, error) {
	w, err := e.db.GetWorkItem(ctx, workItemID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.WorkItem{}, coorderr.New(coorderr.KindWorkItemNotFound, "work item %s does not exist", workItemID)
	}
	if err != nil {
		return model.WorkItem{}, storeErr(err, "get_work")
	}
	return w, nil
}

// ListWork returns work items, optionally filtered by status.
func (e *Engine) ListWork(ctx context.Context, status model.WorkStatus) ([]model.WorkItem, error) {
	if status != "" && !model.ValidWorkStatus(status) {
		return nil, coorderr.New(coorderr.KindValidationFailed, "unknown work status %q", status)
	}
	items, err := e.db.ListWorkItems(ctx, status)
	return items, storeErr(err, "list_work")
}

// ListAgents returns all registered agents.
func (e *Engine) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents, err := e.db.ListAgents(ctx)
	return agents, storeErr(err, "list_agents")
}

// ListLog returns the most recent coordination log entries, newest first.
func (e *Engine) ListLog(ctx context.Context, limit int) ([]model.CoordinationLogEntry, error) {
	entries, err := e.db.ListLog(ctx, limit)
	return entries, storeErr(err, "list_log")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
