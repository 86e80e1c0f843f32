package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coordd/coord/internal/model"
)

const agentColumns = `agent_id, team, status, capabilities, capacity, current_workload, last_heartbeat, metadata, registered_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (model.Agent, error) {
	var (
		a                        model.Agent
		capabilities, metadata   string
		lastHeartbeat, registered string
	)
	if err := row.Scan(&a.AgentID, &a.Team, &a.Status, &capabilities, &a.Capacity,
		&a.CurrentWorkload, &lastHeartbeat, &metadata, &registered); err != nil {
		return model.Agent{}, err
	}
	a.Capabilities = decodeStrings(capabilities)
	a.Metadata = decodeMap(metadata)
	a.LastHeartbeat = decodeTime(lastHeartbeat)
	a.RegisteredAt = decodeTime(registered)
	return a, nil
}

// InsertAgent creates an agent row inside the transaction.
func (t *Tx) InsertAgent(ctx context.Context, a model.Agent) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.Team, a.Status, encodeStrings(a.Capabilities), a.Capacity,
		a.CurrentWorkload, encodeTime(a.LastHeartbeat), encodeMap(a.Metadata), encodeTime(a.RegisteredAt))
	if err != nil {
		return fmt.Errorf("storage: insert agent: %w", err)
	}
	return nil
}

// AgentExists reports whether an agent row exists inside the transaction.
func (t *Tx) AgentExists(ctx context.Context, agentID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM agents WHERE agent_id = ?)`, agentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check agent exists: %w", err)
	}
	return exists, nil
}

// GetAgent returns one agent inside the transaction. ErrNotFound if unknown.
func (t *Tx) GetAgent(ctx context.Context, agentID string) (model.Agent, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// AdjustWorkload shifts an agent's current_workload by delta, floored at
// zero so a double-completion can never drive it negative.
func (t *Tx) AdjustWorkload(ctx context.Context, agentID string, delta int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE agents SET current_workload = MAX(0, current_workload + ?) WHERE agent_id = ?`,
		delta, agentID)
	if err != nil {
		return fmt.Errorf("storage: adjust workload: %w", err)
	}
	return nil
}

// SetAgentStatus updates an agent's status inside the transaction.
// ErrNotFound if the agent does not exist.
func (t *Tx) SetAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE agents SET status = ? WHERE agent_id = ?`, status, agentID)
	if err != nil {
		return fmt.Errorf("storage: set agent status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: set agent status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAgent returns one agent. ErrNotFound if unknown.
func (db *DB) GetAgent(ctx context.Context, agentID string) (model.Agent, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all registered agents ordered by registration time.
// Rows that fail to scan are skipped: a reader must tolerate a momentarily
// inconsistent row rather than fail the whole listing.
func (db *DB) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY registered_at, agent_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			db.logger.Warn("storage: skipping unreadable agent row", "error", err)
			continue
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Heartbeat sets last_heartbeat and forces status back to active. It runs
// as a single-row autocommit UPDATE: heartbeats only touch the agent's own
// row and are last-write-wins, so they skip the exclusive claim section.
// ErrNotFound if the agent is unknown.
func (db *DB) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = ?, status = ? WHERE agent_id = ?`,
		encodeTime(at), model.AgentActive, agentID)
	if err != nil {
		return fmt.Errorf("storage: heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: heartbeat: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveAgents counts agents with status=active whose last heartbeat is
// at or after cutoff.
func (db *DB) CountActiveAgents(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agents WHERE status = ? AND last_heartbeat >= ?`,
		model.AgentActive, encodeTime(cutoff)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count active agents: %w", err)
	}
	return n, nil
}

// CountAgents returns the total number of registered agents.
func (db *DB) CountAgents(ctx context.Context) (int, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count agents: %w", err)
	}
	return n, nil
}
