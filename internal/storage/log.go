package storage

import (
	"context"
	"fmt"

	"github.com/coordd/coord/internal/model"
)

// AppendLog appends one coordination log entry inside the transaction, so
// the audit record commits atomically with the mutation it describes.
// The log is append-only; there are no update or delete paths.
func (t *Tx) AppendLog(ctx context.Context, e model.CoordinationLogEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO coordination_log (operation, agent_id, work_item_id, detail, trace_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Operation, nullIfEmpty(e.AgentID), nullIfEmpty(e.WorkItemID), nullIfEmpty(e.Detail),
		e.TraceID, encodeTime(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("storage: append log: %w", err)
	}
	return nil
}

// ListLog returns the most recent log entries, newest first.
func (db *DB) ListLog(ctx context.Context, limit int) ([]model.CoordinationLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT seq, operation, COALESCE(agent_id, ''), COALESCE(work_item_id, ''),
		        COALESCE(detail, ''), trace_id, recorded_at
		 FROM coordination_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list log: %w", err)
	}
	defer rows.Close()

	var entries []model.CoordinationLogEntry
	for rows.Next() {
		var (
			e        model.CoordinationLogEntry
			recorded string
		)
		if err := rows.Scan(&e.Seq, &e.Operation, &e.AgentID, &e.WorkItemID,
			&e.Detail, &e.TraceID, &recorded); err != nil {
			return nil, fmt.Errorf("storage: scan log entry: %w", err)
		}
		e.RecordedAt = decodeTime(recorded)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
