package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coordd/coord/internal/model"
)

const workColumns = `work_item_id, work_type, priority, status, claimed_by, claimed_at, completed_at, payload, result, submitted_at`

func scanWorkItem(row rowScanner) (model.WorkItem, error) {
	var (
		w                      model.WorkItem
		claimedBy              sql.NullString
		claimedAt, completedAt sql.NullString
		payload                string
		result                 sql.NullString
		submittedAt            string
	)
	if err := row.Scan(&w.WorkItemID, &w.WorkType, &w.Priority, &w.Status,
		&claimedBy, &claimedAt, &completedAt, &payload, &result, &submittedAt); err != nil {
		return model.WorkItem{}, err
	}
	if claimedBy.Valid {
		w.ClaimedBy = &claimedBy.String
	}
	if claimedAt.Valid {
		t := decodeTime(claimedAt.String)
		w.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := decodeTime(completedAt.String)
		w.CompletedAt = &t
	}
	w.Payload = decodeMap(payload)
	if result.Valid {
		w.Result = decodeMap(result.String)
	}
	w.SubmittedAt = decodeTime(submittedAt)
	return w, nil
}

// InsertWorkItem creates a work item row inside the transaction.
func (t *Tx) InsertWorkItem(ctx context.Context, w model.WorkItem) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO work_claims (work_item_id, work_type, priority, status, payload, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.WorkItemID, w.WorkType, w.Priority, w.Status, encodeMap(w.Payload), encodeTime(w.SubmittedAt))
	if err != nil {
		return fmt.Errorf("storage: insert work item: %w", err)
	}
	return nil
}

// GetWorkItem returns one work item inside the transaction, re-reading
// current state under the exclusive section. ErrNotFound if unknown.
func (t *Tx) GetWorkItem(ctx context.Context, workItemID string) (model.WorkItem, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+workColumns+` FROM work_claims WHERE work_item_id = ?`, workItemID)
	w, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkItem{}, ErrNotFound
	}
	if err != nil {
		return model.WorkItem{}, fmt.Errorf("storage: get work item: %w", err)
	}
	return w, nil
}

// MarkClaimed assigns the item to an agent. The WHERE clause re-checks
// status = pending so a lost race surfaces as zero rows even if the caller
// skipped the read.
func (t *Tx) MarkClaimed(ctx context.Context, workItemID, agentID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE work_claims SET status = ?, claimed_by = ?, claimed_at = ?
		 WHERE work_item_id = ? AND status = ?`,
		model.WorkClaimed, agentID, encodeTime(at), workItemID, model.WorkPending)
	if err != nil {
		return fmt.Errorf("storage: mark claimed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: mark claimed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStarted moves a claimed item to in_progress.
func (t *Tx) MarkStarted(ctx context.Context, workItemID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE work_claims SET status = ? WHERE work_item_id = ? AND status = ?`,
		model.WorkInProgress, workItemID, model.WorkClaimed)
	if err != nil {
		return fmt.Errorf("storage: mark started: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: mark started: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFinished moves an item to a terminal state, recording completion time
// and the caller-supplied result.
func (t *Tx) MarkFinished(ctx context.Context, workItemID string, status model.WorkStatus, at time.Time, result map[string]any) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE work_claims SET status = ?, completed_at = ?, result = ? WHERE work_item_id = ?`,
		status, encodeTime(at), encodeMap(result), workItemID)
	if err != nil {
		return fmt.Errorf("storage: mark finished: %w", err)
	}
	return nil
}

// ResetPending returns an abandoned item to the queue, clearing the claim.
// This is the single permitted state regression.
func (t *Tx) ResetPending(ctx context.Context, workItemID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE work_claims SET status = ?, claimed_by = NULL, claimed_at = NULL WHERE work_item_id = ?`,
		model.WorkPending, workItemID)
	if err != nil {
		return fmt.Errorf("storage: reset pending: %w", err)
	}
	return nil
}

// ListAbandoned returns claimed or in_progress items whose claimant has not
// heartbeated since cutoff, or whose claimant row is gone (external
// housekeeping may prune stale agents). Runs inside the transaction so the
// reclaim decision and the reset commit together.
func (t *Tx) ListAbandoned(ctx context.Context, cutoff time.Time) ([]model.WorkItem, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+prefixColumns("w", workColumns)+`
		 FROM work_claims w
		 LEFT JOIN agents a ON a.agent_id = w.claimed_by
		 WHERE w.status IN (?, ?)
		   AND (a.agent_id IS NULL OR a.last_heartbeat < ?)`,
		model.WorkClaimed, model.WorkInProgress, encodeTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("storage: list abandoned: %w", err)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan abandoned item: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// GetWorkItem returns one work item. ErrNotFound if unknown.
func (db *DB) GetWorkItem(ctx context.Context, workItemID string) (model.WorkItem, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+workColumns+` FROM work_claims WHERE work_item_id = ?`, workItemID)
	w, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkItem{}, ErrNotFound
	}
	if err != nil {
		return model.WorkItem{}, fmt.Errorf("storage: get work item: %w", err)
	}
	return w, nil
}

// ListWorkItems returns work items, optionally filtered by status, newest
// first. Unreadable rows are skipped.
func (db *DB) ListWorkItems(ctx context.Context, status model.WorkStatus) ([]model.WorkItem, error) {
	query := `SELECT ` + workColumns + ` FROM work_claims`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY submitted_at DESC, work_item_id`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list work items: %w", err)
	}
	defer rows.Close()

	var items []model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			db.logger.Warn("storage: skipping unreadable work item row", "error", err)
			continue
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// CountWorkByStatus returns work item counts keyed by status. Rows with an
// unrecognized status still count toward the total under their stored key.
func (db *DB) CountWorkByStatus(ctx context.Context) (map[model.WorkStatus]int, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM work_claims GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("storage: count work by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.WorkStatus]int)
	for rows.Next() {
		var (
			s model.WorkStatus
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("storage: scan status count: %w", err)
		}
		counts[s] = n
	}
	return counts, rows.Err()
}
