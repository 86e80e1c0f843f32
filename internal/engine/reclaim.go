package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/storage"
	"github.com/coordd/coord/internal/telemetry"
)

// ReclaimAbandoned resets claimed and in_progress work items whose claimant
// has not heartbeated within timeout (or no longer exists) back to pending,
// releasing the claimants' workload. Partial progress by the stale agent is
// discarded; the item becomes claimable again. Returns the IDs of reclaimed
// items.
func (e *Engine) ReclaimAbandoned(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		return nil, coorderr.New(coorderr.KindValidationFailed, "reclaim timeout must be positive")
	}
	var reclaimed []string
	err := e.cor.WithSpan(ctx, "reclaim_abandoned",
		map[string]any{"timeout": timeout.String()},
		func(ctx context.Context) error {
			now := e.now().UTC()
			cutoff := now.Add(-timeout)
			err := e.db.InTx(ctx, func(tx *storage.Tx) error {
				items, err := tx.ListAbandoned(ctx, cutoff)
				if err != nil {
					return err
				}
				for _, w := range items {
					claimant := deref(w.ClaimedBy)
					if err := tx.ResetPending(ctx, w.WorkItemID); err != nil {
						return err
					}
					if claimant != "" {
						if err := tx.AdjustWorkload(ctx, claimant, -1); err != nil {
							return err
						}
					}
					if err := tx.AppendLog(ctx, model.CoordinationLogEntry{
						Operation:  model.LogOpReclaimed,
						AgentID:    claimant,
						WorkItemID: w.WorkItemID,
						Detail:     fmt.Sprintf("abandoned after %s without heartbeat", timeout),
						TraceID:    telemetry.TraceIDFromContext(ctx),
						RecordedAt: now,
					}); err != nil {
						return err
					}
					reclaimed = append(reclaimed, w.WorkItemID)
				}
				return nil
			})
			return storeErr(err, "reclaim_abandoned")
		})
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 {
		e.logger.Info("reclaimed abandoned work", "count", len(reclaimed))
	}
	return reclaimed, nil
}
