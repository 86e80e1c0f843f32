// Package metrics computes derived statistics over the coordination store.
// The aggregator is strictly read-only; it takes shared access and never
// mutates state.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/coordd/coord/internal/coorderr"
	"github.com/coordd/coord/internal/model"
	"github.com/coordd/coord/internal/storage"
)

// Snapshot is the on-demand metrics output. Rates are in [0,1], the health
// score in [0,100].
type Snapshot struct {
	ActiveAgentCount int       `json:"active_agent_count"`
	TotalAgents      int       `json:"total_agents"`
	TotalWorkItems   int       `json:"total_work_items"`
	PendingCount     int       `json:"pending_count"`
	ClaimedCount     int       `json:"claimed_count"`
	InProgressCount  int       `json:"in_progress_count"`
	CompletedCount   int       `json:"completed_count"`
	FailedCount      int       `json:"failed_count"`
	CompletionRate   float64   `json:"completion_rate"`
	EfficiencyRatio  float64   `json:"efficiency_ratio"`
	HealthScore      float64   `json:"health_score"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Aggregator computes snapshots from current store contents.
type Aggregator struct {
	db        *storage.DB
	freshness time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an Aggregator. freshness is the heartbeat window inside which
// an active-status agent counts as active.
func New(db *storage.DB, freshness time.Duration, logger *slog.Logger) *Aggregator {
	if freshness <= 0 {
		freshness = 5 * time.Minute
	}
	return &Aggregator{db: db, freshness: freshness, logger: logger, now: time.Now}
}

// Snapshot computes all derived statistics from the current store contents.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	now := a.now().UTC()
	active, err := a.db.CountActiveAgents(ctx, now.Add(-a.freshness))
	if err != nil {
		return Snapshot{}, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "metrics snapshot")
	}
	total, err := a.db.CountAgents(ctx)
	if err != nil {
		return Snapshot{}, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "metrics snapshot")
	}
	byStatus, err := a.db.CountWorkByStatus(ctx)
	if err != nil {
		return Snapshot{}, coorderr.Wrap(coorderr.KindStoreUnavailable, err, "metrics snapshot")
	}

	s := Snapshot{
		ActiveAgentCount: active,
		TotalAgents:      total,
		PendingCount:     byStatus[model.WorkPending],
		ClaimedCount:     byStatus[model.WorkClaimed],
		InProgressCount:  byStatus[model.WorkInProgress],
		CompletedCount:   byStatus[model.WorkCompleted],
		FailedCount:      byStatus[model.WorkFailed],
		ComputedAt:       now,
	}
	s.TotalWorkItems = s.PendingCount + s.ClaimedCount + s.InProgressCount + s.CompletedCount + s.FailedCount
	s.CompletionRate = completionRate(s.CompletedCount, s.TotalWorkItems)
	s.EfficiencyRatio = efficiencyRatio(s.CompletedCount, s.ClaimedCount+s.InProgressCount)
	s.HealthScore = healthScore(s.FailedCount, s.TotalWorkItems)
	return s, nil
}

// completionRate is completed over total, 0 for an empty store.
func completionRate(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clamp01(float64(completed) / float64(total))
}

// efficiencyRatio is completed over completed plus in-flight. With no work
// at all it reports the neutral 1.0 so empty deployments do not read as
// inefficient on dashboards.
func efficiencyRatio(completed, inFlight int) float64 {
	if completed+inFlight <= 0 {
		return 1.0
	}
	return clamp01(float64(completed) / float64(completed+inFlight))
}

// healthScore is 100 minus the failed percentage, floored at 0.
func healthScore(failed, total int) float64 {
	if total <= 0 {
		return 100
	}
	score := 100 - float64(failed)/float64(total)*100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RegisterObservers exposes the snapshot as observable gauges on the given
// meter so an OTLP pipeline can scrape the same numbers the status endpoint
// serves. Observation failures are logged, not fatal; a momentarily
// unreadable store must not break the metrics pipeline.
func (a *Aggregator) RegisterObservers(meter metric.Meter) error {
	activeAgents, err := meter.Int64ObservableGauge("coord.agents.active",
		metric.WithDescription("Agents with fresh heartbeats"))
	if err != nil {
		return fmt.Errorf("metrics: create gauge: %w", err)
	}
	completionGauge, err := meter.Float64ObservableGauge("coord.work.completion_rate",
		metric.WithDescription("Completed work items over total"))
	if err != nil {
		return fmt.Errorf("metrics: create gauge: %w", err)
	}
	efficiencyGauge, err := meter.Float64ObservableGauge("coord.work.efficiency_ratio",
		metric.WithDescription("Completed over completed plus in-flight"))
	if err != nil {
		return fmt.Errorf("metrics: create gauge: %w", err)
	}
	healthGauge, err := meter.Float64ObservableGauge("coord.health_score",
		metric.WithDescription("100 minus failed work percentage"))
	if err != nil {
		return fmt.Errorf("metrics: create gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s, err := a.Snapshot(ctx)
		if err != nil {
			a.logger.Warn("metrics observation failed", "error", err)
			return nil
		}
		o.ObserveInt64(activeAgents, int64(s.ActiveAgentCount))
		o.ObserveFloat64(completionGauge, s.CompletionRate)
		o.ObserveFloat64(efficiencyGauge, s.EfficiencyRatio)
		o.ObserveFloat64(healthGauge, s.HealthScore)
		return nil
	}, activeAgents, completionGauge, efficiencyGauge, healthGauge)
	if err != nil {
		return fmt.Errorf("metrics: register callback: %w", err)
	}
	return nil
}
