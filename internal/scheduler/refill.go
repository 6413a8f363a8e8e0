package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Datahenge/btu-scheduler/internal/metrics"
)

// Refill is C6: it periodically walks every enabled schedule and pushes
// its ID onto the Internal Work Channel, so the consumer loop's upsert
// keeps the time index populated even across daemon restarts or missed
// firings — the time index carries no state the relational store doesn't
// already have, so a full sweep is always safe to repeat.
type Refill struct {
	interval time.Duration
	store    ScheduleStore
	work     chan<- string
	logger   *slog.Logger
}

func NewRefill(interval time.Duration, store ScheduleStore, work chan<- string, logger *slog.Logger) *Refill {
	return &Refill{interval: interval, store: store, work: work, logger: logger.With("component", "refill")}
}

func (r *Refill) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. The supervisor calls this directly once
// at startup, before the dispatch loop begins. It returns as soon as every
// ID is queued on the work channel; the consumer loop indexes them
// asynchronously, so the time index is not necessarily populated when the
// dispatch loop starts.
func (r *Refill) RunOnce(ctx context.Context) {
	start := time.Now()

	ids, err := r.store.ListEnabledScheduleIDs(ctx)
	if err != nil {
		r.logger.Error("list enabled schedules failed", "error", err)
		return
	}
	metrics.RefillScheduleCount.Set(float64(len(ids)))

	for _, id := range ids {
		select {
		case r.work <- id:
		case <-ctx.Done():
			return
		}
	}

	metrics.RefillCycleDuration.Observe(time.Since(start).Seconds())
	r.logger.Debug("refill pass complete", "schedule_count", len(ids))
}
