package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Datahenge/btu-scheduler/internal/domain"
	"github.com/Datahenge/btu-scheduler/internal/metrics"
)

// Dispatch is C7: it periodically queries the time index for due firings
// and, for each one, performs the exclusive-claim protocol before handing
// off to the web application.
//
// Claim ordering is ZREM before handoff, not the reverse: removing the
// Firing Instance Key from the index is the linearization point, so two
// dispatch loops racing on the same FIK can never both hand it off. A
// handoff-first ordering leaves a window in which a crash between the two
// steps could produce either a lost or a duplicated firing.
type Dispatch struct {
	interval time.Duration
	store    ScheduleStore
	index    IndexClient
	work     chan<- string
	logger   *slog.Logger
}

func NewDispatch(interval time.Duration, store ScheduleStore, index IndexClient, work chan<- string, logger *slog.Logger) *Dispatch {
	return &Dispatch{interval: interval, store: store, index: index, work: work, logger: logger.With("component", "dispatch")}
}

func (d *Dispatch) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

func (d *Dispatch) RunOnce(ctx context.Context) {
	start := time.Now()

	due, err := d.index.IndexDue(ctx, time.Now().UTC())
	if err != nil {
		d.logger.Error("index due query failed", "error", err)
		return
	}
	metrics.DispatchDueTotal.Add(float64(len(due)))

	for _, fik := range due {
		d.fire(ctx, fik)
	}

	metrics.DispatchCycleDuration.Observe(time.Since(start).Seconds())
}

func (d *Dispatch) fire(ctx context.Context, fik domain.FIK) {
	logger := d.logger.With("fik", fik.String())

	scheduleID, _, err := fik.Parse()
	if err != nil {
		logger.Error("malformed firing instance key", "error", err)
		return
	}
	logger = logger.With("schedule_id", scheduleID)

	claimed, err := d.index.IndexRemove(ctx, fik)
	if err != nil {
		logger.Error("claim (index remove) failed", "error", err)
		return
	}
	if !claimed {
		logger.Debug("firing already claimed by a concurrent pass")
		return
	}

	sched, err := d.store.FetchSchedule(ctx, scheduleID)
	switch {
	case err != nil && errors.Is(err, domain.ErrScheduleNotFound):
		logger.Warn("schedule no longer exists, skipping handoff")
	case err != nil:
		logger.Error("fetch schedule failed, skipping handoff", "error", err)
	case !sched.Enabled:
		logger.Debug("schedule disabled, skipping handoff")
	default:
		handoffStart := time.Now()
		outcome := "ok"
		if err := d.index.HandoffForImmediateRun(ctx, scheduleID); err != nil {
			outcome = "error"
			logger.Error("handoff failed", "error", err)
		}
		metrics.HandoffDuration.WithLabelValues(outcome).Observe(time.Since(handoffStart).Seconds())
		metrics.HandoffTotal.WithLabelValues(outcome).Inc()
	}

	// The firing is consumed whether or not the handoff happened or
	// succeeded: no automatic retry. Re-enqueue the schedule so the
	// consumer loop computes and inserts its next firing.
	select {
	case d.work <- scheduleID:
	case <-ctx.Done():
	}
}
