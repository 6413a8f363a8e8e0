package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Datahenge/btu-scheduler/internal/cronclock"
	"github.com/Datahenge/btu-scheduler/internal/domain"
)

// ScheduleStore is the subset of internal/repository.ScheduleStore the
// scheduling loops need.
type ScheduleStore interface {
	FetchSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error)
	ListEnabledScheduleIDs(ctx context.Context) ([]string, error)
}

// IndexClient is the subset of internal/queue.Client the consumer and
// dispatch loops need.
type IndexClient interface {
	IndexUpsert(ctx context.Context, fik domain.FIK, unixSeconds int64) error
	IndexDue(ctx context.Context, asOf time.Time) ([]domain.FIK, error)
	IndexRemove(ctx context.Context, fik domain.FIK) (bool, error)
	HandoffForImmediateRun(ctx context.Context, scheduleID string) error
}

// Consumer is C5: it drains the Internal Work Channel, and for each
// schedule ID, fetches the current row, computes its next firing instant,
// and upserts the resulting Firing Instance Key into the time index.
type Consumer struct {
	work   <-chan string
	store  ScheduleStore
	index  IndexClient
	logger *slog.Logger
}

func NewConsumer(work <-chan string, store ScheduleStore, index IndexClient, logger *slog.Logger) *Consumer {
	return &Consumer{work: work, store: store, index: index, logger: logger.With("component", "consumer")}
}

func (c *Consumer) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case scheduleID, ok := <-c.work:
			if !ok {
				return
			}
			c.process(ctx, scheduleID)
		}
	}
}

func (c *Consumer) process(ctx context.Context, scheduleID string) {
	logger := c.logger.With("schedule_id", scheduleID)

	sched, err := c.store.FetchSchedule(ctx, scheduleID)
	if err != nil {
		logger.Warn("fetch schedule failed, dropping", "error", err)
		return
	}
	if !sched.Enabled {
		logger.Debug("schedule disabled, skipping index insertion")
		return
	}

	next, err := cronclock.NextRuntimes(sched.CronString, sched.CronTimezone, time.Now().UTC(), 1)
	if err != nil {
		logger.Warn("compute next runtime failed, dropping", "error", err)
		return
	}

	fik := domain.MakeFIK(scheduleID, next[0].Unix())
	if err := c.index.IndexUpsert(ctx, fik, next[0].Unix()); err != nil {
		logger.Error("index upsert failed", "fik", fik, "error", err)
		return
	}
	logger.Debug("upserted firing instance", "fik", fik, "next_run_at", next[0])
}
