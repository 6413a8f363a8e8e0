package repository

import (
	"context"

	"github.com/Datahenge/btu-scheduler/internal/domain"
)

// ScheduleStore is C2's read-only view onto the relational store. The
// daemon never writes schedule rows; creation and mutation happen in the
// web application and arrive here only as rows to read.
type ScheduleStore interface {
	// ListEnabledScheduleIDs returns the schedule_id of every enabled
	// row, for the refill loop's full-table sweep.
	ListEnabledScheduleIDs(ctx context.Context) ([]string, error)

	// FetchSchedule loads one schedule row, joined against the singleton
	// configuration row for cron_timezone when the schedule itself does
	// not carry a timezone override.
	FetchSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error)

	// Ping probes store reachability for the supervisor's startup and
	// health-check sequencing.
	Ping(ctx context.Context) error
}
