package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCronExpr  = errors.New("invalid cron expression")
	ErrUnknownZone      = errors.New("unknown IANA time zone")
	ErrNoFutureFiring   = errors.New("cron expression has no future firing")
	ErrStoreUnavailable = errors.New("schedule store unavailable")
	ErrHandoffFailed    = errors.New("handoff to web application failed")
)

// Schedule is a human-edited recurrence rule loaded from the relational
// store. It is read-only from the daemon's perspective: schedule.go's
// CRUD surface belongs to the web application, not to this process.
type Schedule struct {
	ScheduleID        string
	TaskID            string
	Enabled           bool
	QueueName         string
	CronString        string
	CronTimezone      string
	Description       string
	ArgumentOverrides map[string]any
	CreatedAt         time.Time
	ModifiedAt        time.Time
}
