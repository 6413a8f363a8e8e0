package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Datahenge/btu-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ScheduleRepository is a read-only view onto the schedules a human editor
// maintains through the web application. The daemon never writes a row
// here — see internal/repository.ScheduleStore.
type ScheduleRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewScheduleRepository(pool *pgxpool.Pool, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{pool: pool, logger: logger.With("component", "schedule_store")}
}

func (r *ScheduleRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListEnabledScheduleIDs drives the refill loop's full-table sweep (C6).
func (r *ScheduleRepository) ListEnabledScheduleIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT "schedule_id"
		FROM "tabBTU Task Schedule"
		WHERE "enabled" = true
		ORDER BY "schedule_id"`)
	if err != nil {
		return nil, fmt.Errorf("list enabled schedules: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan schedule id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule ids: %w", err)
	}
	return ids, nil
}

// FetchSchedule loads a single row, joined against the singleton
// configuration row for cron_timezone when the schedule itself carries no
// timezone override — the shape used throughout original_source's
// lib/sql.py get_task_schedule_by_id.
func (r *ScheduleRepository) FetchSchedule(ctx context.Context, scheduleID string) (*domain.Schedule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT
			sched."schedule_id",
			sched."task_id",
			sched."enabled",
			sched."queue_name",
			sched."cron_string",
			COALESCE(NULLIF(sched."cron_timezone", ''), cfg."value"),
			COALESCE(sched."description", ''),
			sched."argument_overrides",
			sched."creation",
			sched."modified"
		FROM "tabBTU Task Schedule" AS sched
		INNER JOIN "tabSingles" AS cfg
			ON cfg."doctype" = 'BTU Configuration' AND cfg."field" = 'cron_time_zone'
		WHERE sched."schedule_id" = $1`, scheduleID)

	return scanSchedule(row)
}

func scanSchedule(row pgx.Row) (*domain.Schedule, error) {
	var s domain.Schedule
	var overrides []byte
	err := row.Scan(
		&s.ScheduleID, &s.TaskID, &s.Enabled, &s.QueueName, &s.CronString,
		&s.CronTimezone, &s.Description, &overrides, &s.CreatedAt, &s.ModifiedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &s.ArgumentOverrides); err != nil {
			return nil, fmt.Errorf("decode argument overrides for %s: %w", s.ScheduleID, err)
		}
	}
	return &s, nil
}
