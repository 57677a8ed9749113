package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// ScheduleRepository persists the Schedule entity, the
// Scheduler Orchestrator's dynamic (user-defined) job registrations.
type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) (int64, error)
	Get(ctx context.Context, id int64) (*Schedule, error)
	ListEnabled(ctx context.Context) ([]Schedule, error)
	UpdateRunTimes(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

type pgScheduleRepository struct {
	db *sqlx.DB
}

func (r *pgScheduleRepository) Create(ctx context.Context, s *Schedule) (int64, error) {
	const query = `
		INSERT INTO schedules (name, sweep_type, cron_expression, timezone, connector_id, throttle_profile_id, enabled)
		VALUES (:name, :sweep_type, :cron_expression, :timezone, :connector_id, :throttle_profile_id, :enabled)
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, s)
	if err != nil {
		return 0, sharederrors.DatabaseError("insert schedule", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, sharederrors.DatabaseError("scan inserted schedule id", err)
		}
	}
	return id, nil
}

func (r *pgScheduleRepository) Get(ctx context.Context, id int64) (*Schedule, error) {
	var s Schedule
	err := r.db.GetContext(ctx, &s, `SELECT * FROM schedules WHERE id = $1`, id)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("get schedule", err))
	}
	return &s, nil
}

func (r *pgScheduleRepository) ListEnabled(ctx context.Context) ([]Schedule, error) {
	var schedules []Schedule
	err := r.db.SelectContext(ctx, &schedules, `SELECT * FROM schedules WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, sharederrors.DatabaseError("list enabled schedules", err)
	}
	return schedules, nil
}

func (r *pgScheduleRepository) UpdateRunTimes(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error {
	const query = `UPDATE schedules SET last_run_at = $1, next_run_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, lastRunAt, nextRunAt, id)
	if err != nil {
		return sharederrors.DatabaseError("update schedule run times", err)
	}
	return requireRowsAffected(result, "update schedule run times")
}

func (r *pgScheduleRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := r.db.ExecContext(ctx, `UPDATE schedules SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return sharederrors.DatabaseError("set schedule enabled", err)
	}
	return requireRowsAffected(result, "set schedule enabled")
}
