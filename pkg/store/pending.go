package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// PendingRepository persists the Pending Command entity.
// Invariant enforced by the unique index on content_item_id WHERE
// completed_at IS NULL: at most one open pending command per content
// item across connectors.
type PendingRepository interface {
	Create(ctx context.Context, p *PendingCommand) (int64, error)
	Get(ctx context.Context, id int64) (*PendingCommand, error)
	// ListOpen returns every pending command with commandStatus in
	// {queued, started}, for the tracker's reconciliation tick.
	ListOpen(ctx context.Context) ([]PendingCommand, error)
	Complete(ctx context.Context, id int64, fileAcquired bool) error
	Fail(ctx context.Context, id int64) error
	// ListOpenOlderThan returns open commands dispatched before
	// cutoff, for the 24h timeout sweep: a pending command is closed
	// by the tracker or by this timeout sweep.
	ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]PendingCommand, error)
	// PurgeCompletedOlderThan deletes completed/failed rows whose
	// completedAt precedes cutoff, the retention-window cleanup.
	PurgeCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type pgPendingRepository struct {
	db *sqlx.DB
}

func (r *pgPendingRepository) Create(ctx context.Context, p *PendingCommand) (int64, error) {
	const query = `
		INSERT INTO pending_commands (
			connector_id, registry_id, upstream_command_id, content_item_id,
			search_type, command_status, dispatched_at
		) VALUES (
			:connector_id, :registry_id, :upstream_command_id, :content_item_id,
			:search_type, :command_status, :dispatched_at
		)
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, p)
	if err != nil {
		return 0, sharederrors.DatabaseError("insert pending command", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, sharederrors.DatabaseError("scan inserted pending command id", err)
		}
	}
	return id, nil
}

func (r *pgPendingRepository) Get(ctx context.Context, id int64) (*PendingCommand, error) {
	var p PendingCommand
	err := r.db.GetContext(ctx, &p, `SELECT * FROM pending_commands WHERE id = $1`, id)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("get pending command", err))
	}
	return &p, nil
}

func (r *pgPendingRepository) ListOpen(ctx context.Context) ([]PendingCommand, error) {
	const query = `SELECT * FROM pending_commands WHERE command_status IN ('queued', 'started') ORDER BY dispatched_at`
	var commands []PendingCommand
	if err := r.db.SelectContext(ctx, &commands, query); err != nil {
		return nil, sharederrors.DatabaseError("list open pending commands", err)
	}
	return commands, nil
}

func (r *pgPendingRepository) Complete(ctx context.Context, id int64, fileAcquired bool) error {
	const query = `
		UPDATE pending_commands
		SET command_status = 'completed', file_acquired = $1, completed_at = now()
		WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, fileAcquired, id)
	if err != nil {
		return sharederrors.DatabaseError("complete pending command", err)
	}
	return requireRowsAffected(result, "complete pending command")
}

func (r *pgPendingRepository) Fail(ctx context.Context, id int64) error {
	const query = `UPDATE pending_commands SET command_status = 'failed', completed_at = now() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return sharederrors.DatabaseError("fail pending command", err)
	}
	return requireRowsAffected(result, "fail pending command")
}

func (r *pgPendingRepository) ListOpenOlderThan(ctx context.Context, cutoff time.Time) ([]PendingCommand, error) {
	const query = `
		SELECT * FROM pending_commands
		WHERE command_status IN ('queued', 'started') AND dispatched_at < $1
		ORDER BY dispatched_at`
	var commands []PendingCommand
	if err := r.db.SelectContext(ctx, &commands, query, cutoff); err != nil {
		return nil, sharederrors.DatabaseError("list stale pending commands", err)
	}
	return commands, nil
}

func (r *pgPendingRepository) PurgeCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM pending_commands
		WHERE command_status IN ('completed', 'failed') AND completed_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, sharederrors.DatabaseError("purge completed pending commands", err)
	}
	return result.RowsAffected()
}
