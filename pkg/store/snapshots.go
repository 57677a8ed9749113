package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// SnapshotRepository persists the append-only Completion
// Snapshot entity, retained no longer than 30 days (enforced by
// PruneOlderThan, called from the pruneOldSnapshots system job).
type SnapshotRepository interface {
	Record(ctx context.Context, s *CompletionSnapshot) error
	// Trend returns the append-only series for connectorID over the
	// last days days, oldest first, for UI sparklines.
	Trend(ctx context.Context, connectorID int64, days int) ([]CompletionSnapshot, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type pgSnapshotRepository struct {
	db *sqlx.DB
}

func (r *pgSnapshotRepository) Record(ctx context.Context, s *CompletionSnapshot) error {
	const query = `
		INSERT INTO completion_snapshots (connector_id, captured_at, monitored_count, downloaded_count, percent_bps)
		VALUES (:connector_id, :captured_at, :monitored_count, :downloaded_count, :percent_bps)`
	_, err := r.db.NamedExecContext(ctx, query, s)
	if err != nil {
		return sharederrors.DatabaseError("record completion snapshot", err)
	}
	return nil
}

func (r *pgSnapshotRepository) Trend(ctx context.Context, connectorID int64, days int) ([]CompletionSnapshot, error) {
	const query = `
		SELECT * FROM completion_snapshots
		WHERE connector_id = $1 AND captured_at >= now() - make_interval(days => $2)
		ORDER BY captured_at ASC`
	var snapshots []CompletionSnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, connectorID, days); err != nil {
		return nil, sharederrors.DatabaseError("query completion snapshot trend", err)
	}
	return snapshots, nil
}

func (r *pgSnapshotRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM completion_snapshots WHERE captured_at < $1`, cutoff)
	if err != nil {
		return 0, sharederrors.DatabaseError("prune completion snapshots", err)
	}
	return result.RowsAffected()
}
