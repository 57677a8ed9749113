package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// ContentRepository persists the Content Item entity: the
// local normalized mirror of a connector's series/season/episode or
// movie library, maintained by the sync subsystem (pkg/mirror).
type ContentRepository interface {
	Upsert(ctx context.Context, item *ContentItem) (int64, error)
	Get(ctx context.Context, connectorID, upstreamID int64, contentType ContentType) (*ContentItem, error)
	// GetByID looks up a content item by its local primary key, the
	// form a registry row's contentItemId carries.
	GetByID(ctx context.Context, id int64) (*ContentItem, error)
	// ListBySeason returns every episode content item sharing
	// seriesUpstreamID and seasonNumber under connectorID, the peer
	// set the Episode Batcher evaluates together.
	ListBySeason(ctx context.Context, connectorID, seriesUpstreamID int64, seasonNumber int) ([]ContentItem, error)
	ListByConnector(ctx context.Context, connectorID int64) ([]ContentItem, error)
	// DeleteMissing removes every row for connectorID whose upstream_id
	// is not present in keepUpstreamIDs: a content item is deleted only
	// when absent from a full-reconciliation
	// sweep."
	DeleteMissing(ctx context.Context, connectorID int64, contentType ContentType, keepUpstreamIDs []int64) (int64, error)
}

type pgContentRepository struct {
	db *sqlx.DB
}

func (r *pgContentRepository) Upsert(ctx context.Context, item *ContentItem) (int64, error) {
	const query = `
		INSERT INTO content_items (
			connector_id, type, upstream_id, series_upstream_id, season_number, season_next_airing,
			title, year, monitored, has_file, quality_cutoff_not_met
		) VALUES (
			:connector_id, :type, :upstream_id, :series_upstream_id, :season_number, :season_next_airing,
			:title, :year, :monitored, :has_file, :quality_cutoff_not_met
		)
		ON CONFLICT (connector_id, type, upstream_id) DO UPDATE SET
			title = EXCLUDED.title,
			year = EXCLUDED.year,
			monitored = EXCLUDED.monitored,
			has_file = EXCLUDED.has_file,
			quality_cutoff_not_met = EXCLUDED.quality_cutoff_not_met,
			season_next_airing = EXCLUDED.season_next_airing,
			updated_at = now()
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, item)
	if err != nil {
		return 0, sharederrors.DatabaseError("upsert content item", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, sharederrors.DatabaseError("scan upserted content item id", err)
		}
	}
	return id, nil
}

func (r *pgContentRepository) Get(ctx context.Context, connectorID, upstreamID int64, contentType ContentType) (*ContentItem, error) {
	var item ContentItem
	const query = `SELECT * FROM content_items WHERE connector_id = $1 AND upstream_id = $2 AND type = $3`
	err := r.db.GetContext(ctx, &item, query, connectorID, upstreamID, contentType)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("get content item", err))
	}
	return &item, nil
}

func (r *pgContentRepository) GetByID(ctx context.Context, id int64) (*ContentItem, error) {
	var item ContentItem
	err := r.db.GetContext(ctx, &item, `SELECT * FROM content_items WHERE id = $1`, id)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("get content item by id", err))
	}
	return &item, nil
}

func (r *pgContentRepository) ListBySeason(ctx context.Context, connectorID, seriesUpstreamID int64, seasonNumber int) ([]ContentItem, error) {
	const query = `
		SELECT * FROM content_items
		WHERE connector_id = $1 AND series_upstream_id = $2 AND season_number = $3
		ORDER BY upstream_id`
	var items []ContentItem
	if err := r.db.SelectContext(ctx, &items, query, connectorID, seriesUpstreamID, seasonNumber); err != nil {
		return nil, sharederrors.DatabaseError("list content items by season", err)
	}
	return items, nil
}

func (r *pgContentRepository) ListByConnector(ctx context.Context, connectorID int64) ([]ContentItem, error) {
	var items []ContentItem
	const query = `SELECT * FROM content_items WHERE connector_id = $1 ORDER BY title`
	if err := r.db.SelectContext(ctx, &items, query, connectorID); err != nil {
		return nil, sharederrors.DatabaseError("list content items", err)
	}
	return items, nil
}

func (r *pgContentRepository) DeleteMissing(ctx context.Context, connectorID int64, contentType ContentType, keepUpstreamIDs []int64) (int64, error) {
	query, args, err := sqlx.In(
		`DELETE FROM content_items WHERE connector_id = ? AND type = ? AND upstream_id NOT IN (?)`,
		connectorID, contentType, keepUpstreamIDs,
	)
	if err != nil {
		return 0, sharederrors.DatabaseError("build delete-missing query", err)
	}
	query = r.db.Rebind(query)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, sharederrors.DatabaseError("delete missing content items", err)
	}
	return result.RowsAffected()
}
