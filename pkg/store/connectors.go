package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// ConnectorRepository persists the Connector entity.
type ConnectorRepository interface {
	Create(ctx context.Context, c *Connector) (int64, error)
	Get(ctx context.Context, id int64) (*Connector, error)
	List(ctx context.Context) ([]Connector, error)
	ListEnabled(ctx context.Context) ([]Connector, error)
	Update(ctx context.Context, c *Connector) error
	UpdateHealth(ctx context.Context, id int64, status HealthStatus) error
	// Delete cascades to content mirror, registry, pending commands,
	// and snapshots for id, per the Connector's delete lifecycle.
	Delete(ctx context.Context, id int64) error
}

type pgConnectorRepository struct {
	db *sqlx.DB
}

func (r *pgConnectorRepository) Create(ctx context.Context, c *Connector) (int64, error) {
	const query = `
		INSERT INTO connectors (type, name, base_url, api_key_cipher, enabled, health_status, throttle_profile_id)
		VALUES (:type, :name, :base_url, :api_key_cipher, :enabled, :health_status, :throttle_profile_id)
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, c)
	if err != nil {
		return 0, sharederrors.DatabaseError("insert connector", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, sharederrors.DatabaseError("scan inserted connector id", err)
		}
	}
	return id, nil
}

func (r *pgConnectorRepository) Get(ctx context.Context, id int64) (*Connector, error) {
	var c Connector
	err := r.db.GetContext(ctx, &c, `SELECT * FROM connectors WHERE id = $1`, id)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("get connector", err))
	}
	return &c, nil
}

func (r *pgConnectorRepository) List(ctx context.Context) ([]Connector, error) {
	var connectors []Connector
	err := r.db.SelectContext(ctx, &connectors, `SELECT * FROM connectors ORDER BY name`)
	if err != nil {
		return nil, sharederrors.DatabaseError("list connectors", err)
	}
	return connectors, nil
}

func (r *pgConnectorRepository) ListEnabled(ctx context.Context) ([]Connector, error) {
	var connectors []Connector
	err := r.db.SelectContext(ctx, &connectors, `SELECT * FROM connectors WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, sharederrors.DatabaseError("list enabled connectors", err)
	}
	return connectors, nil
}

func (r *pgConnectorRepository) Update(ctx context.Context, c *Connector) error {
	const query = `
		UPDATE connectors
		SET name = :name, base_url = :base_url, api_key_cipher = :api_key_cipher,
		    enabled = :enabled, throttle_profile_id = :throttle_profile_id, updated_at = now()
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, c)
	if err != nil {
		return sharederrors.DatabaseError("update connector", err)
	}
	return requireRowsAffected(result, "update connector")
}

func (r *pgConnectorRepository) UpdateHealth(ctx context.Context, id int64, status HealthStatus) error {
	const query = `UPDATE connectors SET health_status = $1, last_health_check_at = now() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return sharederrors.DatabaseError("update connector health", err)
	}
	return requireRowsAffected(result, "update connector health")
}

func (r *pgConnectorRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return sharederrors.DatabaseError("delete connector", err)
	}
	return requireRowsAffected(result, "delete connector")
}
