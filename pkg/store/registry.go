package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// RegistryRepository persists the Search Registry Entry state
// machine. Transition, TransitionToCooldown and TransitionToExhausted
// are CAS-guarded on the row's current state: each includes a WHERE
// state = <expected> predicate, and a losing write aborts and yields
// to the winner. The admin operations Clear and MarkExhausted match on
// id alone.
type RegistryRepository interface {
	Create(ctx context.Context, e *RegistryEntry) (int64, error)
	Get(ctx context.Context, id int64) (*RegistryEntry, error)
	// FindByContent looks up the at-most-one entry for
	// (connectorID, contentItemID, searchType).
	FindByContent(ctx context.Context, connectorID, contentItemID int64, searchType SearchType) (*RegistryEntry, error)
	// ListEligible returns pending rows and cooldown rows whose
	// nextEligibleAt has elapsed, for connectorID, ordered by
	// priority descending.
	ListEligible(ctx context.Context, connectorID int64, now time.Time) ([]RegistryEntry, error)
	// Defer stamps nextEligibleAt on a pending row without changing
	// its state, for the throttle governor's `defer(retryAfter)`
	// admission result.
	Defer(ctx context.Context, id int64, nextEligibleAt time.Time) error
	// Transition moves id from expected to next, atomically; returns
	// ErrConflict if id was not in state expected.
	Transition(ctx context.Context, id int64, expected, next RegistryState) error
	// TransitionToCooldown moves id from expected to cooldown,
	// stamping nextEligibleAt and lastError, and incrementing
	// attemptCount.
	TransitionToCooldown(ctx context.Context, id int64, expected RegistryState, nextEligibleAt time.Time, lastError string) error
	// TransitionToExhausted moves id from expected to exhausted.
	TransitionToExhausted(ctx context.Context, id int64, expected RegistryState, lastError string) error
	// Clear deletes id unconditionally (admin operation).
	Clear(ctx context.Context, id int64) error
	// MarkExhausted force-transitions id to exhausted regardless of
	// its current state (admin operation).
	MarkExhausted(ctx context.Context, id int64, reason string) error
}

type pgRegistryRepository struct {
	db *sqlx.DB
}

func (r *pgRegistryRepository) Create(ctx context.Context, e *RegistryEntry) (int64, error) {
	const query = `
		INSERT INTO registry_entries (connector_id, content_item_id, search_type, state, priority, attempt_count)
		VALUES (:connector_id, :content_item_id, :search_type, :state, :priority, :attempt_count)
		ON CONFLICT (connector_id, content_item_id, search_type) DO NOTHING
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, e)
	if err != nil {
		return 0, sharederrors.DatabaseError("insert registry entry", err)
	}
	defer rows.Close()

	var id int64
	if rows.Next() {
		if err := rows.Scan(&id); err != nil {
			return 0, sharederrors.DatabaseError("scan inserted registry entry id", err)
		}
	}
	return id, nil
}

func (r *pgRegistryRepository) Get(ctx context.Context, id int64) (*RegistryEntry, error) {
	var e RegistryEntry
	err := r.db.GetContext(ctx, &e, `SELECT * FROM registry_entries WHERE id = $1`, id)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("get registry entry", err))
	}
	return &e, nil
}

func (r *pgRegistryRepository) FindByContent(ctx context.Context, connectorID, contentItemID int64, searchType SearchType) (*RegistryEntry, error) {
	var e RegistryEntry
	const query = `SELECT * FROM registry_entries WHERE connector_id = $1 AND content_item_id = $2 AND search_type = $3`
	err := r.db.GetContext(ctx, &e, query, connectorID, contentItemID, searchType)
	if err != nil {
		return nil, mapNoRows(sharederrors.DatabaseError("find registry entry by content", err))
	}
	return &e, nil
}

func (r *pgRegistryRepository) ListEligible(ctx context.Context, connectorID int64, now time.Time) ([]RegistryEntry, error) {
	const query = `
		SELECT * FROM registry_entries
		WHERE connector_id = $1
		  AND (
		    (state = 'pending' AND (next_eligible_at IS NULL OR next_eligible_at <= $2))
		    OR (state = 'cooldown' AND next_eligible_at <= $2)
		  )
		ORDER BY priority DESC, created_at ASC, id ASC`

	var entries []RegistryEntry
	if err := r.db.SelectContext(ctx, &entries, query, connectorID, now); err != nil {
		return nil, sharederrors.DatabaseError("list eligible registry entries", err)
	}
	return entries, nil
}

func (r *pgRegistryRepository) Defer(ctx context.Context, id int64, nextEligibleAt time.Time) error {
	const query = `UPDATE registry_entries SET next_eligible_at = $1, updated_at = now() WHERE id = $2 AND state = 'pending'`
	result, err := r.db.ExecContext(ctx, query, nextEligibleAt, id)
	if err != nil {
		return sharederrors.DatabaseError("defer registry entry", err)
	}
	return requireRowsAffected(result, "defer registry entry")
}

func (r *pgRegistryRepository) Transition(ctx context.Context, id int64, expected, next RegistryState) error {
	const query = `UPDATE registry_entries SET state = $1, updated_at = now() WHERE id = $2 AND state = $3`
	result, err := r.db.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return sharederrors.DatabaseError("transition registry entry", err)
	}
	return requireCASRowAffected(result)
}

func (r *pgRegistryRepository) TransitionToCooldown(ctx context.Context, id int64, expected RegistryState, nextEligibleAt time.Time, lastError string) error {
	const query = `
		UPDATE registry_entries
		SET state = 'cooldown', next_eligible_at = $1, last_error = $2,
		    attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $3 AND state = $4`
	result, err := r.db.ExecContext(ctx, query, nextEligibleAt, lastError, id, expected)
	if err != nil {
		return sharederrors.DatabaseError("transition registry entry to cooldown", err)
	}
	return requireCASRowAffected(result)
}

func (r *pgRegistryRepository) TransitionToExhausted(ctx context.Context, id int64, expected RegistryState, lastError string) error {
	const query = `
		UPDATE registry_entries
		SET state = 'exhausted', last_error = $1, updated_at = now()
		WHERE id = $2 AND state = $3`
	result, err := r.db.ExecContext(ctx, query, lastError, id, expected)
	if err != nil {
		return sharederrors.DatabaseError("transition registry entry to exhausted", err)
	}
	return requireCASRowAffected(result)
}

func (r *pgRegistryRepository) Clear(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM registry_entries WHERE id = $1`, id)
	if err != nil {
		return sharederrors.DatabaseError("clear registry entry", err)
	}
	return requireRowsAffected(result, "clear registry entry")
}

func (r *pgRegistryRepository) MarkExhausted(ctx context.Context, id int64, reason string) error {
	const query = `UPDATE registry_entries SET state = 'exhausted', last_error = $1, updated_at = now() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return sharederrors.DatabaseError("mark registry entry exhausted", err)
	}
	return requireRowsAffected(result, "mark registry entry exhausted")
}

func requireCASRowAffected(result interface{ RowsAffected() (int64, error) }) error {
	n, err := result.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError("check CAS rows affected", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
