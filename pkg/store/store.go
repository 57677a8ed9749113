package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

// sqlResult is the subset of sql.Result requireRowsAffected needs.
type sqlResult interface {
	RowsAffected() (int64, error)
}

// requireRowsAffected returns ErrNotFound when result touched zero
// rows, used by updates/deletes keyed on an id that may not exist.
func requireRowsAffected(result sqlResult, operation string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return sharederrors.DatabaseError(operation, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound is returned by single-row lookups that find no match.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by a CAS-guarded update whose WHERE state =
// <expected> predicate matched zero rows: another writer already
// transitioned the row first.
var ErrConflict = errors.New("store: conflict, row already transitioned")

// Store aggregates every repository backed by a single Postgres pool.
type Store struct {
	db *sqlx.DB

	Connectors ConnectorRepository
	Content    ContentRepository
	Registry   RegistryRepository
	Pending    PendingRepository
	Schedules  ScheduleRepository
	Snapshots  SnapshotRepository
}

// New builds a Store over an already-connected *sqlx.DB (see
// internal/database.Connect).
func New(db *sqlx.DB) *Store {
	return &Store{
		db:         db,
		Connectors: &pgConnectorRepository{db: db},
		Content:    &pgContentRepository{db: db},
		Registry:   &pgRegistryRepository{db: db},
		Pending:    &pgPendingRepository{db: db},
		Schedules:  &pgScheduleRepository{db: db},
		Snapshots:  &pgSnapshotRepository{db: db},
	}
}

// WithTx runs fn inside a single transaction, committing on nil
// return and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sharederrors.DatabaseError("begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return sharederrors.DatabaseError("rollback after failed transaction", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return sharederrors.DatabaseError("commit transaction", err)
	}
	return nil
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
