package store

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"

	sharederrors "github.com/engels74/comradarr/pkg/shared/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings db's schema up to the latest version using the
// embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return sharederrors.FailedTo("set goose dialect", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return sharederrors.FailedTo("run migrations", err)
	}
	return nil
}

// MigrationStatus reports the current migration version applied to db.
func MigrationStatus(db *sql.DB) (int64, error) {
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, sharederrors.FailedTo("get migration version", err)
	}
	return version, nil
}
