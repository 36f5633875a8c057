package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" //nolint:blank-imports
	"github.com/pressly/goose/v3"
)

// Migrate applies every pending goose migration found in migrations.
func Migrate(dsn string, migrations fs.FS) error {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("platform/db: open migrate conn: %w", err)
	}
	defer conn.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("platform/db: goose dialect: %w", err)
	}
	if err := goose.Up(conn, "."); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("platform/db: migrate up: %w", err)
	}
	return nil
}
