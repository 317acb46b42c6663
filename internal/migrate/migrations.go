package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"incidentline/internal/db"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

func dialect(driver string) (goose.Dialect, error) {
	switch driver {
	case db.DriverSQLite, "":
		return goose.DialectSQLite3, nil
	case db.DriverPostgres:
		return goose.DialectPostgres, nil
	default:
		return "", fmt.Errorf("no migration dialect for driver %q", driver)
	}
}

func provider(conn *sql.DB, driver string) (*goose.Provider, error) {
	d, err := dialect(driver)
	if err != nil {
		return nil, err
	}
	fsys, err := fs.Sub(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(d, conn, fsys)
}

// Migrate applies embedded migrations in order.
func Migrate(ctx context.Context, conn *sql.DB, driver string) error {
	p, err := provider(conn, driver)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Version reports the highest applied migration.
func Version(ctx context.Context, conn *sql.DB, driver string) (int64, error) {
	p, err := provider(conn, driver)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
