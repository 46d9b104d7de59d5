package inventory

import (
	"context"
	"database/sql"
	"log"

	"github.com/dmitrijs2005/fidolock/internal/client/migrations"
	"github.com/dmitrijs2005/fidolock/internal/dbx"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	// Set the database dialect
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatal("failed to set goose dialect:", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens the inventory database at path, creating and migrating it as
// needed.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := dbx.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
