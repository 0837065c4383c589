package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"fieldops-etl/internal/logging"
	"fieldops-etl/internal/util"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrations returns the embedded migration files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// sqlOpenFunc allows overriding sql.Open for testing.
var sqlOpenFunc = sql.Open

// Migrate applies every pending migration to the database at dsn and returns
// the number applied.
func Migrate(ctx context.Context, dsn string) (int, error) {
	expanded := util.ExpandEnvUniversal(dsn)
	db, err := sqlOpenFunc("pgx", expanded)
	if err != nil {
		return 0, fmt.Errorf("failed to open database (using %s): %w", util.MaskCredentials(expanded), err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations(), goose.WithLogger(logging.GooseLogger()))
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logging.Logf(logging.Info, "Applied migration %s in %s.", r.Source.Path, r.Duration)
	}
	if len(results) == 0 {
		logging.Logf(logging.Info, "Database schema is up to date.")
	}
	return len(results), nil
}
