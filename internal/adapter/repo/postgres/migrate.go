package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every embedded migration file in lexical order inside a
// single transaction, tracking which have already run in a
// schema_migrations table. Files are named NNNN_description.sql so ordering
// never depends on filesystem listing order.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate: glob: %w", err)
	}
	sort.Strings(entries)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("op=postgres.Migrate: create schema_migrations: %w", err)
	}

	for _, name := range entries {
		var already bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&already); err != nil {
			return fmt.Errorf("op=postgres.Migrate: check %s: %w", name, err)
		}
		if already {
			continue
		}

		sqlBytes, err := migrationFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("op=postgres.Migrate: read %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("op=postgres.Migrate: apply %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (filename) VALUES ($1) ON CONFLICT DO NOTHING`, name); err != nil {
			return fmt.Errorf("op=postgres.Migrate: record %s: %w", name, err)
		}
		slog.Info("applied migration", slog.String("file", name))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=postgres.Migrate: commit: %w", err)
	}
	return nil
}
