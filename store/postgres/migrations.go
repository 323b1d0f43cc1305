package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7_160_431_905

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS credits_schema_migrations (
				version    TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		rows, err := tx.Query(ctx, `SELECT version FROM credits_schema_migrations`)
		if err != nil {
			return fmt.Errorf("query applied migrations: %w", err)
		}
		versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("scan applied migrations: %w", err)
		}
		applied := make(map[string]bool, len(versions))
		for _, v := range versions {
			applied[v] = true
		}

		for _, file := range files {
			version := strings.TrimSuffix(strings.TrimPrefix(file, "migrations/"), ".sql")
			if applied[version] {
				continue
			}

			body, err := migrationFS.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read migration %s: %w", version, err)
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				return fmt.Errorf("apply migration %s: %w", version, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO credits_schema_migrations (version) VALUES ($1)`, version,
			); err != nil {
				return fmt.Errorf("record migration %s: %w", version, err)
			}
		}
		return nil
	})
}
