package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one forward schema step. Versions sort lexically.
type migration struct {
	Name    string
	Version string
	Up      func(ctx context.Context, tx *sql.Tx) error
}

// Migrations is the ordered schema history of the document store.
var Migrations = []migration{
	{
		Name:    "create_billing_documents",
		Version: "20260101000001",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS billing_documents (
    path       TEXT PRIMARY KEY,
    parent     TEXT NOT NULL,
    data       JSONB NOT NULL DEFAULT '{}',
    version    BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
			return err
		},
	},
	{
		Name:    "index_billing_documents_parent",
		Version: "20260101000002",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_billing_documents_parent ON billing_documents (parent, path)`)
			return err
		},
	},
}

const (
	createMigrationsTable = `CREATE TABLE IF NOT EXISTS billing_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	selectAppliedMigrations = `SELECT version FROM billing_migrations`
	insertMigration         = `INSERT INTO billing_migrations (version, name) VALUES ($1, $2)`
)

// migrate applies every migration not yet recorded in billing_migrations,
// each in its own transaction.
func migrate(ctx context.Context, db *sql.DB, migrations []migration) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectAppliedMigrations)
	if err != nil {
		return 0, fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, err
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return count, fmt.Errorf("migration %s (%s): %w", m.Name, m.Version, err)
		}
		count++
	}
	return count, nil
}

func applyOne(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := m.Up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, insertMigration, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
