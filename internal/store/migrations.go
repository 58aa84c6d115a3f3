package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// schema contains the DDL for all shipyard tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS artifacts (
		target_id TEXT PRIMARY KEY,
		path      TEXT NOT NULL,
		built_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		strategy     TEXT NOT NULL,
		state        TEXT NOT NULL DEFAULT 'IDLE',
		force_build  INTEGER NOT NULL DEFAULT 0,
		target_count INTEGER NOT NULL DEFAULT 0,
		succeeded    INTEGER NOT NULL DEFAULT 0,
		started_at   TEXT NOT NULL,
		completed_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
}

// migrate applies every schema statement.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}
