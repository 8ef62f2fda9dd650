package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS submissions (
    id                     TEXT PRIMARY KEY,
    question_id            TEXT NOT NULL DEFAULT '',
    language               TEXT NOT NULL DEFAULT '',
    code                   TEXT NOT NULL DEFAULT '',
    points                 DOUBLE PRECISION NOT NULL DEFAULT 0,
    score                  DOUBLE PRECISION NOT NULL DEFAULT 0,
    passed_tests           INTEGER NOT NULL DEFAULT 0,
    total_tests            INTEGER NOT NULL DEFAULT 0,
    average_execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
    results                JSONB NOT NULL DEFAULT '[]',
    status                 TEXT NOT NULL DEFAULT 'graded'
                           CHECK (status IN ('graded','failed')),
    error                  TEXT NOT NULL DEFAULT '',
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_question ON submissions(question_id);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at DESC);
`

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if current < 1 {
		if _, err := tx.Exec(ctx, schemaV1); err != nil {
			return fmt.Errorf("applying schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, schemaVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
