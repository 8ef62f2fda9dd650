package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
    id                     TEXT PRIMARY KEY,
    question_id            TEXT NOT NULL DEFAULT '',
    language               TEXT NOT NULL DEFAULT '',
    code                   TEXT NOT NULL DEFAULT '',
    points                 REAL NOT NULL DEFAULT 0,
    score                  REAL NOT NULL DEFAULT 0,
    passed_tests           INTEGER NOT NULL DEFAULT 0,
    total_tests            INTEGER NOT NULL DEFAULT 0,
    average_execution_time REAL NOT NULL DEFAULT 0,
    results                TEXT NOT NULL DEFAULT '[]',
    status                 TEXT NOT NULL DEFAULT 'graded'
                           CHECK(status IN ('graded','failed')),
    error                  TEXT NOT NULL DEFAULT '',
    created_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submissions_question ON submissions(question_id);
CREATE INDEX IF NOT EXISTS idx_submissions_created ON submissions(created_at DESC);
`

func runMigrations(db *sql.DB) error {
	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// Table doesn't exist or is empty
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		DELETE FROM schema_version;
		INSERT INTO schema_version (version) VALUES (?);
	`, schemaVersion)
	return err
}
