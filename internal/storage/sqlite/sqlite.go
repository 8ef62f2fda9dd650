package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/michaelbrown/assessor/internal/storage"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const submissionColumns = `id, question_id, language, code, points, score, passed_tests,
	total_tests, average_execution_time, results, status, error, created_at`

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each connection to :memory: is a separate database, and sqlite
	// serialises writers anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.QuestionID, sub.Language, sub.Code, sub.Points, sub.Score,
		sub.PassedTests, sub.TotalTests, sub.AverageExecutionTime, string(results),
		string(sub.Status), sub.Error, sub.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (*storage.Submission, error) {
	// Try exact match first, then prefix match
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE substr(id, 1, ?) = ? LIMIT 2`, len(id), id)
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w %q", storage.ErrAmbiguous, id)
	}
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, opts storage.ListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions`
	var args []any

	if opts.QuestionID != "" {
		query += ` WHERE question_id = ?`
		args = append(args, opts.QuestionID)
	}

	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	subs := []storage.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SQLiteStore) DeleteSubmission(ctx context.Context, id string) error {
	// Resolve prefix first
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, sub.ID)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(s scanner) (*storage.Submission, error) {
	var sub storage.Submission
	var results, status, createdAt string
	err := s.Scan(&sub.ID, &sub.QuestionID, &sub.Language, &sub.Code, &sub.Points,
		&sub.Score, &sub.PassedTests, &sub.TotalTests, &sub.AverageExecutionTime,
		&results, &status, &sub.Error, &createdAt)
	if err != nil {
		return nil, err
	}
	sub.Status = storage.SubmissionStatus(status)
	sub.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(results), &sub.Results); err != nil {
		return nil, fmt.Errorf("unmarshaling results of %s: %w", sub.ID, err)
	}
	return &sub, nil
}

// parseTime accepts RFC 3339 text and the datetime('now') default format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(s))
	return t
}
