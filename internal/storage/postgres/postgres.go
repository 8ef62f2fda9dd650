package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelbrown/assessor/internal/storage"
)

const submissionColumns = `id, question_id, language, code, points, score, passed_tests,
	total_tests, average_execution_time, results, status, error, created_at`

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxLifetime time.Duration
}

// PostgresStore implements storage.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects, pings and migrates the database.
func Open(ctx context.Context, cfg Config) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.QuestionID, sub.Language, sub.Code, sub.Points, sub.Score,
		sub.PassedTests, sub.TotalTests, sub.AverageExecutionTime, results,
		string(sub.Status), sub.Error, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (*storage.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE left(id, $1) = $2 LIMIT 2`, len(id), id)
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

func (s *PostgresStore) ListSubmissions(ctx context.Context, opts storage.ListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions`
	var args []any
	if opts.QuestionID != "" {
		args = append(args, opts.QuestionID)
		query += ` WHERE question_id = $1`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) DeleteSubmission(ctx context.Context, id string) error {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE id = $1`, sub.ID); err != nil {
		return fmt.Errorf("deleting submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanSubmission(row pgx.Row) (*storage.Submission, error) {
	var sub storage.Submission
	var status string
	var results []byte
	err := row.Scan(&sub.ID, &sub.QuestionID, &sub.Language, &sub.Code, &sub.Points,
		&sub.Score, &sub.PassedTests, &sub.TotalTests, &sub.AverageExecutionTime,
		&results, &status, &sub.Error, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = storage.SubmissionStatus(status)
	if err := json.Unmarshal(results, &sub.Results); err != nil {
		return nil, fmt.Errorf("unmarshaling results of %s: %w", sub.ID, err)
	}
	return &sub, nil
}
