package storage

import (
	"context"
	"errors"
	"time"

	"github.com/michaelbrown/assessor/internal/sandbox"
)

var (
	// ErrNotFound is returned when no submission matches an id or prefix.
	ErrNotFound = errors.New("submission not found")

	// ErrAmbiguous is returned when an id prefix matches more than one submission.
	ErrAmbiguous = errors.New("ambiguous submission prefix")
)

// SubmissionStatus records how a grading attempt ended.
type SubmissionStatus string

const (
	StatusGraded SubmissionStatus = "graded"
	StatusFailed SubmissionStatus = "failed"
)

// Submission is one graded (or failed) answer.
type Submission struct {
	ID                   string                    `json:"id"`
	QuestionID           string                    `json:"question_id"`
	Language             string                    `json:"language"`
	Code                 string                    `json:"code"`
	Points               float64                   `json:"points"`
	Score                float64                   `json:"score"`
	PassedTests          int                       `json:"passed_tests"`
	TotalTests           int                       `json:"total_tests"`
	AverageExecutionTime float64                   `json:"average_execution_time"`
	Results              []sandbox.ExecutionResult `json:"results"`
	Status               SubmissionStatus          `json:"status"`
	Error                string                    `json:"error,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
}

// ListOptions controls filtering and pagination for ListSubmissions.
type ListOptions struct {
	QuestionID string
	Limit      int
	Offset     int
}

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// Store is the persistence interface for graded submissions.
type Store interface {
	// SaveSubmission inserts a submission. The ID field must be set by the caller.
	SaveSubmission(ctx context.Context, s *Submission) error

	// GetSubmission returns a submission by ID or unique ID prefix.
	GetSubmission(ctx context.Context, id string) (*Submission, error)

	// ListSubmissions returns submissions ordered by created_at descending.
	ListSubmissions(ctx context.Context, opts ListOptions) ([]Submission, error)

	// DeleteSubmission removes a submission by ID or unique ID prefix.
	DeleteSubmission(ctx context.Context, id string) error

	// Ping checks the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
