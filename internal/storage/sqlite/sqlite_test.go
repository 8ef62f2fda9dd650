package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/michaelbrown/assessor/internal/sandbox"
	"github.com/michaelbrown/assessor/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func submission(id, questionID string, created time.Time) *storage.Submission {
	return &storage.Submission{
		ID:                   id,
		QuestionID:           questionID,
		Language:             "javascript",
		Code:                 "function add(a,b){return a+b}",
		Points:               30,
		Score:                20,
		PassedTests:          2,
		TotalTests:           3,
		AverageExecutionTime: 0.001,
		Status:               storage.StatusGraded,
		CreatedAt:            created,
		Results: []sandbox.ExecutionResult{
			{TestCaseIndex: 0, Passed: true, Output: 5.0, ExpectedOutput: 5.0},
			{TestCaseIndex: 1, Passed: true, Output: 0.0, ExpectedOutput: 0.0},
			{TestCaseIndex: 2, Error: "Execution timed out", ExpectedOutput: 0.0, Logs: []string{"x"}},
		},
	}
}

func TestSaveAndGetSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sub := submission("abc12345-0000-0000-0000-000000000000", "q1", time.Time{})
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	if sub.CreatedAt.IsZero() {
		t.Error("SaveSubmission should set created_at")
	}

	got, err := s.GetSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.QuestionID != "q1" {
		t.Errorf("question_id = %q, want %q", got.QuestionID, "q1")
	}
	if got.Score != 20 || got.PassedTests != 2 || got.TotalTests != 3 {
		t.Errorf("score fields = %v %d %d", got.Score, got.PassedTests, got.TotalTests)
	}
	if got.Status != storage.StatusGraded {
		t.Errorf("status = %q, want %q", got.Status, storage.StatusGraded)
	}
	if len(got.Results) != 3 || got.Results[2].Error != "Execution timed out" || got.Results[2].Logs[0] != "x" {
		t.Errorf("results = %+v", got.Results)
	}
	if !got.CreatedAt.Equal(sub.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, sub.CreatedAt)
	}
}

func TestGetSubmissionByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s.SaveSubmission(ctx, submission("abcd1111-0000", "q1", now))
	s.SaveSubmission(ctx, submission("abcd2222-0000", "q1", now))

	got, err := s.GetSubmission(ctx, "abcd1")
	if err != nil {
		t.Fatalf("GetSubmission by prefix: %v", err)
	}
	if got.ID != "abcd1111-0000" {
		t.Errorf("id = %q", got.ID)
	}

	if _, err := s.GetSubmission(ctx, "abcd"); !errors.Is(err, storage.ErrAmbiguous) {
		t.Errorf("err = %v, want ErrAmbiguous", err)
	}

	_, err = s.GetSubmission(ctx, "zzz")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// LIKE wildcards in the prefix are literal.
	if _, err := s.GetSubmission(ctx, "abcd_"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("wildcard prefix err = %v, want ErrNotFound", err)
	}
}

func TestListSubmissions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	s.SaveSubmission(ctx, submission("s1", "q1", base))
	s.SaveSubmission(ctx, submission("s2", "q2", base.Add(time.Minute)))
	s.SaveSubmission(ctx, submission("s3", "q1", base.Add(time.Minute+500*time.Millisecond)))

	all, err := s.ListSubmissions(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "s3" || all[1].ID != "s2" || all[2].ID != "s1" {
		t.Errorf("order = %s %s %s, want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	q1, err := s.ListSubmissions(ctx, storage.ListOptions{QuestionID: "q1"})
	if err != nil {
		t.Fatalf("ListSubmissions(q1): %v", err)
	}
	if len(q1) != 2 {
		t.Errorf("q1 count = %d, want 2", len(q1))
	}

	page, err := s.ListSubmissions(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListSubmissions(page): %v", err)
	}
	if len(page) != 1 || page[0].ID != "s2" {
		t.Errorf("page = %+v", page)
	}
}

func TestListSubmissionsEmpty(t *testing.T) {
	s := testStore(t)
	subs, err := s.ListSubmissions(context.Background(), storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if subs == nil || len(subs) != 0 {
		t.Errorf("subs = %#v, want empty non-nil slice", subs)
	}
}

func TestDeleteSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.SaveSubmission(ctx, submission("del12345", "q1", time.Now()))

	if err := s.DeleteSubmission(ctx, "del1"); err != nil {
		t.Fatalf("DeleteSubmission: %v", err)
	}
	if _, err := s.GetSubmission(ctx, "del12345"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSubmission(ctx, "del1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestFailedSubmission(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sub := &storage.Submission{
		ID:         "fail1",
		QuestionID: "q1",
		Language:   "javascript",
		Status:     storage.StatusFailed,
		Error:      "grading test case 0: daemon unavailable",
	}
	if err := s.SaveSubmission(ctx, sub); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	got, err := s.GetSubmission(ctx, "fail1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Status != storage.StatusFailed || got.Error == "" {
		t.Errorf("got %+v", got)
	}
	if len(got.Results) != 0 {
		t.Errorf("results = %v, want none", got.Results)
	}
}

func TestOpenFileAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "assessor.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SaveSubmission(ctx, submission("keep1", "q1", time.Now())); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetSubmission(ctx, "keep1"); err != nil {
		t.Errorf("GetSubmission after reopen: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
