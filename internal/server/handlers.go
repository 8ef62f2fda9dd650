package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/metrics"
	"github.com/michaelbrown/assessor/internal/sandbox"
	"github.com/michaelbrown/assessor/internal/storage"
)

// MsgCancelled is returned when a grading is cancelled before it completes.
const MsgCancelled = "Code execution was cancelled"

// maxBodyBytes bounds request bodies; code size itself is bounded by the
// sandbox policy.
const maxBodyBytes = 1 << 20

// --- JSON helpers ---

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type executeResponse struct {
	Success      bool                  `json:"success"`
	Results      *grading.GradeSummary `json:"results"`
	SubmissionID string                `json:"submissionId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// errorStatus maps a grading error to the HTTP status and the message
// exposed to the caller.
func errorStatus(err error) (int, string) {
	var verr *grading.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Message
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, MsgCancelled
	default:
		return http.StatusInternalServerError, grading.MsgInternal
	}
}

// --- Grading ---

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req grading.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sub, err := s.coordinator.Prepare(req.Question, req.Answer)
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return
	}

	ctx, run := s.runs.Start(r.Context(), sub.Question.ID, "http")
	defer s.runs.Finish(run.ID)

	summary, submissionID, err := s.grade(ctx, run, sub, nil)
	if err != nil {
		status, msg := errorStatus(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Success:      true,
		Results:      summary,
		SubmissionID: submissionID,
	})
}

// grade runs a prepared submission and persists the outcome. The returned
// submission id is empty when nothing was stored.
func (s *Server) grade(ctx context.Context, run *Run, sub *grading.Submission, onResult func(sandbox.ExecutionResult)) (*grading.GradeSummary, string, error) {
	summary, err := s.coordinator.Run(ctx, sub, onResult)
	if err != nil {
		var ierr *grading.InternalError
		if errors.As(err, &ierr) {
			s.save(ctx, &storage.Submission{
				ID:         run.ID,
				QuestionID: sub.Question.ID,
				Language:   sub.Question.Content.Language,
				Code:       sub.Code,
				Points:     sub.Question.Points,
				TotalTests: len(sub.Question.Content.TestCases),
				Status:     storage.StatusFailed,
				Error:      ierr.Error(),
			})
		}
		return nil, "", err
	}

	id := ""
	if s.save(ctx, &storage.Submission{
		ID:                   run.ID,
		QuestionID:           sub.Question.ID,
		Language:             sub.Question.Content.Language,
		Code:                 sub.Code,
		Points:               sub.Question.Points,
		Score:                summary.Summary.Score,
		PassedTests:          summary.Summary.PassedTests,
		TotalTests:           summary.Summary.TotalTests,
		AverageExecutionTime: summary.Summary.AverageExecutionTime,
		Results:              summary.TestResults,
		Status:               storage.StatusGraded,
	}) {
		id = run.ID
	}
	return summary, id, nil
}

// save persists a submission. Failures are logged and never affect the
// grading response.
func (s *Server) save(ctx context.Context, sub *storage.Submission) bool {
	if s.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.store.SaveSubmission(ctx, sub); err != nil {
		metrics.StoreErrors.WithLabelValues("save").Inc()
		s.logger.Error().Err(err).Str("submission", sub.ID).Msg("failed to save submission")
		return false
	}
	return true
}

// --- Submission handlers ---

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Submission storage is disabled")
		return false
	}
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Submission not found")
	case errors.Is(err, storage.ErrAmbiguous):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		metrics.StoreErrors.WithLabelValues("read").Inc()
		s.logger.Error().Err(err).Msg("submission store error")
		writeError(w, http.StatusInternalServerError, "Submission store error")
	}
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	opts := storage.ListOptions{QuestionID: r.URL.Query().Get("questionId")}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	subs, err := s.store.ListSubmissions(r.Context(), opts)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if subs == nil {
		subs = []storage.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	sub, err := s.store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleExportSubmission(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	sub, err := s.store.GetSubmission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(storage.ExportMarkdown(sub)))
	case "json":
		data, err := storage.ExportJSON(sub)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, "Unknown export format: "+format)
	}
}

func (s *Server) handleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.DeleteSubmission(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Runs ---

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runs.List())
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.runs.Cancel(id) {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	s.logger.Info().Str("run", id).Msg("run cancelled by request")
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

type healthResponse struct {
	Status    string   `json:"status"`
	Backend   string   `json:"backend"`
	Languages []string `json:"languages"`
	Storage   string   `json:"storage"`
	Runs      int      `json:"runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Backend:   s.cfg.Sandbox.Backend,
		Languages: s.coordinator.Languages(),
		Storage:   "disabled",
		Runs:      len(s.runs.List()),
	}
	status := http.StatusOK

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Storage = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Storage = s.cfg.Storage.Driver
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, resp)
}
