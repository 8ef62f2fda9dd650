package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/michaelbrown/assessor/internal/metrics"
	"github.com/michaelbrown/assessor/internal/sandbox"
	"github.com/rs/zerolog"
)

// Coordinator grades answers by running every test case of a question
// through the runner registered for the question's language.
type Coordinator struct {
	registry *sandbox.Registry
	logger   zerolog.Logger
}

func NewCoordinator(registry *sandbox.Registry, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		logger:   logger.With().Str("component", "grading").Logger(),
	}
}

// Languages lists the languages that can be graded.
func (c *Coordinator) Languages() []string {
	return c.registry.Languages()
}

// Submission is a validated request ready to execute.
type Submission struct {
	Question *Question
	Code     string
	runner   sandbox.Runner
}

// Prepare validates q and env and extracts the code to grade. All failures
// are *ValidationError.
func (c *Coordinator) Prepare(q *Question, env *AnswerEnvelope) (*Submission, error) {
	sub, err := c.prepare(q, env)
	if err != nil {
		metrics.GradingsTotal.WithLabelValues(c.language(q), "invalid").Inc()
		c.logger.Debug().Err(err).Msg("rejected submission")
		return nil, err
	}
	return sub, nil
}

func (c *Coordinator) prepare(q *Question, env *AnswerEnvelope) (*Submission, error) {
	if q == nil || env == nil {
		return nil, invalid(MsgMissingInput)
	}
	if q.Content.TestCases == nil {
		return nil, invalid(MsgInvalidTestCases)
	}
	if q.Type != QuestionTypeCode {
		return nil, invalid(MsgNotCodeQuestion)
	}
	runner, err := c.registry.Get(q.Content.Language)
	if err != nil {
		return nil, invalid("Unsupported language: %s. Only %s is supported",
			q.Content.Language, strings.Join(c.registry.Languages(), ", "))
	}
	if q.Points < 0 {
		return nil, invalid(MsgInvalidPoints)
	}
	answer, ok := env.Find(q.ID)
	if !ok {
		return nil, invalid(MsgAnswerNotFound)
	}
	code, ok := answer.Code()
	if !ok {
		return nil, invalid(MsgResponseNotString)
	}
	return &Submission{Question: q, Code: code, runner: runner}, nil
}

// Grade validates the request and grades it. It returns either a complete
// summary or an error: *ValidationError before anything ran, *InternalError
// when the sandbox failed, or ctx's error when cancelled.
func (c *Coordinator) Grade(ctx context.Context, q *Question, env *AnswerEnvelope) (*GradeSummary, error) {
	return c.GradeStreaming(ctx, q, env, nil)
}

// GradeStreaming is Grade with onResult called after each test case, in
// order, as soon as its result is available.
func (c *Coordinator) GradeStreaming(ctx context.Context, q *Question, env *AnswerEnvelope, onResult func(sandbox.ExecutionResult)) (*GradeSummary, error) {
	sub, err := c.Prepare(q, env)
	if err != nil {
		return nil, err
	}
	return c.Run(ctx, sub, onResult)
}

// Run executes a prepared submission. Test cases run one at a time in
// question order; nothing is retried.
func (c *Coordinator) Run(ctx context.Context, sub *Submission, onResult func(sandbox.ExecutionResult)) (*GradeSummary, error) {
	q := sub.Question
	lang := q.Content.Language
	prog := sandbox.Program{Code: sub.Code, EntryPoint: q.Content.FunctionName}
	log := c.logger.With().Str("question", q.ID).Str("language", lang).Logger()

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	start := time.Now()
	results := make([]sandbox.ExecutionResult, 0, len(q.Content.TestCases))
	for i, tc := range q.Content.TestCases {
		if err := ctx.Err(); err != nil {
			return nil, c.abort(ctx, log, lang, i, err)
		}

		res, err := sub.runner.Run(ctx, prog, tc)
		if err != nil {
			return nil, c.abort(ctx, log, lang, i, err)
		}
		res.TestCaseIndex = i
		results = append(results, *res)
		observe(lang, res)

		if onResult != nil {
			onResult(*res)
		}
	}

	summary := &GradeSummary{
		TestResults: results,
		Summary:     Summarize(results, q.Points),
	}
	metrics.GradingsTotal.WithLabelValues(lang, "graded").Inc()
	log.Info().
		Int("passed", summary.Summary.PassedTests).
		Int("total", summary.Summary.TotalTests).
		Float64("score", summary.Summary.Score).
		Dur("elapsed", time.Since(start)).
		Msg("graded submission")
	return summary, nil
}

// abort classifies a failure that stopped grading at test case index.
// Cancellation of ctx is returned as is; anything else is an InternalError.
func (c *Coordinator) abort(ctx context.Context, log zerolog.Logger, lang string, index int, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		metrics.GradingsTotal.WithLabelValues(lang, "cancelled").Inc()
		log.Info().Int("test_case", index).Err(err).Msg("grading cancelled")
		return fmt.Errorf("grading cancelled at test case %d: %w", index, err)
	}
	metrics.GradingsTotal.WithLabelValues(lang, "internal").Inc()
	log.Error().Int("test_case", index).Err(err).Msg("sandbox failure")
	return &InternalError{TestCaseIndex: index, Err: err}
}

func observe(lang string, res *sandbox.ExecutionResult) {
	status := "failed"
	switch {
	case res.Error == sandbox.MsgTimedOut:
		status = "timeout"
	case res.Error != "":
		status = "error"
	case res.Passed:
		status = "passed"
	}
	metrics.TestCasesTotal.WithLabelValues(lang, status).Inc()
	metrics.ExecutionDuration.WithLabelValues(lang).Observe(res.ExecutionTime * 1000)
}

// language is the metrics label for q, bounded to registered languages.
func (c *Coordinator) language(q *Question) string {
	if q == nil {
		return "unknown"
	}
	if _, err := c.registry.Get(q.Content.Language); err != nil {
		return "unknown"
	}
	return q.Content.Language
}
