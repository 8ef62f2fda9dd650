package grading

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/michaelbrown/assessor/internal/sandbox"
	"github.com/rs/zerolog"
)

func testCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	p := sandbox.DefaultPolicy()
	p.Timeout = 500 * time.Millisecond
	reg := sandbox.NewRegistry()
	reg.Register(sandbox.LanguageJavaScript, sandbox.NewGojaRunner(p))
	return NewCoordinator(reg, zerolog.Nop())
}

func addQuestion() *Question {
	return &Question{
		ID:     "q1",
		Type:   QuestionTypeCode,
		Points: 30,
		Content: Content{
			Language: sandbox.LanguageJavaScript,
			TestCases: []sandbox.TestCase{
				{Input: []any{2, 3}, ExpectedOutput: 5},
				{Input: []any{0, 0}, ExpectedOutput: 0},
				{Input: []any{-1, 1}, ExpectedOutput: 0},
			},
		},
	}
}

func TestGradeScenarios(t *testing.T) {
	c := testCoordinator(t)

	tests := []struct {
		name       string
		code       string
		wantPassed []bool
		wantScore  float64
		wantErrors bool
	}{
		{"all pass", "function add(a,b){return a+b}", []bool{true, true, true}, 30, false},
		{"partial credit", "function add(a,b){return a-b}", []bool{false, true, false}, 10, false},
		{"syntax error", "function add(a,b){return a+b", []bool{false, false, false}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := addQuestion()
			got, err := c.Grade(context.Background(), q, NewAnswerEnvelope(q.ID, tt.code))
			if err != nil {
				t.Fatalf("Grade: %v", err)
			}
			if len(got.TestResults) != len(tt.wantPassed) {
				t.Fatalf("got %d results, want %d", len(got.TestResults), len(tt.wantPassed))
			}
			for i, want := range tt.wantPassed {
				r := got.TestResults[i]
				if r.Passed != want {
					t.Errorf("result %d passed = %v, want %v", i, r.Passed, want)
				}
				if tt.wantErrors && r.Error == "" {
					t.Errorf("result %d has no error", i)
				}
			}
			if got.Summary.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", got.Summary.Score, tt.wantScore)
			}
			if got.Summary.TotalTests != 3 {
				t.Errorf("totalTests = %d, want 3", got.Summary.TotalTests)
			}
		})
	}
}

func TestGradeResultOrder(t *testing.T) {
	c := testCoordinator(t)
	q := addQuestion()
	// Earlier cases take longer; results must still follow question order.
	code := `function add(a, b) { var end = Date.now() + (a > 0 ? 30 : 0); while (Date.now() < end) {} return a + b }`

	var streamed []int
	got, err := c.GradeStreaming(context.Background(), q, NewAnswerEnvelope(q.ID, code), func(r sandbox.ExecutionResult) {
		streamed = append(streamed, r.TestCaseIndex)
	})
	if err != nil {
		t.Fatalf("GradeStreaming: %v", err)
	}
	for i, r := range got.TestResults {
		if r.TestCaseIndex != i {
			t.Errorf("testResults[%d].TestCaseIndex = %d", i, r.TestCaseIndex)
		}
		if !sandbox.Equal(r.ExpectedOutput, q.Content.TestCases[i].ExpectedOutput) {
			t.Errorf("testResults[%d] expected output does not match test case %d", i, i)
		}
	}
	if len(streamed) != 3 || streamed[0] != 0 || streamed[1] != 1 || streamed[2] != 2 {
		t.Errorf("streamed order = %v", streamed)
	}
}

func TestGradeValidation(t *testing.T) {
	c := testCoordinator(t)
	code := "function add(a,b){return a+b}"

	tests := []struct {
		name   string
		mutate func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope)
		want   string
	}{
		{"missing question", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			return nil, env
		}, MsgMissingInput},
		{"missing answer", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			return q, nil
		}, MsgMissingInput},
		{"test cases not an array", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			q.Content.TestCases = nil
			return q, env
		}, MsgInvalidTestCases},
		{"not a code question", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			q.Type = "mcq"
			return q, env
		}, MsgNotCodeQuestion},
		{"unsupported language", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			q.Content.Language = "python"
			return q, env
		}, "Unsupported language: python. Only javascript is supported"},
		{"negative points", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			q.Points = -1
			return q, env
		}, MsgInvalidPoints},
		{"answer for another question", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			return q, NewAnswerEnvelope("other", code)
		}, MsgAnswerNotFound},
		{"response not a string", func(q *Question, env *AnswerEnvelope) (*Question, *AnswerEnvelope) {
			env.Answers[0].Answers[0].Response = json.RawMessage(`{"code":1}`)
			return q, env
		}, MsgResponseNotString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := addQuestion()
			q, env := tt.mutate(base, NewAnswerEnvelope(base.ID, code))
			got, err := c.Grade(context.Background(), q, env)
			if got != nil {
				t.Errorf("summary returned on validation failure: %+v", got)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if verr.Message != tt.want {
				t.Errorf("message = %q, want %q", verr.Message, tt.want)
			}
		})
	}
}

func TestGradeFindsNestedAnswer(t *testing.T) {
	c := testCoordinator(t)
	q := addQuestion()
	env := &AnswerEnvelope{Answers: []AnswerGroup{
		{Answers: []Answer{{QuestionID: "other", Response: json.RawMessage(`"function f(){return 0}"`)}}},
		{Answers: []Answer{
			{QuestionID: "x", Response: json.RawMessage(`"b"`)},
			{QuestionID: "q1", Response: json.RawMessage(`"function add(a,b){return a+b}"`)},
		}},
	}}

	got, err := c.Grade(context.Background(), q, env)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got.Summary.PassedTests != 3 {
		t.Errorf("passedTests = %d, want 3", got.Summary.PassedTests)
	}
}

func TestGradeNoTestCases(t *testing.T) {
	c := testCoordinator(t)
	q := addQuestion()
	q.Content.TestCases = []sandbox.TestCase{}

	got, err := c.Grade(context.Background(), q, NewAnswerEnvelope(q.ID, "function f(){}"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got.Summary.Score != 0 || got.Summary.AverageExecutionTime != 0 || got.Summary.TotalTests != 0 {
		t.Errorf("summary = %+v, want zeros", got.Summary)
	}
	if got.TestResults == nil {
		t.Error("testResults should be an empty array, not null")
	}
}

func TestSummarize(t *testing.T) {
	results := func(passed ...bool) []sandbox.ExecutionResult {
		out := make([]sandbox.ExecutionResult, len(passed))
		for i, p := range passed {
			out[i] = sandbox.ExecutionResult{TestCaseIndex: i, Passed: p, ExecutionTime: float64(i + 1)}
		}
		return out
	}

	tests := []struct {
		name    string
		results []sandbox.ExecutionResult
		points  float64
		score   float64
		avg     float64
	}{
		{"empty", nil, 30, 0, 0},
		{"zero points", results(true, true), 0, 0, 1.5},
		{"one of three", results(true, false, false), 30, 10, 2},
		{"two of three", results(true, true, false), 10, 20.0 / 3, 2},
		{"fractional points", results(true, false), 2.5, 1.25, 1.5},
	}

	// The ratio is taken before scaling by points, so the score is bit for
	// bit (passed/total)*points.
	for _, c := range []struct{ passed, total int }{{1, 3}, {2, 3}, {1, 7}, {5, 9}} {
		rs := make([]bool, c.total)
		for i := 0; i < c.passed; i++ {
			rs[i] = true
		}
		got := Summarize(results(rs...), 10).Score
		if want := float64(c.passed) / float64(c.total) * 10; got != want {
			t.Errorf("%d of %d at 10 points: score = %v, want exactly %v", c.passed, c.total, got, want)
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.results, tt.points)
			if math.IsNaN(s.Score) {
				t.Fatal("score is NaN")
			}
			if math.Abs(s.Score-tt.score) > 1e-9 {
				t.Errorf("score = %v, want %v", s.Score, tt.score)
			}
			if math.Abs(s.AverageExecutionTime-tt.avg) > 1e-9 {
				t.Errorf("averageExecutionTime = %v, want %v", s.AverageExecutionTime, tt.avg)
			}
			if s.TotalTests != len(tt.results) {
				t.Errorf("totalTests = %d", s.TotalTests)
			}
		})
	}
}

type failingRunner struct {
	failAt int
	calls  int
}

func (f *failingRunner) Run(ctx context.Context, prog sandbox.Program, tc sandbox.TestCase) (*sandbox.ExecutionResult, error) {
	defer func() { f.calls++ }()
	if f.calls == f.failAt {
		return nil, errors.New("daemon unavailable")
	}
	return &sandbox.ExecutionResult{Passed: true, Output: tc.ExpectedOutput, ExpectedOutput: tc.ExpectedOutput}, nil
}

func TestGradeInternalError(t *testing.T) {
	runner := &failingRunner{failAt: 1}
	reg := sandbox.NewRegistry()
	reg.Register(sandbox.LanguageJavaScript, runner)
	c := NewCoordinator(reg, zerolog.Nop())

	q := addQuestion()
	got, err := c.Grade(context.Background(), q, NewAnswerEnvelope(q.ID, "function f(){}"))
	if got != nil {
		t.Error("partial summary returned on internal error")
	}
	var ierr *InternalError
	if !errors.As(err, &ierr) {
		t.Fatalf("err = %v, want *InternalError", err)
	}
	if ierr.TestCaseIndex != 1 {
		t.Errorf("TestCaseIndex = %d, want 1", ierr.TestCaseIndex)
	}
	if runner.calls != 2 {
		t.Errorf("runner called %d times, remaining cases should be skipped", runner.calls)
	}
}

func TestGradeCancelled(t *testing.T) {
	p := sandbox.DefaultPolicy()
	p.Timeout = 10 * time.Second
	reg := sandbox.NewRegistry()
	reg.Register(sandbox.LanguageJavaScript, sandbox.NewGojaRunner(p))
	c := NewCoordinator(reg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	q := addQuestion()
	start := time.Now()
	_, err := c.Grade(ctx, q, NewAnswerEnvelope(q.ID, "function spin(){ while(true){} }"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var ierr *InternalError
	if errors.As(err, &ierr) {
		t.Error("cancellation must not be reported as an internal error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not stop the run")
	}
}

func TestGradeTimeoutIsFailedTest(t *testing.T) {
	c := testCoordinator(t)
	q := addQuestion()
	q.Content.TestCases = q.Content.TestCases[:1]

	got, err := c.Grade(context.Background(), q, NewAnswerEnvelope(q.ID, "function add(){ while(true){} }"))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	r := got.TestResults[0]
	if r.Passed || r.Error != sandbox.MsgTimedOut {
		t.Errorf("result = %+v, want timeout", r)
	}
}

func TestGradeFunctionName(t *testing.T) {
	c := testCoordinator(t)
	q, err := LoadQuestionFile("testdata/pairs.json")
	if err != nil {
		t.Fatalf("LoadQuestionFile: %v", err)
	}
	code := `
function pairs(xs) { return { count: xs.length, first: xs.slice(0, 2) } }
function helper() { return null }`

	got, err := c.Grade(context.Background(), q, NewAnswerEnvelope(q.ID, code))
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got.Summary.Score != 10 {
		t.Errorf("score = %v, want 10 (results %+v)", got.Summary.Score, got.TestResults)
	}
}
