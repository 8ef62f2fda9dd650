package grading

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/michaelbrown/assessor/internal/sandbox"
)

// QuestionTypeCode is the only question type the coordinator grades.
const QuestionTypeCode = "code"

// Question is a coding question as stored by the question bank.
type Question struct {
	ID      string  `json:"_id" yaml:"id"`
	Type    string  `json:"type" yaml:"type"`
	Points  float64 `json:"points" yaml:"points"`
	Content Content `json:"content" yaml:"content"`
}

// Content holds the language and test cases of a coding question.
// TestCases is nil when the field is missing or is not an array.
type Content struct {
	Language     string             `json:"language" yaml:"language"`
	TestCases    []sandbox.TestCase `json:"testCases" yaml:"testCases"`
	FunctionName string             `json:"functionName,omitempty" yaml:"functionName,omitempty"`
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var raw struct {
		Language     string          `json:"language"`
		TestCases    json.RawMessage `json:"testCases"`
		FunctionName string          `json:"functionName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Language = raw.Language
	c.FunctionName = raw.FunctionName
	c.TestCases = nil

	tc := bytes.TrimSpace(raw.TestCases)
	if len(tc) == 0 || tc[0] != '[' {
		return nil
	}
	if err := json.Unmarshal(tc, &c.TestCases); err != nil {
		return fmt.Errorf("decoding testCases: %w", err)
	}
	return nil
}

// AnswerEnvelope is a candidate's full submission: answer groups, each
// holding answers to individual questions.
type AnswerEnvelope struct {
	Answers []AnswerGroup `json:"answers" yaml:"answers"`
}

type AnswerGroup struct {
	Answers []Answer `json:"answers" yaml:"answers"`
}

// Answer is one response. For code questions Response is a JSON string
// holding the source code.
type Answer struct {
	QuestionID string          `json:"questionId" yaml:"questionId"`
	Response   json.RawMessage `json:"response" yaml:"-"`
}

// NewAnswerEnvelope wraps source code as the single answer to questionID.
func NewAnswerEnvelope(questionID, code string) *AnswerEnvelope {
	resp, _ := json.Marshal(code)
	return &AnswerEnvelope{Answers: []AnswerGroup{{
		Answers: []Answer{{QuestionID: questionID, Response: resp}},
	}}}
}

// Find returns the first answer to questionID across all groups.
func (e *AnswerEnvelope) Find(questionID string) (*Answer, bool) {
	for i := range e.Answers {
		for j := range e.Answers[i].Answers {
			if e.Answers[i].Answers[j].QuestionID == questionID {
				return &e.Answers[i].Answers[j], true
			}
		}
	}
	return nil, false
}

// Code decodes the response as source code.
func (a *Answer) Code() (string, bool) {
	var code string
	if len(a.Response) == 0 || json.Unmarshal(a.Response, &code) != nil {
		return "", false
	}
	return code, true
}

// Request is the body of an execute call.
type Request struct {
	Question *Question       `json:"question"`
	Answer   *AnswerEnvelope `json:"answer"`
}

// Summary aggregates the results of one grading.
type Summary struct {
	TotalTests           int     `json:"totalTests"`
	PassedTests          int     `json:"passedTests"`
	AverageExecutionTime float64 `json:"averageExecutionTime"`
	Score                float64 `json:"score"`
}

// GradeSummary is the complete outcome of grading one answer.
type GradeSummary struct {
	TestResults []sandbox.ExecutionResult `json:"testResults"`
	Summary     Summary                   `json:"summary"`
}

// Summarize computes the summary for results graded out of points.
func Summarize(results []sandbox.ExecutionResult, points float64) Summary {
	s := Summary{TotalTests: len(results)}
	if s.TotalTests == 0 {
		return s
	}
	var total float64
	for _, r := range results {
		if r.Passed {
			s.PassedTests++
		}
		total += r.ExecutionTime
	}
	s.AverageExecutionTime = total / float64(s.TotalTests)
	s.Score = float64(s.PassedTests) / float64(s.TotalTests) * points
	return s
}
