package grading

import "fmt"

// MsgInternal is the only message exposed to callers for internal failures.
const MsgInternal = "Internal server error during code execution"

// Validation messages returned before any code runs.
const (
	MsgMissingInput      = "Question and answer are required"
	MsgInvalidTestCases  = "Invalid question format: testCases must be an array"
	MsgNotCodeQuestion   = "Only code questions can be executed"
	MsgInvalidPoints     = "Question points must be a non-negative number"
	MsgAnswerNotFound    = "Answer not found for this question"
	MsgResponseNotString = "Answer response must be a string of source code"
)

// ValidationError reports a malformed or inapplicable request. Nothing has
// been executed when one is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// InternalError reports a sandbox failure that aborted grading.
type InternalError struct {
	TestCaseIndex int
	Err           error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("grading test case %d: %v", e.TestCaseIndex, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
