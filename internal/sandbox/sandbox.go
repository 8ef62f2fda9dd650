package sandbox

import (
	"context"
	"errors"
)

// Messages reported in ExecutionResult.Error for failures that are not
// exceptions raised by the candidate code itself.
const (
	MsgTimedOut     = "Execution timed out"
	MsgEmptyCode    = "No code provided"
	MsgNoEntryPoint = "No function found in submitted code"
	MsgCodeTooLarge = "Submitted code exceeds the maximum allowed size"
	MsgMemoryLimit  = "Memory limit exceeded"

	MsgStackOverflow = "RangeError: Maximum call stack size exceeded"
)

var (
	// ErrUnsupportedLanguage is returned by Registry.Get for languages without a runner.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrImageNotAllowed is returned when a docker image is not on the policy allowlist.
	ErrImageNotAllowed = errors.New("image not in allowlist")
)

// TestCase is one input / expected output pair of a coding question.
type TestCase struct {
	Input          any `json:"input" yaml:"input"`
	ExpectedOutput any `json:"expectedOutput" yaml:"expectedOutput"`
}

// ExecutionResult is the outcome of running a program against one test case.
// Passed is only true when Error is empty and Output equals ExpectedOutput.
type ExecutionResult struct {
	TestCaseIndex  int      `json:"testCaseIndex"`
	Passed         bool     `json:"passed"`
	Output         any      `json:"output"`
	ExpectedOutput any      `json:"expectedOutput"`
	ExecutionTime  float64  `json:"executionTime"` // seconds
	Error          string   `json:"error,omitempty"`
	Logs           []string `json:"logs,omitempty"`
}

// Program is candidate source code plus an optional entry point name.
// When EntryPoint is empty the runner resolves one by convention.
type Program struct {
	Code       string
	EntryPoint string
}

// Runner executes untrusted code against a single test case in a fresh,
// isolated context. Failures caused by the code (exceptions, syntax errors,
// timeouts, wrong output) are reported in the result. A non-nil error means
// the sandbox itself failed or ctx was cancelled.
type Runner interface {
	Run(ctx context.Context, prog Program, tc TestCase) (*ExecutionResult, error)
}

func failed(tc TestCase, msg string) *ExecutionResult {
	return &ExecutionResult{
		ExpectedOutput: tc.ExpectedOutput,
		Error:          msg,
	}
}
