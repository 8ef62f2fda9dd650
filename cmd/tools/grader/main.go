package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/sandbox"
)

var coordinator *grading.Coordinator

func main() {
	// stdout carries the MCP protocol, so logs go to stderr.
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "grader").Logger().Level(zerolog.WarnLevel)

	registry := sandbox.NewRegistry()
	registry.Register(sandbox.LanguageJavaScript, sandbox.NewGojaRunner(sandbox.DefaultPolicy()))
	coordinator = grading.NewCoordinator(registry, logger)

	s := server.NewMCPServer("assessor-grader", "0.1.0")

	s.AddTool(mcp.Tool{
		Name: "grade_code",
		Description: fmt.Sprintf("Grade source code against the test cases of a coding question in a sandbox. "+
			"Supported languages: %s. Returns per-test results and a score.", strings.Join(registry.Languages(), ", ")),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"question": map[string]any{
					"type":        "object",
					"description": `Question object: {"_id", "type": "code", "points", "content": {"language", "testCases": [{"input", "expectedOutput"}], "functionName"}}`,
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to grade",
				},
			},
			Required: []string{"question", "code"},
		},
	}, handleGradeCode)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func handleGradeCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	code, ok := args["code"].(string)
	if !ok || args["question"] == nil {
		return errResult("error: 'question' and 'code' are required"), nil
	}
	raw, err := json.Marshal(args["question"])
	if err != nil {
		return errResult(fmt.Sprintf("error: invalid question: %v", err)), nil
	}

	var q grading.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return errResult(fmt.Sprintf("error: invalid question: %v", err)), nil
	}
	if q.Type == "" {
		q.Type = grading.QuestionTypeCode
	}

	summary, err := coordinator.Grade(ctx, &q, grading.NewAnswerEnvelope(q.ID, code))
	if err != nil {
		var verr *grading.ValidationError
		if errors.As(err, &verr) {
			return errResult("error: " + verr.Message), nil
		}
		if ctx.Err() != nil {
			return errResult("error: grading cancelled"), nil
		}
		return errResult("error: " + grading.MsgInternal), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: render(summary)}},
		IsError: false,
	}, nil
}

// render is a short report followed by the full summary as JSON.
func render(summary *grading.GradeSummary) string {
	var b strings.Builder
	s := summary.Summary
	fmt.Fprintf(&b, "passed %d/%d, score %g\n", s.PassedTests, s.TotalTests, s.Score)
	for _, r := range summary.TestResults {
		status := "pass"
		if !r.Passed {
			status = "fail"
		}
		fmt.Fprintf(&b, "test %d: %s", r.TestCaseIndex+1, status)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteString("\n")
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		text := string(data)
		if len(text) > 8000 {
			text = text[:8000] + "\n... (output truncated)"
		}
		b.WriteString("\n" + text)
	}
	return b.String()
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
