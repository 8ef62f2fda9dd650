package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/sandbox"
)

var (
	questionFlag string
	codeFlag     string
	functionFlag string
	jsonFlag     bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Grade a solution file against a question file",
	Long: `Grade a JavaScript file against the test cases of a question file
(YAML or JSON) without starting the server. The command exits non-zero
when any test case fails.

Examples:
  assessor check --question add.yaml --code add.js
  assessor check --question pairs.json --code pairs.js --json`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&questionFlag, "question", "q", "", "Question file (.yaml, .yml or .json)")
	checkCmd.Flags().StringVarP(&codeFlag, "code", "c", "", "Solution file")
	checkCmd.Flags().StringVar(&functionFlag, "function", "", "Entry point name (overrides the question)")
	checkCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the grade summary as JSON")
	checkCmd.MarkFlagRequired("question")
	checkCmd.MarkFlagRequired("code")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevelFlag == "" {
		cfg.Log.Level = "warn"
	}
	logger := newLogger(cfg, os.Stderr)

	q, err := grading.LoadQuestionFile(questionFlag)
	if err != nil {
		return err
	}
	if functionFlag != "" {
		q.Content.FunctionName = functionFlag
	}
	code, err := os.ReadFile(codeFlag)
	if err != nil {
		return fmt.Errorf("reading solution: %w", err)
	}

	coordinator, cleanup, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := coordinator.Grade(cmd.Context(), q, grading.NewAnswerEnvelope(q.ID, string(code)))
	if err != nil {
		return err
	}

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		printSummary(summary, q.Points)
	}

	if failed := summary.Summary.TotalTests - summary.Summary.PassedTests; failed > 0 {
		return fmt.Errorf("%d of %d test cases failed", failed, summary.Summary.TotalTests)
	}
	return nil
}

func printSummary(summary *grading.GradeSummary, points float64) {
	for _, r := range summary.TestResults {
		printResult(r)
	}
	s := summary.Summary
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Passed: %d/%d  Score: %g/%g  Avg time: %.2fms\n",
		s.PassedTests, s.TotalTests, s.Score, points, s.AverageExecutionTime*1000)
}

func printResult(r sandbox.ExecutionResult) {
	mark := "\033[32m✓\033[0m"
	if !r.Passed {
		mark = "\033[31m✗\033[0m"
	}
	fmt.Printf("%s test %d  (%.2fms)\n", mark, r.TestCaseIndex+1, r.ExecutionTime*1000)
	if !r.Passed {
		if r.Error != "" {
			fmt.Printf("  \033[31merror:\033[0m    %s\n", truncate(r.Error, 200))
		} else {
			fmt.Printf("  expected: %s\n", compact(r.ExpectedOutput))
			fmt.Printf("  got:      %s\n", compact(r.Output))
		}
	}
	for _, line := range r.Logs {
		fmt.Printf("  \033[90m│ %s\033[0m\n", truncate(line, 120))
	}
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return truncate(string(data), 200)
}
