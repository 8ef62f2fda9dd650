package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders a submission and its per-test results as a
// markdown report.
func ExportMarkdown(sub *Submission) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Submission %s\n\n", sub.ID))
	b.WriteString(fmt.Sprintf("- **Question:** %s\n", sub.QuestionID))
	b.WriteString(fmt.Sprintf("- **Language:** %s\n", sub.Language))
	b.WriteString(fmt.Sprintf("- **Status:** %s\n", sub.Status))
	b.WriteString(fmt.Sprintf("- **Score:** %s / %s\n", formatNumber(sub.Score), formatNumber(sub.Points)))
	b.WriteString(fmt.Sprintf("- **Passed:** %d of %d\n", sub.PassedTests, sub.TotalTests))
	b.WriteString(fmt.Sprintf("- **Average time:** %.2f ms\n", sub.AverageExecutionTime*1000))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", sub.CreatedAt.Format("2006-01-02 15:04:05")))
	if sub.Error != "" {
		b.WriteString(fmt.Sprintf("- **Error:** %s\n", sub.Error))
	}

	b.WriteString("\n## Code\n\n```javascript\n")
	b.WriteString(strings.TrimRight(sub.Code, "\n"))
	b.WriteString("\n```\n")

	if len(sub.Results) == 0 {
		return b.String()
	}

	b.WriteString("\n## Results\n\n")
	b.WriteString("| # | Result | Output | Expected | Time (ms) |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, r := range sub.Results {
		verdict := "pass"
		if !r.Passed {
			verdict = "fail"
		}
		output := inlineJSON(r.Output)
		if r.Error != "" {
			output = "error: " + r.Error
		}
		b.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %.2f |\n",
			r.TestCaseIndex, verdict, cell(output), cell(inlineJSON(r.ExpectedOutput)), r.ExecutionTime*1000))
	}

	for _, r := range sub.Results {
		if len(r.Logs) == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("\n<details>\n<summary>Console output, test %d</summary>\n\n```\n%s\n```\n</details>\n",
			r.TestCaseIndex, strings.Join(r.Logs, "\n")))
	}

	return b.String()
}

// ExportJSON renders a submission as formatted JSON.
func ExportJSON(sub *Submission) ([]byte, error) {
	return json.MarshalIndent(sub, "", "  ")
}

func inlineJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func formatNumber(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
