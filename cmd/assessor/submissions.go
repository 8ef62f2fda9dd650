package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/storage"
)

var (
	questionFilter string
	limitFlag      int
	exportFormat   string
	exportOutput   string
	forceFlag      bool
)

var submissionsCmd = &cobra.Command{
	Use:     "submissions",
	Aliases: []string{"submission", "subs"},
	Short:   "Inspect stored gradings",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored submissions",
	RunE:  runSubmissionsList,
}

var submissionsShowCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Show a submission with its test results",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsShow,
}

var submissionsDeleteCmd = &cobra.Command{
	Use:   "delete <submission-id>",
	Short: "Delete a submission",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsDelete,
}

var submissionsExportCmd = &cobra.Command{
	Use:   "export <submission-id>",
	Short: "Export a submission as markdown or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmissionsExport,
}

func init() {
	rootCmd.AddCommand(submissionsCmd)
	submissionsCmd.AddCommand(submissionsListCmd, submissionsShowCmd, submissionsDeleteCmd, submissionsExportCmd)

	submissionsListCmd.Flags().StringVar(&questionFilter, "question", "", "Filter by question id")
	submissionsListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max submissions to show")

	submissionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	submissionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	submissionsDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func requireStore(cmd *cobra.Command) (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("submission storage is disabled (storage.driver = none)")
	}
	return store, nil
}

func runSubmissionsList(cmd *cobra.Command, args []string) error {
	store, err := requireStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.ListSubmissions(cmd.Context(), storage.ListOptions{
		QuestionID: questionFilter,
		Limit:      limitFlag,
	})
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		fmt.Println("No submissions found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-20s %-8s %-8s %-12s %s\n", "ID", "QUESTION", "STATUS", "PASSED", "SCORE", "CREATED")
	fmt.Println(strings.Repeat("─", 75))

	for _, s := range subs {
		question := s.QuestionID
		if len(question) > 18 {
			question = question[:18] + ".."
		}
		fmt.Printf("%-10s %-20s %-8s %-8s %-12s %s\n",
			shortID(s.ID), question, s.Status,
			fmt.Sprintf("%d/%d", s.PassedTests, s.TotalTests),
			fmt.Sprintf("%g/%g", s.Score, s.Points),
			timeAgo(s.CreatedAt))
	}

	return nil
}

func runSubmissionsShow(cmd *cobra.Command, args []string) error {
	store, err := requireStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := store.GetSubmission(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Submission: %s\n", sub.ID)
	fmt.Printf("Question:   %s\n", sub.QuestionID)
	fmt.Printf("Language:   %s\n", sub.Language)
	fmt.Printf("Status:     %s\n", sub.Status)
	fmt.Printf("Created:    %s\n", sub.CreatedAt.Format(time.RFC3339))
	if sub.Error != "" {
		fmt.Printf("Error:      %s\n", sub.Error)
	}

	fmt.Printf("\nCode:\n")
	fmt.Println(strings.Repeat("─", 60))
	fmt.Println(strings.TrimRight(sub.Code, "\n"))
	fmt.Println(strings.Repeat("─", 60))

	if len(sub.Results) == 0 {
		return nil
	}
	fmt.Println()
	printSummary(&grading.GradeSummary{
		TestResults: sub.Results,
		Summary: grading.Summary{
			TotalTests:           sub.TotalTests,
			PassedTests:          sub.PassedTests,
			AverageExecutionTime: sub.AverageExecutionTime,
			Score:                sub.Score,
		},
	}, sub.Points)
	return nil
}

func runSubmissionsDelete(cmd *cobra.Command, args []string) error {
	store, err := requireStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sub, err := store.GetSubmission(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete submission %s for question %q? [y/N] ", shortID(sub.ID), sub.QuestionID)
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteSubmission(ctx, sub.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted submission %s\n", shortID(sub.ID))
	return nil
}

func runSubmissionsExport(cmd *cobra.Command, args []string) error {
	store, err := requireStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := store.GetSubmission(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(sub)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(sub)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
