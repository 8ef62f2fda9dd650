package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/sandbox"
)

var playgroundCmd = &cobra.Command{
	Use:   "playground",
	Short: "Interactively write and grade code against a question",
	Long: `Start an interactive session for a question. Type or paste code,
then /run to grade it. Ctrl+C cancels a running grading.

Examples:
  assessor playground --question add.yaml`,
	RunE: runPlayground,
}

func init() {
	playgroundCmd.Flags().StringVarP(&questionFlag, "question", "q", "", "Question file (.yaml, .yml or .json)")
	playgroundCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(playgroundCmd)
}

// playground is the state of one REPL session.
type playground struct {
	coordinator *grading.Coordinator
	question    *grading.Question
	buf         []string
}

func runPlayground(cmd *cobra.Command, args []string) error {
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

	coordinator, cleanup, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	p := &playground{coordinator: coordinator, question: q}

	fmt.Printf("Assessor - Playground\n")
	fmt.Printf("Question: %s | %d test cases | %g points | backend: %s\n",
		q.ID, len(q.Content.TestCases), q.Points, cfg.Sandbox.Backend)
	fmt.Printf("Type or paste code, /run to grade, /help for commands\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36m>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "assessor_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	// Ctrl+C during a grading cancels that grading only.
	var runCancel context.CancelFunc
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if runCancel != nil {
				runCancel()
			}
		}
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "/") {
			p.buf = append(p.buf, line)
			continue
		}

		fields := strings.Fields(trimmed)
		switch strings.ToLower(fields[0]) {
		case "/quit", "/exit", "/q":
			fmt.Println("Goodbye!")
			return nil
		case "/run", "/r":
			ctx, cancel := context.WithCancel(cmd.Context())
			runCancel = cancel
			p.run(ctx)
			cancel()
			runCancel = nil
		case "/show":
			p.show()
		case "/clear":
			p.buf = nil
			fmt.Println("Buffer cleared.")
			fmt.Println()
		case "/load":
			if len(fields) < 2 {
				fmt.Printf("Usage: /load <file>\n\n")
				continue
			}
			p.load(fields[1])
		case "/help":
			fmt.Println("Commands:")
			fmt.Println("  /run      - Grade the code buffer")
			fmt.Println("  /show     - Print the code buffer")
			fmt.Println("  /clear    - Empty the code buffer")
			fmt.Println("  /load <f> - Replace the buffer with a file")
			fmt.Println("  /quit     - Exit")
			fmt.Println()
		default:
			fmt.Printf("Unknown command: %s (try /help)\n\n", fields[0])
		}
	}
}

func (p *playground) code() string {
	return strings.Join(p.buf, "\n")
}

func (p *playground) run(ctx context.Context) {
	if strings.TrimSpace(p.code()) == "" {
		fmt.Printf("Buffer is empty.\n\n")
		return
	}

	env := grading.NewAnswerEnvelope(p.question.ID, p.code())
	summary, err := p.coordinator.GradeStreaming(ctx, p.question, env, func(r sandbox.ExecutionResult) {
		printResult(r)
	})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Printf("(cancelled)\n\n")
			return
		}
		fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
		return
	}

	s := summary.Summary
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Passed: %d/%d  Score: %g/%g\n\n", s.PassedTests, s.TotalTests, s.Score, p.question.Points)
}

func (p *playground) show() {
	if len(p.buf) == 0 {
		fmt.Printf("Buffer is empty.\n\n")
		return
	}
	for i, line := range p.buf {
		fmt.Printf("\033[90m%3d│\033[0m %s\n", i+1, line)
	}
	fmt.Println()
}

func (p *playground) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("\033[31merror: %s\033[0m\n\n", err)
		return
	}
	p.buf = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	fmt.Printf("Loaded %d lines from %s\n\n", len(p.buf), path)
}
