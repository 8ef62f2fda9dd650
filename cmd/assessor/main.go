package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/assessor/internal/config"
	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/logging"
	"github.com/michaelbrown/assessor/internal/sandbox"
	"github.com/michaelbrown/assessor/internal/storage"
	"github.com/michaelbrown/assessor/internal/storage/postgres"
	"github.com/michaelbrown/assessor/internal/storage/sqlite"
)

var (
	configFlag   string
	backendFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "assessor",
	Short: "Assessor - sandboxed JavaScript grading engine",
	Long: `Assessor runs submitted JavaScript against a question's test cases
in an isolated sandbox and reports per-test results and a score.

It can serve the grading API over HTTP, grade a single file from the
command line, or drop into an interactive playground.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: ./assessor.yaml or ~/.assessor/assessor.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Sandbox backend: goja or docker (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies persistent flag overrides on top of the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if backendFlag != "" {
		cfg.Sandbox.Backend = backendFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logging.New(w, cfg.Log.Level, cfg.Log.Format)
}

// buildCoordinator registers the configured JavaScript runner. The returned
// func releases backend resources.
func buildCoordinator(cfg *config.Config, logger zerolog.Logger) (*grading.Coordinator, func(), error) {
	runner, err := sandbox.NewRunner(cfg.Sandbox.Backend, cfg.Policy(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s sandbox: %w", cfg.Sandbox.Backend, err)
	}
	cleanup := func() {}
	if c, ok := runner.(io.Closer); ok {
		cleanup = func() { c.Close() }
	}

	registry := sandbox.NewRegistry()
	registry.Register(sandbox.LanguageJavaScript, runner)
	return grading.NewCoordinator(registry, logger), cleanup, nil
}

// openStore opens the configured submission store. It returns nil when
// storage is disabled.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "none":
		return nil, nil
	case "postgres":
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.Storage.PostgresDSN,
			MaxConns: cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
