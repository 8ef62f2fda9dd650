package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/assessor/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grading HTTP server",
	Long: `Start the Assessor HTTP server.

POST /execute grades a submission, GET /execute/ws streams results over a
WebSocket. Stored submissions and in-flight runs are under /api.

Examples:
  assessor serve
  assessor serve --port 9090 --backend docker`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	logger := newLogger(cfg, os.Stderr)

	coordinator, cleanup, err := buildCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// Open storage
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if store != nil {
		defer store.Close()
	} else {
		logger.Warn().Msg("submission storage disabled")
	}

	srv := server.New(cfg, coordinator, store, logger)

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	return srv.Start()
}
