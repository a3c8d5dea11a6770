package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coverline/server/internal/config"
	"github.com/coverline/server/internal/metrics"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background job workers without the HTTP server",
	Long: `Run the River job workers as a standalone process.

Useful when the API and job processing scale independently: the API
nodes run "serve", worker nodes run "worker" against the same database.
Periodic jobs (retention cleanup, audit verification, segment refresh)
are scheduled from whichever process holds River's leader election.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func runWorker() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting coverline worker")

	metrics.Init(Version, GitCommit, BuildDate)

	application, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	riverCtx, riverCancel := context.WithCancel(context.Background())
	defer riverCancel()
	if err := application.riverClient.Start(riverCtx); err != nil {
		return fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("river workers started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := application.riverClient.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("river workers shutdown error")
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}
