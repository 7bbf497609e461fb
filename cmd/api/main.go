package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/Parley/internal/app"
	"github.com/markdave123-py/Parley/internal/config"
	db "github.com/markdave123-py/Parley/internal/core/database"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	root := &cobra.Command{
		Use:          "parley",
		Short:        "Conversation and streaming completion backend",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(serve, &cobra.Command{
		Use:   "migrate",
		Short: "Bootstrap the database schema and exit",
		RunE:  runMigrate,
	})
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	logger.Info("Parley is running", "environment", cfg.Environment, "prefix", cfg.APIPrefix)
	return application.Run(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)

	store, err := db.Open(cmd.Context(), cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer store.Close()

	logger.Info("schema is up to date", "path", cfg.DatabasePath)
	return nil
}
