package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Guizzs26/go-lead-dialler/internal/app"
	"github.com/Guizzs26/go-lead-dialler/internal/config"
	"github.com/Guizzs26/go-lead-dialler/pkg/infra"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "dialctl",
		Short: "Operate the lead dialler core",
		Long: `dialctl runs one-shot invocations of the dialler's batch jobs and agent operations
against the configured score store and replica.

Batch jobs:
  migrate        Create the dialler tables
  age            Run daily aging
  score          Run lead scoring
  populate       Regenerate a queue snapshot
  check-levels   Run the queue level monitor once

Agent operations:
  next           Hand out (or preview) the next valid user
  skip           Mark an assigned entry skipped
  complete       Mark an assigned entry completed
  stats          Show snapshot status counts`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().Bool("events", false, "Publish queue events to RabbitMQ")

	rootCmd.AddCommand(
		newMigrateCommand(),
		newAgeCommand(),
		newScoreCommand(),
		newPopulateCommand(),
		newCheckLevelsCommand(),
		newNextCommand(),
		newSkipCommand(),
		newCompleteCommand(),
		newStatsCommand(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// withApp loads configuration, builds the core and hands it to fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	logger := slog.New(infra.NewHandler(cfg, nil)).With("cli", cmd.Name())
	slog.SetDefault(logger)

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		logger.Warn("Configuration warning", "detail", w)
	}
	if err != nil {
		return err
	}

	events, _ := cmd.Flags().GetBool("events")

	a, err := app.New(cmd.Context(), cfg, logger, app.Options{Broker: events})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
