package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/worker"
)

// CreateWorkerCmd creates the hidden subcommand the daemon spawns for
// archive jobs. Stdout carries exactly one JSON result, so logs go to stderr.
func CreateWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    worker.SubcommandName,
		Short:  "Run one archive job read from stdin",
		Hidden: true,
		Args:   cobra.NoArgs,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.SilenceUsage = true
			return worker.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), backup.WorkerHandlers())
		},
	}
}
