// Package cmd holds the one-shot subcommands of the servernode binary.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/servernode/internal/logging"
)

// DefaultDataDir is where cache, backups and the SteamCMD install live.
const DefaultDataDir = "/var/lib/servernode"

// commonFlags are shared by the one-shot subcommands.
type commonFlags struct {
	dataDir  string
	logLevel string
	logJSON  bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.dataDir, "data-dir", DefaultDataDir, "Directory holding cache, backups and steamcmd")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "warn", "Logging level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&f.logJSON, "log-json", false, "Log in JSON format")
	cmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		format := "text"
		if f.logJSON {
			format = "json"
		}
		logging.Initialize(logging.Config{Level: f.logLevel, Format: format})
	}
}

func (f *commonFlags) steamCMDDir() string {
	return filepath.Join(f.dataDir, "steamcmd")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
