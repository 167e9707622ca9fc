package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/servers"
	"github.com/smazurov/servernode/internal/worker"
)

// CreateBackupCmd creates the backup command with its subcommands.
func CreateBackupCmd() *cobra.Command {
	var flags commonFlags
	var serversFile string
	var local bool

	newEngine := func() (*backup.Engine, error) {
		logger := logging.GetLogger("backup")
		var runner worker.Runner = &worker.LocalRunner{Handlers: backup.WorkerHandlers()}
		if !local {
			execRunner, err := worker.NewExecRunner(logging.GetLogger("worker"))
			if err != nil {
				return nil, err
			}
			runner = execRunner
		}
		return backup.NewEngine(flags.dataDir, runner, nil, logger), nil
	}

	lookup := func(serverID string) (servers.Spec, error) {
		store := servers.NewStore(serversFile, logging.GetLogger("servers"))
		if err := store.Load(); err != nil {
			return servers.Spec{}, err
		}
		return store.Get(serverID)
	}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and delete server backups",
	}
	flags.register(cmd)
	cmd.PersistentFlags().StringVar(&serversFile, "servers", servers.DefaultPath, "Server definitions file")
	cmd.PersistentFlags().BoolVar(&local, "local", false, "Run archive jobs in-process instead of a worker process")

	cmd.AddCommand(&cobra.Command{
		Use:   "list <server-id>",
		Short: "List backups of a server, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			archives, err := engine.List(args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FILENAME\tSIZE\tCREATED")
			for _, a := range archives {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.Filename, humanize.Bytes(uint64(a.Size)), humanize.Time(a.Created))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <server-id>",
		Short: "Archive a server directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			spec, err := lookup(args[0])
			if err != nil {
				return err
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			a, err := engine.Create(ctx, spec.ID, spec.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", a.Filename, humanize.Bytes(uint64(a.Size)))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <server-id> <filename>",
		Short: "Replace a server directory with an archive",
		Long:  `Empties the server directory and extracts the archive into it. Stop the server first.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			spec, err := lookup(args[0])
			if err != nil {
				return err
			}
			engine, err := newEngine()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			if err := engine.Restore(ctx, spec.ID, args[1], spec.Path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s into %s\n", args[1], spec.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <server-id> <filename>",
		Short: "Delete one archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			engine, err := newEngine()
			if err != nil {
				return err
			}
			return engine.Delete(args[0], args[1])
		},
	})

	return cmd
}
