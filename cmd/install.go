package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/servernode/internal/cache"
	"github.com/smazurov/servernode/internal/install"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/steamcmd"
)

// CreateInstallCmd creates the install command.
func CreateInstallCmd() *cobra.Command {
	var flags commonFlags
	var noCache bool

	cmd := &cobra.Command{
		Use:   "install <app-id> <dir>",
		Short: "Install an app into a directory",
		Long: `Installs an app into the given directory. A ready cache entry is copied without ` +
			`overwriting existing files; otherwise SteamCMD runs and its output is printed as it arrives.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appID, target := args[0], args[1]
			ctx, stop := signalContext()
			defer stop()

			tool := steamcmd.New(steamcmd.Options{
				Dir:    flags.steamCMDDir(),
				Logger: logging.GetLogger("steamcmd"),
			})

			opts := install.Options{Tool: tool, Logger: logging.GetLogger("install")}
			if !noCache {
				opts.Cache = cache.NewStore(flags.dataDir, tool, nil, logging.GetLogger("cache"))
			}
			pipeline := install.NewPipeline(opts)

			out := cmd.OutOrStdout()
			job, err := pipeline.Install(ctx, appID, target, func(line string) {
				fmt.Fprintln(out, line)
			})
			if err != nil {
				cmd.SilenceUsage = true
				return err
			}

			fmt.Fprintf(out, "Installed app %s into %s from %s\n", job.AppID, job.TargetPath, job.Source)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Always install through SteamCMD")
	return cmd
}
