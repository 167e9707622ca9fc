package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/servernode/cmd"
	"github.com/smazurov/servernode/internal/api"
	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/cache"
	"github.com/smazurov/servernode/internal/config"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/install"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/metrics"
	"github.com/smazurov/servernode/internal/process"
	"github.com/smazurov/servernode/internal/servers"
	"github.com/smazurov/servernode/internal/steamcmd"
	"github.com/smazurov/servernode/internal/version"
	"github.com/smazurov/servernode/internal/worker"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Storage settings
	DataDir     string `help:"Directory for cache, backups and steamcmd" default:"/var/lib/servernode" toml:"storage.data_dir" env:"DATA_DIR"`
	ServersFile string `help:"Server definitions file" default:"servers.toml" toml:"servers.config_file" env:"SERVERS_CONFIG_FILE"`

	// Process settings
	ProcessUsePTY        bool   `help:"Attach server processes to a pseudo-terminal" default:"false" toml:"process.use_pty" env:"PROCESS_USE_PTY"`
	ProcessLogCapacity   int    `help:"Console lines kept per server" default:"1000" toml:"process.log_capacity" env:"PROCESS_LOG_CAPACITY"`
	ProcessStopOnExit    bool   `help:"Stop every running server when the daemon exits" default:"false" toml:"process.stop_on_exit" env:"PROCESS_STOP_ON_EXIT"`
	ProcessStatsInterval string `help:"Resource sampling interval, 0 disables" default:"5s" toml:"process.stats_interval" env:"PROCESS_STATS_INTERVAL"`

	// SteamCMD settings
	SteamCMDDir          string `help:"SteamCMD install directory (default <data-dir>/steamcmd)" toml:"steamcmd.dir" env:"STEAMCMD_DIR"`
	SteamCMDBootstrapURL string `help:"SteamCMD download URL" default:"https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz" toml:"steamcmd.bootstrap_url" env:"STEAMCMD_BOOTSTRAP_URL"`
	SteamCMDGrace        string `help:"Wait after the success line before killing steamcmd" default:"2s" toml:"steamcmd.grace" env:"STEAMCMD_GRACE"`
	UpdateReleaseDelay   string `help:"Wait after stopping a server before updating it" default:"2s" toml:"install.release_delay" env:"INSTALL_RELEASE_DELAY"`

	// Backup settings
	BackupWorker string `help:"Where archive jobs run (exec, local)" default:"exec" toml:"backup.worker" env:"BACKUP_WORKER"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingProcess  string `help:"Process supervisor logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingSteamCMD string `help:"SteamCMD logging level" default:"info" toml:"logging.steamcmd" env:"LOGGING_STEAMCMD"`
	LoggingInstall  string `help:"Install pipeline logging level" default:"info" toml:"logging.install" env:"LOGGING_INSTALL"`
	LoggingCache    string `help:"Cache logging level" default:"info" toml:"logging.cache" env:"LOGGING_CACHE"`
	LoggingBackup   string `help:"Backup logging level" default:"info" toml:"logging.backup" env:"LOGGING_BACKUP"`
	LoggingServers  string `help:"Server definitions logging level" default:"info" toml:"logging.servers" env:"LOGGING_SERVERS"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func parseDuration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

// serverReleaser is the part of the supervisor touched at shutdown.
type serverReleaser interface {
	Running() []process.Info
	StopAll() int
}

// releaseServers leaves running servers alive when the daemon exits, unless
// stopOnExit is set. Survivors are no longer tracked after a restart.
func releaseServers(sup serverReleaser, stopOnExit bool, logger *slog.Logger) int {
	if !stopOnExit {
		if running := len(sup.Running()); running > 0 {
			logger.Info("Leaving servers running; they will be unmanaged until stopped by hand", "count", running)
		}
		return 0
	}
	stopped := sup.StopAll()
	if stopped > 0 {
		logger.Info("Stopped running servers", "count", stopped)
	}
	return stopped
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"process":  opts.LoggingProcess,
				"steamcmd": opts.LoggingSteamCMD,
				"install":  opts.LoggingInstall,
				"cache":    opts.LoggingCache,
				"backup":   opts.LoggingBackup,
				"worker":   opts.LoggingBackup,
				"servers":  opts.LoggingServers,
				"api":      opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")
		logger.Info("Starting servernode", "version", version.String(), "data_dir", opts.DataDir)

		eventBus := events.New()
		detachMetrics := metrics.Attach(eventBus)

		supervisor := process.NewSupervisor(&process.SupervisorOptions{
			Bus:         eventBus,
			LogCapacity: opts.ProcessLogCapacity,
			UsePTY:      opts.ProcessUsePTY,
			Logger:      logging.GetLogger("process"),
		})

		steamCMDDir := opts.SteamCMDDir
		if steamCMDDir == "" {
			steamCMDDir = filepath.Join(opts.DataDir, "steamcmd")
		}
		tool := steamcmd.New(steamcmd.Options{
			Dir:          steamCMDDir,
			BootstrapURL: opts.SteamCMDBootstrapURL,
			Grace:        parseDuration(logger, "steamcmd.grace", opts.SteamCMDGrace, steamcmd.DefaultGrace),
			Logger:       logging.GetLogger("steamcmd"),
		})

		cacheStore := cache.NewStore(opts.DataDir, tool, eventBus, logging.GetLogger("cache"))

		pipeline := install.NewPipeline(install.Options{
			Tool:         tool,
			Cache:        cacheStore,
			Supervisor:   supervisor,
			Bus:          eventBus,
			ReleaseDelay: parseDuration(logger, "install.release_delay", opts.UpdateReleaseDelay, install.DefaultReleaseDelay),
			Logger:       logging.GetLogger("install"),
		})

		var runner worker.Runner
		switch opts.BackupWorker {
		case "local":
			runner = &worker.LocalRunner{Handlers: backup.WorkerHandlers()}
		default:
			execRunner, err := worker.NewExecRunner(logging.GetLogger("worker"))
			if err != nil {
				logger.Warn("Cannot re-execute self for archive jobs, running them in-process", "error", err)
				runner = &worker.LocalRunner{Handlers: backup.WorkerHandlers()}
			} else {
				runner = execRunner
			}
		}
		backups := backup.NewEngine(opts.DataDir, runner, eventBus, logging.GetLogger("backup"))

		serverStore := servers.NewStore(opts.ServersFile, logging.GetLogger("servers"))
		if loadErr := serverStore.Load(); loadErr != nil {
			logger.Warn("Failed to load server definitions", "error", loadErr, "path", opts.ServersFile)
		}

		server := api.NewServer(&api.Options{
			Supervisor:     supervisor,
			Servers:        serverStore,
			Installer:      pipeline,
			Cache:          cacheStore,
			Backups:        backups,
			EventBus:       eventBus,
			MetricsHandler: metrics.Handler(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		var serversWatcher *config.Watcher[servers.Document]

		hooks.OnStart(func() {
			if w, watchErr := serverStore.Watch(); watchErr != nil {
				logger.Warn("Server definitions will not hot reload", "error", watchErr)
			} else {
				serversWatcher = w
			}

			interval := parseDuration(logger, "process.stats_interval", opts.ProcessStatsInterval, process.DefaultStatsInterval)
			if interval > 0 {
				sampler, samplerErr := process.NewStatsSampler(supervisor, eventBus, interval, logging.GetLogger("process"))
				if samplerErr != nil {
					logger.Warn("Resource sampling disabled", "error", samplerErr)
				} else {
					go sampler.Run(ctx)
				}
			}

			if sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
				logger.Warn("Failed to notify systemd", "error", notifyErr)
			} else if sent {
				logger.Debug("Notified systemd of readiness")
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			cancel()

			if serversWatcher != nil {
				if stopErr := serversWatcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping server definitions watcher", "error", stopErr)
				}
			}

			releaseServers(supervisor, opts.ProcessStopOnExit, logger)
			detachMetrics()
		})
	})

	cli.Root().Version = version.String()
	cli.Root().AddCommand(cmd.CreateInstallCmd())
	cli.Root().AddCommand(cmd.CreateBackupCmd())
	cli.Root().AddCommand(cmd.CreateWorkerCmd())

	cli.Run()
}
