// Package api serves the HTTP surface of servernode with Huma v2.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/servernode/internal/api/models"
	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/cache"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/install"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/process"
	"github.com/smazurov/servernode/internal/servers"
	"github.com/smazurov/servernode/internal/version"
	"github.com/smazurov/servernode/ui"
)

// Supervisor is the process supervisor as seen by the API.
type Supervisor interface {
	Start(id, executable string, args []string, workDir string) error
	Stop(id string) bool
	GetStatus(id string) string
	GetLogs(id string) []string
	Running() []process.Info
}

// ServerStore resolves server definitions.
type ServerStore interface {
	Get(id string) (servers.Spec, error)
	List() []servers.Spec
	Put(spec servers.Spec) (servers.Spec, error)
	Remove(id string) error
}

// Installer installs and updates app files.
type Installer interface {
	Install(ctx context.Context, appID, target string, onLog func(string)) (*install.Job, error)
	Update(ctx context.Context, serverID, appID, target string, onLog func(string)) (*install.Job, error)
}

// CacheStore manages pre-downloaded apps.
type CacheStore interface {
	List() ([]cache.Entry, error)
	Status(appID string) (cache.Entry, error)
	Download(ctx context.Context, appID, name string, onLog func(string)) (cache.Entry, error)
	CopyFrom(appID, target string) error
	Delete(appID string) error
}

// BackupEngine manages server snapshots.
type BackupEngine interface {
	Create(ctx context.Context, serverID, sourcePath string) (backup.Archive, error)
	List(serverID string) ([]backup.Archive, error)
	Restore(ctx context.Context, serverID, filename, target string) error
	Delete(serverID, filename string) error
}

// Options wires the API to the rest of the daemon.
type Options struct {
	Supervisor Supervisor
	Servers    ServerStore
	Installer  Installer
	Cache      CacheStore
	Backups    BackupEngine
	EventBus   *events.Bus
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// Server is the HTTP API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

// NewServer creates the API and registers every route.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("ServerNode API", version.Version)
	config.Info.Description = "Dedicated game server supervisor, installer, cache and backups"
	// Empty servers list makes OpenAPI use relative paths.
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: opts.EventBus,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(server.loggingMiddleware)

	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	server.registerRoutes()

	mux.Handle("GET /{$}", ui.Handler())
	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves HTTP on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, which cancels the
// contexts of in-flight installs and SSE streams.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{Status: "ok", Message: "API is healthy"},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerServerRoutes()
	s.registerInstallRoutes()
	s.registerCacheRoutes()
	s.registerBackupRoutes()
	s.registerEventRoutes()
	s.registerLogRoutes()
}
