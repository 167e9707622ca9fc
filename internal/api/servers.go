package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/servernode/internal/api/models"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/servers"
)

func (s *Server) toServerData(spec servers.Spec) models.ServerData {
	return models.ServerData{
		ID:         spec.ID,
		Name:       spec.Name,
		AppID:      spec.AppID,
		Path:       spec.Path,
		Executable: spec.Executable,
		Args:       spec.Args,
		Status:     s.options.Supervisor.GetStatus(spec.ID),
	}
}

func (s *Server) registerServerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-servers",
		Method:      http.MethodGet,
		Path:        "/api/servers",
		Summary:     "List Servers",
		Description: "List configured servers with their process status",
		Tags:        []string{"servers"},
	}, func(_ context.Context, _ *struct{}) (*models.ServerListResponse, error) {
		specs := s.options.Servers.List()
		data := make([]models.ServerData, len(specs))
		for i, spec := range specs {
			data[i] = s.toServerData(spec)
		}
		return &models.ServerListResponse{
			Body: models.ServerListData{Servers: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-server",
		Method:        http.MethodPost,
		Path:          "/api/servers",
		Summary:       "Create Server",
		Description:   "Add a server definition. Files are not installed; use the install endpoint for that.",
		Tags:          []string{"servers"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{409, 422, 500},
	}, func(_ context.Context, input *models.CreateServerRequest) (*models.ServerResponse, error) {
		if _, err := s.options.Servers.Get(input.Body.ID); err == nil {
			return nil, huma.Error409Conflict("server " + input.Body.ID + " already exists")
		}
		spec, err := s.options.Servers.Put(servers.Spec{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			AppID:      input.Body.AppID,
			Path:       input.Body.Path,
			Executable: input.Body.Executable,
			Args:       input.Body.Args,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &models.ServerResponse{Body: s.toServerData(spec)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-server-config",
		Method:      http.MethodPut,
		Path:        "/api/servers/{id}",
		Summary:     "Update Server Config",
		Description: "Replace the definition of an existing server. A running process keeps its old settings until restarted.",
		Tags:        []string{"servers"},
		Errors:      []int{404, 422, 500},
	}, func(_ context.Context, input *models.UpdateServerRequest) (*models.ServerResponse, error) {
		if _, err := s.options.Servers.Get(input.ID); err != nil {
			return nil, mapError(err)
		}
		spec, err := s.options.Servers.Put(servers.Spec{
			ID:         input.ID,
			Name:       input.Body.Name,
			AppID:      input.Body.AppID,
			Path:       input.Body.Path,
			Executable: input.Body.Executable,
			Args:       input.Body.Args,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &models.ServerResponse{Body: s.toServerData(spec)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-server",
		Method:        http.MethodDelete,
		Path:          "/api/servers/{id}",
		Summary:       "Delete Server",
		Description:   "Stop the server if running and remove its definition. Installed files and backups are kept.",
		Tags:          []string{"servers"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{404, 500},
	}, func(_ context.Context, input *models.ServerIDInput) (*struct{}, error) {
		if _, err := s.options.Servers.Get(input.ID); err != nil {
			return nil, mapError(err)
		}
		if s.options.Supervisor.Stop(input.ID) {
			s.logger.Info("Stopped server before removing it", "server_id", input.ID)
		}
		if err := s.options.Servers.Remove(input.ID); err != nil {
			return nil, mapError(err)
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-server-status",
		Method:      http.MethodGet,
		Path:        "/api/servers/{id}/status",
		Summary:     "Server Status",
		Description: "Get the process status of a server. Unknown ids report stopped.",
		Tags:        []string{"servers"},
	}, func(_ context.Context, input *models.ServerIDInput) (*models.ServerStatusResponse, error) {
		data := models.ServerStatusData{
			ID:     input.ID,
			Status: s.options.Supervisor.GetStatus(input.ID),
		}
		if data.Status == events.StatusRunning {
			for _, info := range s.options.Supervisor.Running() {
				if info.ID != input.ID {
					continue
				}
				started := info.StartedAt
				data.PID = info.PID
				data.StartedAt = &started
				data.UptimeSeconds = info.Uptime(time.Now()).Seconds()
			}
		}
		return &models.ServerStatusResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-server-logs",
		Method:      http.MethodGet,
		Path:        "/api/servers/{id}/logs",
		Summary:     "Server Logs",
		Description: "Get the buffered console output of a running server",
		Tags:        []string{"servers"},
	}, func(_ context.Context, input *models.ServerIDInput) (*models.ServerLogsResponse, error) {
		lines := s.options.Supervisor.GetLogs(input.ID)
		return &models.ServerLogsResponse{
			Body: models.ServerLogsData{ID: input.ID, Lines: lines, Count: len(lines)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "start-server",
		Method:        http.MethodPost,
		Path:          "/api/servers/{id}/start",
		Summary:       "Start Server",
		Description:   "Spawn the server process. Does not wait for the game to be ready.",
		Tags:          []string{"servers"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{404, 409, 500},
	}, func(_ context.Context, input *models.ServerIDInput) (*models.ServerStatusResponse, error) {
		spec, err := s.options.Servers.Get(input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		if err := s.options.Supervisor.Start(spec.ID, spec.ExecutablePath(), spec.Args, spec.Path); err != nil {
			return nil, mapError(err)
		}
		return &models.ServerStatusResponse{
			Body: models.ServerStatusData{ID: spec.ID, Status: s.options.Supervisor.GetStatus(spec.ID)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-server",
		Method:      http.MethodPost,
		Path:        "/api/servers/{id}/stop",
		Summary:     "Stop Server",
		Description: "Send the server process group a termination signal. Stopping an idle server is not an error.",
		Tags:        []string{"servers"},
	}, func(_ context.Context, input *models.ServerIDInput) (*models.StopResponse, error) {
		return &models.StopResponse{
			Body: models.StopData{ID: input.ID, Stopped: s.options.Supervisor.Stop(input.ID)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-server",
		Method:      http.MethodPost,
		Path:        "/api/servers/{id}/update",
		Summary:     "Update Server",
		Description: "Stop the server if running and re-sync its files through SteamCMD. Blocks until the update finishes.",
		Tags:        []string{"servers"},
		Errors:      []int{404, 502},
	}, func(ctx context.Context, input *models.ServerIDInput) (*models.InstallResponse, error) {
		spec, err := s.options.Servers.Get(input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		job, err := s.options.Installer.Update(ctx, spec.ID, spec.AppID, spec.Path, nil)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.InstallResponse{Body: *job}, nil
	})
}

func (s *Server) registerInstallRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "install-app",
		Method:      http.MethodPost,
		Path:        "/api/install",
		Summary:     "Install App",
		Description: "Install an app into a directory, from the cache when ready, otherwise through SteamCMD. Blocks until the install finishes.",
		Tags:        []string{"install"},
		Errors:      []int{502},
	}, func(ctx context.Context, input *models.InstallRequest) (*models.InstallResponse, error) {
		job, err := s.options.Installer.Install(ctx, input.Body.AppID, input.Body.TargetPath, nil)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.InstallResponse{Body: *job}, nil
	})
}
