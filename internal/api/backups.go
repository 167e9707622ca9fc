package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/servernode/internal/api/models"
	"github.com/smazurov/servernode/internal/events"
)

func (s *Server) registerBackupRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-backups",
		Method:      http.MethodGet,
		Path:        "/api/servers/{id}/backups",
		Summary:     "List Backups",
		Description: "List the archives of a server, newest first",
		Tags:        []string{"backups"},
		Errors:      []int{500},
	}, func(_ context.Context, input *models.ServerIDInput) (*models.BackupListResponse, error) {
		archives, err := s.options.Backups.List(input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.BackupListResponse{
			Body: models.BackupListData{Backups: archives, Count: len(archives)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-backup",
		Method:        http.MethodPost,
		Path:          "/api/servers/{id}/backups",
		Summary:       "Create Backup",
		Description:   "Archive the server directory. Blocks until the archive is written.",
		Tags:          []string{"backups"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{404, 500},
	}, func(ctx context.Context, input *models.ServerIDInput) (*models.BackupResponse, error) {
		spec, err := s.options.Servers.Get(input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		archive, err := s.options.Backups.Create(ctx, spec.ID, spec.Path)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.BackupResponse{Body: archive}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "restore-backup",
		Method:        http.MethodPost,
		Path:          "/api/servers/{id}/backups/restore",
		Summary:       "Restore Backup",
		Description:   "Replace the server directory with the contents of an archive. Destructive: the directory is emptied first.",
		Tags:          []string{"backups"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{404, 409, 500},
	}, func(ctx context.Context, input *models.BackupRestoreRequest) (*struct{}, error) {
		spec, err := s.options.Servers.Get(input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		if s.options.Supervisor.GetStatus(spec.ID) == events.StatusRunning {
			return nil, huma.Error409Conflict("stop the server before restoring a backup")
		}
		if err := s.options.Backups.Restore(ctx, spec.ID, input.Body.Filename, spec.Path); err != nil {
			return nil, mapError(err)
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-backup",
		Method:        http.MethodDelete,
		Path:          "/api/servers/{id}/backups/{filename}",
		Summary:       "Delete Backup",
		Description:   "Delete one archive",
		Tags:          []string{"backups"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{404, 500},
	}, func(_ context.Context, input *models.BackupFileInput) (*struct{}, error) {
		if err := s.options.Backups.Delete(input.ID, input.Filename); err != nil {
			return nil, mapError(err)
		}
		return nil, nil
	})
}
