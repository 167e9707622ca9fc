package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/servernode/internal/api/models"
	"github.com/smazurov/servernode/internal/logging"
)

// registerLogRoutes exposes the daemon's own recent log entries.
func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-daemon-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Daemon Logs",
		Description: "Recent log entries of servernode itself, oldest first",
		Tags:        []string{"system"},
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		entries := []logging.LogEntry{}
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, entry := range buffer.ReadAll() {
				if input.Module == "" || entry.Module == input.Module {
					entries = append(entries, entry)
				}
			}
		}
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}
		return &models.LogsResponse{
			Body: models.LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})
}
