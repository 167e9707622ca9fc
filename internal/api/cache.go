package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/servernode/internal/api/models"
	"github.com/smazurov/servernode/internal/cache"
)

func toCacheData(entry cache.Entry) models.CacheEntryData {
	return models.CacheEntryData{
		AppID:          entry.AppID,
		Name:           entry.Name,
		Status:         string(entry.Status),
		DownloadedDate: entry.DownloadedDate,
		LastChecked:    entry.LastChecked,
		DiskSize:       entry.DiskSize,
		HumanSize:      entry.HumanSize(),
		Error:          entry.Error,
	}
}

func (s *Server) registerCacheRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cache",
		Method:      http.MethodGet,
		Path:        "/api/cache",
		Summary:     "List Cache",
		Description: "List every cached app with its status",
		Tags:        []string{"cache"},
		Errors:      []int{500},
	}, func(_ context.Context, _ *struct{}) (*models.CacheListResponse, error) {
		entries, err := s.options.Cache.List()
		if err != nil {
			return nil, mapError(err)
		}
		data := make([]models.CacheEntryData, len(entries))
		for i, entry := range entries {
			data[i] = toCacheData(entry)
		}
		return &models.CacheListResponse{
			Body: models.CacheListData{Apps: data, Count: len(data)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-cache-entry",
		Method:      http.MethodGet,
		Path:        "/api/cache/{appId}",
		Summary:     "Cache Entry",
		Description: "Get the cache status of one app. Unknown apps report not_cached.",
		Tags:        []string{"cache"},
		Errors:      []int{500},
	}, func(_ context.Context, input *models.AppIDInput) (*models.CacheEntryResponse, error) {
		entry, err := s.options.Cache.Status(input.AppID)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.CacheEntryResponse{Body: toCacheData(entry)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "download-cache-entry",
		Method:      http.MethodPost,
		Path:        "/api/cache/{appId}/download",
		Summary:     "Download to Cache",
		Description: "Download or refresh an app in the cache through SteamCMD. Blocks until the download finishes.",
		Tags:        []string{"cache"},
		Errors:      []int{500, 502},
	}, func(ctx context.Context, input *models.CacheDownloadRequest) (*models.CacheEntryResponse, error) {
		entry, err := s.options.Cache.Download(ctx, input.AppID, input.Body.Name, nil)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.CacheEntryResponse{Body: toCacheData(entry)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "copy-cache-entry",
		Method:        http.MethodPost,
		Path:          "/api/cache/{appId}/copy",
		Summary:       "Copy from Cache",
		Description:   "Copy a cached app into a directory without overwriting existing files",
		Tags:          []string{"cache"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{404, 500},
	}, func(_ context.Context, input *models.CacheCopyRequest) (*struct{}, error) {
		if err := s.options.Cache.CopyFrom(input.AppID, input.Body.TargetPath); err != nil {
			return nil, mapError(err)
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-cache-entry",
		Method:        http.MethodDelete,
		Path:          "/api/cache/{appId}",
		Summary:       "Delete Cache Entry",
		Description:   "Remove a cached app and its files. Deleting an unknown app is not an error.",
		Tags:          []string{"cache"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{500},
	}, func(_ context.Context, input *models.AppIDInput) (*struct{}, error) {
		if err := s.options.Cache.Delete(input.AppID); err != nil {
			return nil, mapError(err)
		}
		return nil, nil
	})
}
