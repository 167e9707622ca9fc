package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/servernode/internal/api/models"
	"github.com/smazurov/servernode/internal/events"
)

// serverEventTypes maps SSE event names to the bus events forwarded for one server.
var serverEventTypes = map[string]any{
	"log":              events.LogEvent{},
	"status":           events.StatusChangeEvent{},
	"stats":            events.StatsEvent{},
	"install-log":      events.InstallLogEvent{},
	"install-complete": events.InstallCompleteEvent{},
	"backup":           events.BackupEvent{},
}

// appEventTypes maps SSE event names to the bus events forwarded for one app id.
var appEventTypes = map[string]any{
	"cache-log":        events.CacheLogEvent{},
	"cache-status":     events.CacheStatusEvent{},
	"install-log":      events.InstallLogEvent{},
	"install-complete": events.InstallCompleteEvent{},
}

// registerEventRoutes registers the per-server and per-app SSE endpoints.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "server-events",
		Method:      http.MethodGet,
		Path:        "/api/servers/{id}/events",
		Summary:     "Server Events",
		Description: "Real-time console output, status changes, resource samples, update progress and backup results of one server",
		Tags:        []string{"events"},
	}, serverEventTypes, func(ctx context.Context, input *models.ServerIDInput, send sse.Sender) {
		eventCh := make(chan any, 256)

		unsubscribers := []func(){
			events.SubscribeIDToChannel[events.LogEvent](s.eventBus, input.ID, eventCh),
			events.SubscribeIDToChannel[events.StatusChangeEvent](s.eventBus, input.ID, eventCh),
			events.SubscribeIDToChannel[events.StatsEvent](s.eventBus, input.ID, eventCh),
			events.SubscribeIDToChannel[events.InstallLogEvent](s.eventBus, input.ID, eventCh),
			events.SubscribeIDToChannel[events.InstallCompleteEvent](s.eventBus, input.ID, eventCh),
			events.SubscribeIDToChannel[events.BackupEvent](s.eventBus, input.ID, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// Announce the current status so clients can render without polling.
		if err := send.Data(events.StatusChangeEvent{
			ServerID:  input.ID,
			Status:    s.options.Supervisor.GetStatus(input.ID),
			Timestamp: events.Now(),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
	sse.Register(s.api, huma.Operation{
		OperationID: "app-events",
		Method:      http.MethodGet,
		Path:        "/api/apps/{appId}/events",
		Summary:     "App Events",
		Description: "Real-time progress of cache downloads and fresh installs of one app",
		Tags:        []string{"events"},
	}, appEventTypes, func(ctx context.Context, input *models.AppIDInput, send sse.Sender) {
		eventCh := make(chan any, 256)

		unsubscribers := []func(){
			events.SubscribeIDToChannel[events.CacheLogEvent](s.eventBus, input.AppID, eventCh),
			events.SubscribeIDToChannel[events.CacheStatusEvent](s.eventBus, input.AppID, eventCh),
			events.SubscribeIDToChannel[events.InstallLogEvent](s.eventBus, input.AppID, eventCh),
			events.SubscribeIDToChannel[events.InstallCompleteEvent](s.eventBus, input.AppID, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if entry, err := s.options.Cache.Status(input.AppID); err == nil {
			if err := send.Data(events.CacheStatusEvent{
				AppID:     input.AppID,
				Status:    string(entry.Status),
				Error:     entry.Error,
				Timestamp: events.Now(),
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
