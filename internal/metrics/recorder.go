package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/servernode/internal/cache"
	"github.com/smazurov/servernode/internal/events"
)

// Attach feeds the metrics from bus events. The returned function
// unsubscribes every handler.
func Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.StatusChangeEvent) {
			switch e.Status {
			case events.StatusRunning:
				ServerStarted()
			case events.StatusStopped:
				ServerStopped(e.ServerID, e.ExitCode)
			}
		}),
		bus.Subscribe(func(e events.StatsEvent) {
			SetServerStats(e.ServerID, e.CPUPercent, e.RSSBytes, e.UptimeSeconds)
		}),
		bus.Subscribe(func(e events.InstallCompleteEvent) {
			InstallFinished(e.Source, e.Success)
		}),
		bus.Subscribe(func(e events.CacheStatusEvent) {
			switch e.Status {
			case string(cache.StatusReady):
				CacheDownloadFinished(true)
			case string(cache.StatusError):
				CacheDownloadFinished(false)
			}
		}),
		bus.Subscribe(func(e events.BackupEvent) {
			BackupFinished(e.Action)
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Handler returns the Prometheus HTTP handler for every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
