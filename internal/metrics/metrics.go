// Package metrics exposes Prometheus metrics for supervised servers,
// installs, cache downloads and backups.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "servernode"

var (
	serversRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "servers",
		Name:      "running",
		Help:      "Number of supervised server processes currently running",
	})

	serverExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "servers",
		Name:      "exits_total",
		Help:      "Server process exits by exit code, \"signal\" when terminated by a signal",
	}, []string{"server_id", "code"})

	serverCPU = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "cpu_percent",
		Help:      "CPU usage of a server process since the previous sample",
	}, []string{"server_id"})

	serverRSS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "resident_memory_bytes",
		Help:      "Resident memory of a server process",
	}, []string{"server_id"})

	serverUptime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "uptime_seconds",
		Help:      "Seconds since the server process was started",
	}, []string{"server_id"})

	installs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "install",
		Name:      "total",
		Help:      "Finished installs and updates by source and result",
	}, []string{"source", "result"})

	cacheDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "downloads_total",
		Help:      "Finished cache downloads by result",
	}, []string{"result"})

	backups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backup",
		Name:      "operations_total",
		Help:      "Backup operations by action",
	}, []string{"action"})
)

// ServerStarted records a server process start.
func ServerStarted() {
	serversRunning.Inc()
}

// ServerStopped records a server process exit and drops its resource gauges.
// A nil code means the process was terminated by a signal.
func ServerStopped(serverID string, code *int) {
	serversRunning.Dec()

	label := "signal"
	if code != nil {
		label = strconv.Itoa(*code)
	}
	serverExits.WithLabelValues(serverID, label).Inc()
	DeleteServerStats(serverID)
}

// SetServerStats records one resource usage sample.
func SetServerStats(serverID string, cpuPercent float64, rssBytes int64, uptimeSeconds float64) {
	serverCPU.WithLabelValues(serverID).Set(cpuPercent)
	serverRSS.WithLabelValues(serverID).Set(float64(rssBytes))
	serverUptime.WithLabelValues(serverID).Set(uptimeSeconds)
}

// DeleteServerStats removes the resource gauges of a server.
func DeleteServerStats(serverID string) {
	serverCPU.DeleteLabelValues(serverID)
	serverRSS.DeleteLabelValues(serverID)
	serverUptime.DeleteLabelValues(serverID)
}

// InstallFinished counts one install or update.
func InstallFinished(source string, success bool) {
	installs.WithLabelValues(source, result(success)).Inc()
}

// CacheDownloadFinished counts one cache download.
func CacheDownloadFinished(success bool) {
	cacheDownloads.WithLabelValues(result(success)).Inc()
}

// BackupFinished counts one backup operation.
func BackupFinished(action string) {
	backups.WithLabelValues(action).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
