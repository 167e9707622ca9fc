// Package logging provides structured daemon logging with per-module levels.
//
// Records are routed to stdout (when connected), the systemd journal (when
// journald is reachable) and an in-memory ring buffer that backs the
// GET /api/logs endpoint.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"steamcmd": "debug",
//			"api":      "warn",
//		},
//	})
//
// Then obtain a logger per module:
//
//	logger := logging.GetLogger("process").With("server_id", id)
//	logger.Info("Server started", "pid", pid)
//
// Loggers fetched before Initialize keep working and pick up the configured
// level once Initialize runs.
//
// Viewing journal output:
//
//	journalctl -t servernode -f
//	journalctl -t servernode MODULE=backup
//	journalctl -t servernode SERVER_ID=alpha -p err
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	process = "debug"
//	worker = "warn"
package logging
