package events

// Event type constants for kelindar/event.
const (
	TypeLog uint32 = iota + 1
	TypeStatusChange
	TypeStats
	TypeInstallLog
	TypeInstallComplete
	TypeCacheLog
	TypeCacheStatus
	TypeBackup
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Keyed is an event that belongs to one logical id (server id or app id).
type Keyed interface {
	Event
	Key() string
}

// Server process statuses carried by StatusChangeEvent.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// LogEvent is one line of combined output from a supervised server process.
type LogEvent struct {
	ServerID  string `json:"server_id" example:"srv-1" doc:"Server identifier"`
	Line      string `json:"line" doc:"Output line without trailing newline"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for LogEvent.
func (e LogEvent) Type() uint32 { return TypeLog }

// Key returns the server id.
func (e LogEvent) Key() string { return e.ServerID }

// StatusChangeEvent is published when a server process starts or exits.
// ExitCode is nil while running and when the process was killed by a signal.
type StatusChangeEvent struct {
	ServerID  string `json:"server_id" example:"srv-1" doc:"Server identifier"`
	Status    string `json:"status" example:"stopped" doc:"New status: running or stopped"`
	ExitCode  *int   `json:"exit_code,omitempty" example:"0" doc:"Exit code after a natural exit"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StatusChangeEvent.
func (e StatusChangeEvent) Type() uint32 { return TypeStatusChange }

// Key returns the server id.
func (e StatusChangeEvent) Key() string { return e.ServerID }

// StatsEvent carries a resource usage sample of a running server process.
type StatsEvent struct {
	ServerID      string  `json:"server_id" example:"srv-1" doc:"Server identifier"`
	PID           int     `json:"pid" example:"4242" doc:"Process id"`
	CPUPercent    float64 `json:"cpu_percent" example:"12.5" doc:"CPU usage since the previous sample"`
	RSSBytes      int64   `json:"rss_bytes" example:"104857600" doc:"Resident memory"`
	UptimeSeconds float64 `json:"uptime_seconds" example:"3600" doc:"Seconds since start"`
	Timestamp     string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Sample timestamp"`
}

// Type returns the event type identifier for StatsEvent.
func (e StatsEvent) Type() uint32 { return TypeStats }

// Key returns the server id.
func (e StatsEvent) Key() string { return e.ServerID }

// InstallLogEvent is one relayed line of content tool output during an
// install (keyed by app id) or an update (keyed by server id).
type InstallLogEvent struct {
	ID        string `json:"id" example:"740" doc:"App id for installs, server id for updates"`
	Line      string `json:"line" doc:"Tool output line"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for InstallLogEvent.
func (e InstallLogEvent) Type() uint32 { return TypeInstallLog }

// Key returns the install key.
func (e InstallLogEvent) Key() string { return e.ID }

// InstallCompleteEvent is published once per install or update call.
type InstallCompleteEvent struct {
	ID        string `json:"id" example:"740" doc:"App id for installs, server id for updates"`
	AppID     string `json:"app_id" example:"740" doc:"Application id"`
	Source    string `json:"source" example:"tool" doc:"tool or cache"`
	Success   bool   `json:"success" doc:"Whether the install succeeded"`
	Error     string `json:"error,omitempty" doc:"Failure message"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for InstallCompleteEvent.
func (e InstallCompleteEvent) Type() uint32 { return TypeInstallComplete }

// Key returns the install key.
func (e InstallCompleteEvent) Key() string { return e.ID }

// CacheLogEvent is one line of tool output during a cache download.
type CacheLogEvent struct {
	AppID     string `json:"app_id" example:"740" doc:"Application id"`
	Line      string `json:"line" doc:"Tool output line"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CacheLogEvent.
func (e CacheLogEvent) Type() uint32 { return TypeCacheLog }

// Key returns the app id.
func (e CacheLogEvent) Key() string { return e.AppID }

// CacheStatusEvent is published on every cache entry status transition.
type CacheStatusEvent struct {
	AppID     string `json:"app_id" example:"740" doc:"Application id"`
	Status    string `json:"status" example:"ready" doc:"not_cached, downloading, ready or error"`
	Error     string `json:"error,omitempty" doc:"Failure message"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CacheStatusEvent.
func (e CacheStatusEvent) Type() uint32 { return TypeCacheStatus }

// Key returns the app id.
func (e CacheStatusEvent) Key() string { return e.AppID }

// Backup actions carried by BackupEvent.
const (
	BackupActionCreated  = "created"
	BackupActionRestored = "restored"
	BackupActionDeleted  = "deleted"
	BackupActionFailed   = "failed"
)

// BackupEvent is published when a backup operation finishes.
type BackupEvent struct {
	ServerID  string `json:"server_id" example:"srv-1" doc:"Server identifier"`
	Action    string `json:"action" example:"created" doc:"created, restored, deleted or failed"`
	Filename  string `json:"filename,omitempty" doc:"Archive filename"`
	Size      int64  `json:"size,omitempty" doc:"Archive size in bytes"`
	Error     string `json:"error,omitempty" doc:"Failure message"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for BackupEvent.
func (e BackupEvent) Type() uint32 { return TypeBackup }

// Key returns the server id.
func (e BackupEvent) Key() string { return e.ServerID }
