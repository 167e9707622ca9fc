// Package models defines the request and response bodies of the HTTP API.
package models

import (
	"time"

	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/install"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Server models
type ServerData struct {
	ID         string   `json:"id" example:"alpha" doc:"Server identifier"`
	Name       string   `json:"name" example:"Alpha CS" doc:"Display name"`
	AppID      string   `json:"app_id" example:"740" doc:"Application id"`
	Path       string   `json:"path" example:"/srv/alpha" doc:"Install directory"`
	Executable string   `json:"executable" example:"srcds_run" doc:"Executable, absolute or relative to path"`
	Args       []string `json:"args,omitempty" doc:"Command line arguments"`
	Status     string   `json:"status" example:"running" doc:"running or stopped"`
}

type ServerConfigBody struct {
	Name       string   `json:"name,omitempty" example:"Alpha CS" doc:"Display name, defaults to the id"`
	AppID      string   `json:"app_id" minLength:"1" pattern:"^[A-Za-z0-9_-]+$" example:"740" doc:"Application id"`
	Path       string   `json:"path" minLength:"1" example:"/srv/alpha" doc:"Install directory"`
	Executable string   `json:"executable" minLength:"1" example:"srcds_run" doc:"Executable, absolute or relative to path"`
	Args       []string `json:"args,omitempty" doc:"Command line arguments"`
}

type CreateServerRequest struct {
	Body struct {
		ID         string   `json:"id" minLength:"1" pattern:"^[A-Za-z0-9][A-Za-z0-9_.-]*$" example:"alpha" doc:"Server identifier"`
		Name       string   `json:"name,omitempty" example:"Alpha CS" doc:"Display name, defaults to the id"`
		AppID      string   `json:"app_id" minLength:"1" pattern:"^[A-Za-z0-9_-]+$" example:"740" doc:"Application id"`
		Path       string   `json:"path" minLength:"1" example:"/srv/alpha" doc:"Install directory"`
		Executable string   `json:"executable" minLength:"1" example:"srcds_run" doc:"Executable, absolute or relative to path"`
		Args       []string `json:"args,omitempty" doc:"Command line arguments"`
	}
}

type UpdateServerRequest struct {
	ID   string `path:"id" example:"alpha" doc:"Server identifier"`
	Body ServerConfigBody
}

type ServerResponse struct {
	Body ServerData
}

type ServerListData struct {
	Servers []ServerData `json:"servers" doc:"Configured servers"`
	Count   int          `json:"count" example:"2" doc:"Number of servers"`
}

type ServerListResponse struct {
	Body ServerListData
}

type ServerIDInput struct {
	ID string `path:"id" example:"alpha" doc:"Server identifier"`
}

type ServerStatusData struct {
	ID            string     `json:"id" example:"alpha" doc:"Server identifier"`
	Status        string     `json:"status" example:"running" doc:"running or stopped"`
	PID           int        `json:"pid,omitempty" example:"4242" doc:"Process id while running"`
	StartedAt     *time.Time `json:"started_at,omitempty" doc:"Start time while running"`
	UptimeSeconds float64    `json:"uptime_seconds,omitempty" example:"3600" doc:"Seconds since start"`
}

type ServerStatusResponse struct {
	Body ServerStatusData
}

type ServerLogsData struct {
	ID    string   `json:"id" example:"alpha" doc:"Server identifier"`
	Lines []string `json:"lines" doc:"Buffered output lines, oldest first"`
	Count int      `json:"count" example:"120" doc:"Number of lines"`
}

type ServerLogsResponse struct {
	Body ServerLogsData
}

type StopData struct {
	ID      string `json:"id" example:"alpha" doc:"Server identifier"`
	Stopped bool   `json:"stopped" doc:"False when the server was not running"`
}

type StopResponse struct {
	Body StopData
}

// Install models
type InstallRequest struct {
	Body struct {
		AppID      string `json:"app_id" minLength:"1" pattern:"^[A-Za-z0-9_-]+$" example:"740" doc:"Application id"`
		TargetPath string `json:"target_path" minLength:"1" example:"/srv/alpha" doc:"Directory to install into"`
	}
}

type InstallResponse struct {
	Body install.Job
}

// Cache models
type CacheEntryData struct {
	AppID          string     `json:"app_id" example:"740" doc:"Application id"`
	Name           string     `json:"name" example:"Counter-Strike" doc:"Display name"`
	Status         string     `json:"status" enum:"not_cached,downloading,ready,error" example:"ready" doc:"Cache state"`
	DownloadedDate *time.Time `json:"downloaded_date,omitempty" doc:"When the last successful download finished"`
	LastChecked    *time.Time `json:"last_checked,omitempty" doc:"When the entry was last refreshed"`
	DiskSize       int64      `json:"disk_size" example:"1200000000" doc:"Size of the cached tree in bytes"`
	HumanSize      string     `json:"human_size" example:"1.2 GB" doc:"Disk size for display"`
	Error          string     `json:"error,omitempty" doc:"Failure message of the last download"`
}

type CacheListData struct {
	Apps  []CacheEntryData `json:"apps" doc:"Cache entries"`
	Count int              `json:"count" example:"3" doc:"Number of entries"`
}

type CacheListResponse struct {
	Body CacheListData
}

type AppIDInput struct {
	AppID string `path:"appId" minLength:"1" pattern:"^[A-Za-z0-9_-]+$" example:"740" doc:"Application id"`
}

type CacheEntryResponse struct {
	Body CacheEntryData
}

type CacheDownloadRequest struct {
	AppID string `path:"appId" minLength:"1" pattern:"^[A-Za-z0-9_-]+$" example:"740" doc:"Application id"`
	Body  struct {
		Name string `json:"name,omitempty" example:"Counter-Strike" doc:"Display name"`
	}
}

type CacheCopyRequest struct {
	AppID string `path:"appId" minLength:"1" pattern:"^[A-Za-z0-9_-]+$" example:"740" doc:"Application id"`
	Body  struct {
		TargetPath string `json:"target_path" minLength:"1" example:"/srv/alpha" doc:"Directory to copy into"`
	}
}

// Backup models
type BackupListData struct {
	Backups []backup.Archive `json:"backups" doc:"Archives, newest first"`
	Count   int              `json:"count" example:"4" doc:"Number of archives"`
}

type BackupListResponse struct {
	Body BackupListData
}

type BackupResponse struct {
	Body backup.Archive
}

type BackupRestoreRequest struct {
	ID   string `path:"id" example:"alpha" doc:"Server identifier"`
	Body struct {
		Filename string `json:"filename" minLength:"1" example:"backup_20260127T103000Z_3f2a9c1d8e4b.zip" doc:"Archive to restore"`
	}
}

type BackupFileInput struct {
	ID       string `path:"id" example:"alpha" doc:"Server identifier"`
	Filename string `path:"filename" example:"backup_20260127T103000Z_3f2a9c1d8e4b.zip" doc:"Archive filename"`
}

// Daemon log models
type LogsInput struct {
	Module string `query:"module" example:"process" doc:"Only entries from this module"`
	Limit  int    `query:"limit" minimum:"0" example:"100" doc:"Return at most this many newest entries"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Daemon log entries, oldest first"`
	Count   int                `json:"count" example:"100" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}
