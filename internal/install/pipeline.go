// Package install materialises app files into a server directory, from the
// local cache when possible and through SteamCMD otherwise.
package install

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/smazurov/servernode/internal/errs"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/steamcmd"
)

// DefaultReleaseDelay is how long Update waits after stopping a server so
// the OS can release its file handles.
const DefaultReleaseDelay = 2 * time.Second

// Source records where installed files came from.
type Source string

// Install sources.
const (
	SourceTool  Source = "tool"
	SourceCache Source = "cache"
)

// Job is the outcome of one install or update.
type Job struct {
	AppID      string `json:"app_id"`
	TargetPath string `json:"target_path"`
	Source     Source `json:"source"`
	// Completed is true when the tool printed its success phrase.
	Completed bool `json:"completed"`
}

// ContentTool fetches an app into a directory.
type ContentTool interface {
	AppUpdate(ctx context.Context, appID, installDir string, onLine steamcmd.LineHandler) (steamcmd.Result, error)
}

// Cache is the subset of the cache store the pipeline uses.
type Cache interface {
	IsCached(appID string) (bool, error)
	CopyFrom(appID, target string) error
}

// Supervisor is the subset of the process supervisor Update uses.
type Supervisor interface {
	IsRunning(id string) bool
	Stop(id string) bool
}

// Options configures a Pipeline.
type Options struct {
	Tool       ContentTool
	Cache      Cache
	Supervisor Supervisor
	Bus        *events.Bus
	// ReleaseDelay overrides DefaultReleaseDelay. Negative disables the wait.
	ReleaseDelay time.Duration
	Logger       logging.Logger
}

// Pipeline installs and updates app files.
type Pipeline struct {
	tool         ContentTool
	cache        Cache
	supervisor   Supervisor
	bus          *events.Bus
	releaseDelay time.Duration
	logger       logging.Logger
}

// NewPipeline creates a pipeline. Cache and Supervisor may be nil.
func NewPipeline(opts Options) *Pipeline {
	p := &Pipeline{
		tool:         opts.Tool,
		cache:        opts.Cache,
		supervisor:   opts.Supervisor,
		bus:          opts.Bus,
		releaseDelay: opts.ReleaseDelay,
		logger:       opts.Logger,
	}
	if p.releaseDelay == 0 {
		p.releaseDelay = DefaultReleaseDelay
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Install puts appID into target. A ready cache entry is copied without
// overwriting existing files; otherwise the tool runs once and every output
// line goes to onLog in order. Events are keyed by appID. A failure leaves
// target partially written.
func (p *Pipeline) Install(ctx context.Context, appID, target string, onLog func(string)) (*Job, error) {
	if p.cache != nil {
		cached, err := p.cache.IsCached(appID)
		if err != nil {
			p.logger.Warn("Cache lookup failed, installing from tool", "app_id", appID, "error", err)
		}
		if cached {
			return p.installFromCache(appID, target)
		}
	}

	return p.runTool(ctx, appID, appID, target, onLog)
}

func (p *Pipeline) installFromCache(appID, target string) (*Job, error) {
	p.logger.Info("Installing from cache", "app_id", appID, "target", target)
	job := &Job{AppID: appID, TargetPath: target, Source: SourceCache}

	if err := p.cache.CopyFrom(appID, target); err != nil {
		wrapped := errs.New(errs.CodeInstallFailed, fmt.Sprintf("copy of cached app %s failed", appID), err)
		p.publishComplete(appID, job, wrapped)
		return nil, wrapped
	}

	p.publishComplete(appID, job, nil)
	return job, nil
}

// Update re-syncs target through the tool, never the cache. A running
// server is stopped first and given the release delay to let go of its
// files. Events are keyed by serverID.
func (p *Pipeline) Update(ctx context.Context, serverID, appID, target string, onLog func(string)) (*Job, error) {
	if p.supervisor != nil && p.supervisor.IsRunning(serverID) {
		p.logger.Info("Stopping server before update", "server_id", serverID, "release_delay", p.releaseDelay)
		p.supervisor.Stop(serverID)

		if p.releaseDelay > 0 {
			timer := time.NewTimer(p.releaseDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}

	return p.runTool(ctx, serverID, appID, target, onLog)
}

// runTool drives the content tool with events keyed by key.
func (p *Pipeline) runTool(ctx context.Context, key, appID, target string, onLog func(string)) (*Job, error) {
	p.logger.Info("Installing with steamcmd", "key", key, "app_id", appID, "target", target)
	job := &Job{AppID: appID, TargetPath: target, Source: SourceTool}

	if err := os.MkdirAll(target, 0o755); err != nil {
		wrapped := errs.New(errs.CodeInstallFailed, "failed to create install directory", err)
		p.publishComplete(key, job, wrapped)
		return nil, wrapped
	}

	relay := func(line string) {
		if onLog != nil {
			onLog(line)
		}
		p.bus.Publish(events.InstallLogEvent{ID: key, Line: line, Timestamp: events.Now()})
	}

	result, err := p.tool.AppUpdate(ctx, appID, target, relay)
	job.Completed = result.Completed
	if err != nil {
		wrapped := errs.New(errs.CodeInstallFailed, fmt.Sprintf("install of app %s failed", appID), err)
		p.logger.Error("Install failed", "key", key, "app_id", appID, "error", err)
		p.publishComplete(key, job, wrapped)
		return nil, wrapped
	}

	p.logger.Info("Install finished", "key", key, "app_id", appID, "completed", job.Completed)
	p.publishComplete(key, job, nil)
	return job, nil
}

func (p *Pipeline) publishComplete(key string, job *Job, err error) {
	ev := events.InstallCompleteEvent{
		ID:        key,
		AppID:     job.AppID,
		Source:    string(job.Source),
		Success:   err == nil,
		Timestamp: events.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.bus.Publish(ev)
}
