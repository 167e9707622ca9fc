// Package cache keeps pre-downloaded app trees so new servers can be
// materialised by copying instead of downloading again.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/servernode/internal/errs"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/fsutil"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/steamcmd"
)

// Status is the lifecycle state of a cache entry.
type Status string

// Cache entry states.
const (
	StatusNotCached   Status = "not_cached"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
)

const registryFile = "registry.toml"

// Entry is one cached app.
type Entry struct {
	AppID          string     `toml:"-" json:"app_id"`
	Name           string     `toml:"name" json:"name"`
	Status         Status     `toml:"status" json:"status"`
	DownloadedDate *time.Time `toml:"downloaded_date,omitempty" json:"downloaded_date,omitempty"`
	LastChecked    *time.Time `toml:"last_checked,omitempty" json:"last_checked,omitempty"`
	DiskSize       int64      `toml:"disk_size" json:"disk_size"`
	Error          string     `toml:"error,omitempty" json:"error,omitempty"`
}

// HumanSize formats DiskSize for display, e.g. "1.2 GB".
func (e Entry) HumanSize() string {
	return humanize.Bytes(uint64(e.DiskSize))
}

// registry is the on-disk document.
type registry struct {
	Apps map[string]Entry `toml:"apps"`
}

// Installer fetches an app into a directory.
type Installer interface {
	AppUpdate(ctx context.Context, appID, installDir string, onLine steamcmd.LineHandler) (steamcmd.Result, error)
}

// Store is the cache registry plus the cached trees under one root.
// Downloads of the same app must not run concurrently.
type Store struct {
	root   string
	tool   Installer
	bus    *events.Bus
	logger logging.Logger
	mu     sync.Mutex
	now    func() time.Time
}

// NewStore creates a store rooted at <dataDir>/cache.
func NewStore(dataDir string, tool Installer, bus *events.Bus, logger logging.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   filepath.Join(dataDir, "cache"),
		tool:   tool,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// AppDir returns the directory holding the cached tree for appID.
func (s *Store) AppDir(appID string) string {
	return filepath.Join(s.root, appID)
}

// ValidAppID reports whether appID can name a cache directory: a single
// path element other than "." and "..".
func ValidAppID(appID string) bool {
	return appID != "" && appID != "." && appID != ".." && !strings.ContainsAny(appID, `/\`)
}

func invalidAppID(appID string) error {
	return errs.New(errs.CodeNotFound, fmt.Sprintf("invalid app id %q", appID), nil)
}

// IsCached reports whether appID has a ready entry.
func (s *Store) IsCached(appID string) (bool, error) {
	entry, err := s.Status(appID)
	if err != nil {
		return false, err
	}
	return entry.Status == StatusReady, nil
}

// Status reloads the registry and returns the entry for appID.
// Unknown ids report StatusNotCached.
func (s *Store) Status(appID string) (Entry, error) {
	if !ValidAppID(appID) {
		return Entry{}, invalidAppID(appID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := reg.Apps[appID]
	if !ok {
		return Entry{AppID: appID, Status: StatusNotCached}, nil
	}
	entry.AppID = appID
	return entry, nil
}

// List reloads the registry and returns every entry sorted by app id.
func (s *Store) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(reg.Apps))
	for id, entry := range reg.Apps {
		entry.AppID = id
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AppID < entries[j].AppID })
	return entries, nil
}

// Download fetches appID into the cache. The entry moves to downloading,
// then to ready with size and timestamp, or to error with the failure message.
func (s *Store) Download(ctx context.Context, appID, name string, onLog func(string)) (Entry, error) {
	if !ValidAppID(appID) {
		return Entry{}, invalidAppID(appID)
	}
	s.logger.Info("Downloading app to cache", "app_id", appID, "name", name)

	now := s.now()
	entry, err := s.update(appID, func(e *Entry) {
		if name != "" {
			e.Name = name
		}
		e.Status = StatusDownloading
		e.DownloadedDate = nil
		e.LastChecked = &now
		e.DiskSize = 0
		e.Error = ""
	})
	if err != nil {
		return Entry{}, err
	}
	s.publishStatus(entry)

	dir := s.AppDir(appID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.fail(appID, fmt.Errorf("failed to create cache directory: %w", err))
	}

	relay := func(line string) {
		if onLog != nil {
			onLog(line)
		}
		s.bus.Publish(events.CacheLogEvent{AppID: appID, Line: line, Timestamp: events.Now()})
	}

	if _, err := s.tool.AppUpdate(ctx, appID, dir, relay); err != nil {
		return s.fail(appID, err)
	}

	size, err := fsutil.DirSize(dir)
	if err != nil {
		return s.fail(appID, fmt.Errorf("failed to measure cache directory: %w", err))
	}

	done := s.now()
	entry, err = s.update(appID, func(e *Entry) {
		e.Status = StatusReady
		e.DownloadedDate = &done
		e.LastChecked = &done
		e.DiskSize = size
		e.Error = ""
	})
	if err != nil {
		return Entry{}, err
	}
	s.publishStatus(entry)

	s.logger.Info("App cached", "app_id", appID, "size", entry.HumanSize())
	return entry, nil
}

// fail records the error state for appID and returns an INSTALL_FAILED error.
func (s *Store) fail(appID string, cause error) (Entry, error) {
	s.logger.Error("Cache download failed", "app_id", appID, "error", cause)

	now := s.now()
	entry, err := s.update(appID, func(e *Entry) {
		e.Status = StatusError
		e.DownloadedDate = nil
		e.LastChecked = &now
		e.DiskSize = 0
		e.Error = cause.Error()
	})
	if err != nil {
		return Entry{}, err
	}
	s.publishStatus(entry)
	return entry, errs.New(errs.CodeInstallFailed, fmt.Sprintf("cache download of %s failed", appID), cause)
}

// CopyFrom copies the cached tree for appID into target without overwriting
// existing files. Returns CACHE_MISS, before touching the filesystem, when
// appID is not ready.
func (s *Store) CopyFrom(appID, target string) error {
	cached, err := s.IsCached(appID)
	if err != nil {
		return err
	}
	if !cached {
		return errs.New(errs.CodeCacheMiss, fmt.Sprintf("app %s is not cached", appID), nil)
	}

	s.logger.Info("Copying cached app", "app_id", appID, "target", target)
	if err := fsutil.CopyTree(s.AppDir(appID), target); err != nil {
		return fmt.Errorf("failed to copy cached app %s: %w", appID, err)
	}
	return nil
}

// Delete removes the cached tree and registry record for appID.
// Deleting an unknown app is not an error; an invalid id is NOT_FOUND.
func (s *Store) Delete(appID string) error {
	if !ValidAppID(appID) {
		return invalidAppID(appID)
	}
	if err := os.RemoveAll(s.AppDir(appID)); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := reg.Apps[appID]; !ok {
		return nil
	}
	delete(reg.Apps, appID)
	if err := s.save(reg); err != nil {
		return err
	}

	s.logger.Info("Cache entry deleted", "app_id", appID)
	s.bus.Publish(events.CacheStatusEvent{AppID: appID, Status: string(StatusNotCached), Timestamp: events.Now()})
	return nil
}

// update applies fn to the entry for appID and rewrites the registry.
func (s *Store) update(appID string, fn func(*Entry)) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return Entry{}, err
	}
	entry := reg.Apps[appID]
	fn(&entry)
	reg.Apps[appID] = entry

	if err := s.save(reg); err != nil {
		return Entry{}, err
	}
	entry.AppID = appID
	return entry, nil
}

func (s *Store) publishStatus(entry Entry) {
	s.bus.Publish(events.CacheStatusEvent{
		AppID:     entry.AppID,
		Status:    string(entry.Status),
		Error:     entry.Error,
		Timestamp: events.Now(),
	})
}

// load reads the registry (must hold lock). A missing file is an empty registry.
func (s *Store) load() (*registry, error) {
	reg := &registry{Apps: make(map[string]Entry)}

	data, err := os.ReadFile(filepath.Join(s.root, registryFile))
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache registry: %w", err)
	}

	if err := toml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse cache registry: %w", err)
	}
	if reg.Apps == nil {
		reg.Apps = make(map[string]Entry)
	}
	return reg, nil
}

// save rewrites the whole registry through a temp file and rename (must hold lock).
func (s *Store) save(reg *registry) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := toml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal cache registry: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, registryFile+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp registry: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.root, registryFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache registry: %w", err)
	}
	return nil
}
