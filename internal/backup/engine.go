// Package backup creates, lists, restores and deletes zip snapshots of a
// server directory. Compression and extraction run through a worker.Runner
// so they never block the caller's process.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/servernode/internal/archive"
	"github.com/smazurov/servernode/internal/errs"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/fsutil"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/worker"
)

// Worker job kinds served by WorkerHandlers.
const (
	KindCreate  = "archive.create"
	KindExtract = "archive.extract"
)

const (
	extension       = ".zip"
	timestampFormat = "20060102T150405Z"
)

// Archive describes one snapshot file. The directory listing is the only
// record of which snapshots exist.
type Archive struct {
	ServerID string    `json:"server_id"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

// WorkerHandlers returns the job handlers a worker child must serve.
func WorkerHandlers() worker.Handlers {
	return worker.Handlers{
		KindCreate: func(ctx context.Context, job worker.Job) (int64, error) {
			return archive.Create(ctx, job.SourcePath, job.DestinationPath)
		},
		KindExtract: func(ctx context.Context, job worker.Job) (int64, error) {
			return archive.Extract(ctx, job.SourcePath, job.DestinationPath)
		},
	}
}

// Engine manages snapshots under <dataDir>/backups/<serverID>.
type Engine struct {
	root   string
	runner worker.Runner
	bus    *events.Bus
	logger logging.Logger
	now    func() time.Time
}

// NewEngine creates an engine storing archives under dataDir.
func NewEngine(dataDir string, runner worker.Runner, bus *events.Bus, logger logging.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		root:   filepath.Join(dataDir, "backups"),
		runner: runner,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Dir returns the archive directory for serverID.
func (e *Engine) Dir(serverID string) string {
	return filepath.Join(e.root, serverID)
}

// newFilename returns backup_<UTC timestamp>_<random>.zip.
func (e *Engine) newFilename() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "backup_" + e.now().UTC().Format(timestampFormat) + "_" + suffix + extension
}

// Create snapshots sourcePath into a new archive for serverID. Any worker
// failure is a BACKUP_FAILED error; a partial archive may remain on disk.
func (e *Engine) Create(ctx context.Context, serverID, sourcePath string) (Archive, error) {
	if !validName(serverID) {
		return Archive{}, errs.New(errs.CodeNotFound, fmt.Sprintf("invalid server id %q", serverID), nil)
	}

	dir := e.Dir(serverID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Archive{}, e.failed(serverID, "", errs.New(errs.CodeBackupFailed, "failed to create backup directory", err))
	}

	filename := e.newFilename()
	dest := filepath.Join(dir, filename)
	e.logger.Info("Creating backup", "server_id", serverID, "source", sourcePath, "archive", dest)

	result, err := e.runner.Run(ctx, worker.Job{Kind: KindCreate, SourcePath: sourcePath, DestinationPath: dest})
	if err != nil {
		return Archive{}, e.failed(serverID, filename, errs.New(errs.CodeBackupFailed, "backup worker failed", err))
	}
	if !result.Success {
		return Archive{}, e.failed(serverID, filename, errs.New(errs.CodeBackupFailed, result.Error, nil))
	}

	created := e.now()
	if info, statErr := os.Stat(dest); statErr == nil {
		created = info.ModTime()
	}

	a := Archive{ServerID: serverID, Filename: filename, Size: result.Size, Created: created}
	e.logger.Info("Backup created", "server_id", serverID, "archive", filename, "size", result.Size)
	e.bus.Publish(events.BackupEvent{
		ServerID:  serverID,
		Action:    events.BackupActionCreated,
		Filename:  filename,
		Size:      result.Size,
		Timestamp: events.Now(),
	})
	return a, nil
}

// List returns the archives for serverID, newest first. A server with no
// backup directory has no archives.
func (e *Engine) List(serverID string) ([]Archive, error) {
	if !validName(serverID) {
		return []Archive{}, nil
	}

	entries, err := os.ReadDir(e.Dir(serverID))
	if errors.Is(err, os.ErrNotExist) {
		return []Archive{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	archives := make([]Archive, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), extension) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, Archive{
			ServerID: serverID,
			Filename: entry.Name(),
			Size:     info.Size(),
			Created:  info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].Created.Equal(archives[j].Created) {
			return archives[i].Created.After(archives[j].Created)
		}
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// Restore replaces the contents of target with the archive. This is
// destructive: target is emptied before extraction. A missing archive is a
// NOT_FOUND error and leaves target untouched; extraction failures are
// RESTORE_FAILED.
func (e *Engine) Restore(ctx context.Context, serverID, filename, target string) error {
	path, err := e.archivePath(serverID, filename)
	if err != nil {
		return err
	}

	e.logger.Warn("Restoring backup, target will be emptied", "server_id", serverID, "archive", filename, "target", target)

	if err := fsutil.EmptyDir(target); err != nil {
		return e.failed(serverID, filename, errs.New(errs.CodeRestoreFailed, "failed to clear restore target", err))
	}

	result, err := e.runner.Run(ctx, worker.Job{Kind: KindExtract, SourcePath: path, DestinationPath: target})
	if err != nil {
		return e.failed(serverID, filename, errs.New(errs.CodeRestoreFailed, "restore worker failed", err))
	}
	if !result.Success {
		return e.failed(serverID, filename, errs.New(errs.CodeRestoreFailed, result.Error, nil))
	}

	e.logger.Info("Backup restored", "server_id", serverID, "archive", filename, "bytes", result.Size)
	e.bus.Publish(events.BackupEvent{
		ServerID:  serverID,
		Action:    events.BackupActionRestored,
		Filename:  filename,
		Size:      result.Size,
		Timestamp: events.Now(),
	})
	return nil
}

// Delete removes one archive. A missing archive is a NOT_FOUND error.
func (e *Engine) Delete(serverID, filename string) error {
	path, err := e.archivePath(serverID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound(serverID, filename)
		}
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	e.logger.Info("Backup deleted", "server_id", serverID, "archive", filename)
	e.bus.Publish(events.BackupEvent{
		ServerID:  serverID,
		Action:    events.BackupActionDeleted,
		Filename:  filename,
		Timestamp: events.Now(),
	})
	return nil
}

// archivePath resolves an existing archive, rejecting names that are not
// plain filenames.
func (e *Engine) archivePath(serverID, filename string) (string, error) {
	if !validName(serverID) || !validName(filename) {
		return "", notFound(serverID, filename)
	}
	path := filepath.Join(e.Dir(serverID), filename)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", notFound(serverID, filename)
	}
	return path, nil
}

func (e *Engine) failed(serverID, filename string, err error) error {
	e.logger.Error("Backup operation failed", "server_id", serverID, "archive", filename, "error", err)
	e.bus.Publish(events.BackupEvent{
		ServerID:  serverID,
		Action:    events.BackupActionFailed,
		Filename:  filename,
		Error:     err.Error(),
		Timestamp: events.Now(),
	})
	return err
}

func notFound(serverID, filename string) error {
	return errs.New(errs.CodeNotFound, fmt.Sprintf("backup %s not found for server %s", filename, serverID), nil)
}

// validName reports whether name is a single path element.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
