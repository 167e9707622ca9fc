package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/smazurov/servernode/internal/errs"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/logging"
	"github.com/smazurov/servernode/internal/ringbuf"
)

// outputDrainTimeout bounds how long the exit watcher waits for buffered
// output after the process is gone. Descendants that inherited the pipe can
// keep it open indefinitely.
const outputDrainTimeout = 2 * time.Second

// handle tracks one live process.
type handle struct {
	id        string
	cmd       *exec.Cmd
	output    io.ReadCloser
	startedAt time.Time
	logs      *ringbuf.Buffer[string]
}

// Supervisor starts, stops and observes server processes by id.
// At most one live process exists per id.
type Supervisor struct {
	mu          sync.RWMutex
	handles     map[string]*handle
	bus         *events.Bus
	logCapacity int
	usePTY      bool
	logger      logging.Logger
	wg          sync.WaitGroup
}

// NewSupervisor creates a supervisor with no running processes.
func NewSupervisor(opts *SupervisorOptions) *Supervisor {
	if opts == nil {
		opts = &SupervisorOptions{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	capacity := opts.LogCapacity
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}

	return &Supervisor{
		handles:     make(map[string]*handle),
		bus:         opts.Bus,
		logCapacity: capacity,
		usePTY:      opts.UsePTY,
		logger:      logger,
	}
}

// Start launches executable for id. workDir defaults to the executable's
// directory. Returns an ALREADY_RUNNING error if id has a live process.
// Start does not wait for the server to become ready.
func (s *Supervisor) Start(id, executable string, args []string, workDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handles[id]; exists {
		return errs.New(errs.CodeAlreadyRunning, fmt.Sprintf("server %s is already running", id), nil)
	}

	if workDir == "" {
		workDir = filepath.Dir(executable)
	}

	cmd := exec.Command(executable, args...)
	cmd.Dir = workDir

	output, err := s.spawn(cmd)
	if err != nil {
		s.logger.Error("Failed to start server", "server_id", id, "executable", executable, "error", err)
		return fmt.Errorf("failed to start %s: %w", id, err)
	}

	h := &handle{
		id:        id,
		cmd:       cmd,
		output:    output,
		startedAt: time.Now(),
		logs:      ringbuf.New[string](s.logCapacity),
	}
	s.handles[id] = h

	s.logger.Info("Server started", "server_id", id, "pid", cmd.Process.Pid, "executable", executable)
	s.bus.Publish(events.StatusChangeEvent{
		ServerID:  id,
		Status:    events.StatusRunning,
		Timestamp: events.Now(),
	})

	outputDone := make(chan struct{})
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer close(outputDone)
		s.streamOutput(h)
	}()
	go func() {
		defer s.wg.Done()
		s.watchExit(h, outputDone)
	}()

	return nil
}

// spawn starts cmd in a new session and returns the reader for its combined output.
func (s *Supervisor) spawn(cmd *exec.Cmd) (io.ReadCloser, error) {
	if s.usePTY {
		// pty.Start puts the child in its own session with the PTY as controlling terminal.
		return pty.Start(cmd)
	}

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = writer
	cmd.Stderr = writer
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}
	// The child holds its own copy; EOF arrives once every holder closes it.
	writer.Close()
	return reader, nil
}

// streamOutput buffers and republishes each output line in arrival order.
func (s *Supervisor) streamOutput(h *handle) {
	scanner := bufio.NewScanner(h.output)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		h.logs.Write(line)
		s.bus.Publish(events.LogEvent{
			ServerID:  h.id,
			Line:      line,
			Timestamp: events.Now(),
		})
	}

	// EIO is how a PTY master reports that the child side closed.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
		s.logger.Warn("Error reading server output", "server_id", h.id, "error", err)
	}
}

// watchExit reaps the process, drops its handle if still registered, and
// publishes the single stopped event for this run.
func (s *Supervisor) watchExit(h *handle, outputDone <-chan struct{}) {
	waitErr := h.cmd.Wait()

	select {
	case <-outputDone:
	case <-time.After(outputDrainTimeout):
		s.logger.Debug("Output still open after exit, closing", "server_id", h.id)
	}
	h.output.Close()

	s.mu.Lock()
	if current, ok := s.handles[h.id]; ok && current == h {
		delete(s.handles, h.id)
	}
	s.mu.Unlock()

	exitCode := exitCodeFromState(h.cmd.ProcessState)
	if waitErr != nil && h.cmd.ProcessState == nil {
		s.logger.Error("Failed to wait for server", "server_id", h.id, "error", waitErr)
	}

	s.logger.Info("Server exited", "server_id", h.id, "exit_code", formatExitCode(exitCode))
	s.bus.Publish(events.StatusChangeEvent{
		ServerID:  h.id,
		Status:    events.StatusStopped,
		ExitCode:  exitCode,
		Timestamp: events.Now(),
	})
}

// Stop sends SIGTERM to the process group of id and forgets it immediately.
// Returns false when id has no live process.
func (s *Supervisor) Stop(id string) bool {
	s.mu.Lock()
	h, exists := s.handles[id]
	if exists {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}

	pid := h.cmd.Process.Pid
	s.logger.Info("Stopping server", "server_id", id, "pid", pid)
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return true
		}
		s.logger.Warn("Failed to signal process group, signalling process", "server_id", id, "error", err)
		if sigErr := h.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
			s.logger.Error("Failed to signal server", "server_id", id, "error", sigErr)
		}
	}
	return true
}

// StopAll stops every live process and returns how many were signalled.
func (s *Supervisor) StopAll() int {
	stopped := 0
	for _, info := range s.Running() {
		if s.Stop(info.ID) {
			stopped++
		}
	}
	return stopped
}

// Wait blocks until the output and exit watchers of every process started
// so far have returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// IsRunning reports whether id has a live process.
func (s *Supervisor) IsRunning(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.handles[id]
	return exists
}

// GetStatus returns events.StatusRunning or events.StatusStopped.
func (s *Supervisor) GetStatus(id string) string {
	if s.IsRunning(id) {
		return events.StatusRunning
	}
	return events.StatusStopped
}

// GetLogs returns buffered output lines for id, oldest first.
// Unknown ids yield an empty slice.
func (s *Supervisor) GetLogs(id string) []string {
	s.mu.RLock()
	h, exists := s.handles[id]
	s.mu.RUnlock()

	if !exists {
		return []string{}
	}
	return h.logs.ReadAll()
}

// Running returns a snapshot of live processes sorted by id.
func (s *Supervisor) Running() []Info {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.handles))
	for id, h := range s.handles {
		infos = append(infos, Info{ID: id, PID: h.cmd.Process.Pid, StartedAt: h.startedAt})
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// exitCodeFromState returns the exit code, or nil when the process was
// terminated by a signal or never produced a state.
func exitCodeFromState(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return nil
	}
	code := state.ExitCode()
	return &code
}

func formatExitCode(code *int) string {
	if code == nil {
		return "signal"
	}
	return fmt.Sprint(*code)
}
