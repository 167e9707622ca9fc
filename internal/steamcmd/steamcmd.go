// Package steamcmd drives the SteamCMD content tool.
//
// The tool is downloaded and unpacked on first use. Each run streams combined
// output line by line, watches for the completion phrase and force-kills the
// tool a grace period after it, since SteamCMD can hang after finishing.
package steamcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/servernode/internal/logging"
)

const (
	// DefaultBootstrapURL is the static SteamCMD archive for Linux.
	DefaultBootstrapURL = "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz"

	// ExecutableName is the launcher script inside the tool directory.
	ExecutableName = "steamcmd.sh"

	// DefaultGrace is how long the tool may linger after reporting completion.
	DefaultGrace = 2 * time.Second

	// exitRebootRequired is reported when an update wants a reboot; files are in place.
	exitRebootRequired = 7

	outputDrainTimeout = 2 * time.Second
)

// CompletionDetector reports whether an output line means the job finished.
type CompletionDetector func(line string) bool

// DefaultCompletionDetector matches the success lines SteamCMD prints for a
// finished install or an app that was already current.
func DefaultCompletionDetector(line string) bool {
	if !strings.Contains(line, "Success! App") {
		return false
	}
	return strings.Contains(line, "fully installed") || strings.Contains(line, "already up to date")
}

// LineHandler receives each relayed output line.
type LineHandler func(line string)

// ExitError reports a tool exit code that is not treated as success.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("steamcmd exited with code %d", e.Code)
}

// Result describes a finished tool run.
type Result struct {
	// Completed is true when the completion phrase was seen.
	Completed bool
	// ExitCode is nil when the tool ended by signal.
	ExitCode *int
	// Killed is true when the tool was terminated after the grace period.
	Killed bool
}

// Options configures a Tool.
type Options struct {
	// Dir holds the unpacked tool. Required.
	Dir string
	// BootstrapURL overrides DefaultBootstrapURL.
	BootstrapURL string
	// Grace overrides DefaultGrace.
	Grace time.Duration
	// Detector overrides DefaultCompletionDetector.
	Detector CompletionDetector
	// HTTPClient is used for the bootstrap download. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger for tool operations. If nil, uses slog.Default().
	Logger logging.Logger
}

// Tool runs SteamCMD commands.
type Tool struct {
	dir       string
	url       string
	grace     time.Duration
	detect    CompletionDetector
	client    *http.Client
	logger    logging.Logger
	installMu sync.Mutex
}

// New creates a Tool from opts.
func New(opts Options) *Tool {
	t := &Tool{
		dir:    opts.Dir,
		url:    opts.BootstrapURL,
		grace:  opts.Grace,
		detect: opts.Detector,
		client: opts.HTTPClient,
		logger: opts.Logger,
	}
	if t.url == "" {
		t.url = DefaultBootstrapURL
	}
	if t.grace <= 0 {
		t.grace = DefaultGrace
	}
	if t.detect == nil {
		t.detect = DefaultCompletionDetector
	}
	if t.client == nil {
		t.client = http.DefaultClient
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Executable returns the path of the launcher script.
func (t *Tool) Executable() string {
	return filepath.Join(t.dir, ExecutableName)
}

// AppUpdate installs or updates appID into installDir with anonymous login.
// Lines are relayed to onLine until completion is detected. Exit codes 0 and
// 7 and termination by signal count as success; any other code returns an
// *ExitError.
func (t *Tool) AppUpdate(ctx context.Context, appID, installDir string, onLine LineHandler) (Result, error) {
	return t.Run(ctx, AppUpdateArgs(appID, installDir), onLine)
}

// AppUpdateArgs builds the argument list for an anonymous app_update.
func AppUpdateArgs(appID, installDir string) []string {
	return []string{
		"+force_install_dir", installDir,
		"+login", "anonymous",
		"+app_update", appID,
		"+quit",
	}
}

// Run bootstraps the tool if needed and runs it with args.
func (t *Tool) Run(ctx context.Context, args []string, onLine LineHandler) (Result, error) {
	if err := t.EnsureInstalled(ctx); err != nil {
		return Result{}, err
	}

	exe := t.Executable()
	cmd := exec.Command(exe, args...)
	cmd.Dir = t.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	reader, writer, err := os.Pipe()
	if err != nil {
		return Result{}, err
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	t.logger.Info("Running steamcmd", "executable", exe, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return Result{}, fmt.Errorf("failed to start steamcmd: %w", err)
	}
	writer.Close()

	var completed atomic.Bool
	matched := make(chan struct{})
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		t.streamOutput(reader, onLine, &completed, matched)
	}()

	processDone := make(chan error, 1)
	go func() {
		processDone <- cmd.Wait()
	}()

	var (
		killed  bool
		waitErr error
		ctxErr  error
	)

	select {
	case waitErr = <-processDone:
	case <-matched:
		t.logger.Info("Completion detected, waiting for steamcmd to exit", "grace", t.grace)
		timer := time.NewTimer(t.grace)
		select {
		case waitErr = <-processDone:
			timer.Stop()
		case <-timer.C:
			t.logger.Warn("steamcmd still running after completion, killing", "pid", cmd.Process.Pid)
			t.killGroup(cmd)
			killed = true
			waitErr = <-processDone
		case <-ctx.Done():
			timer.Stop()
			t.killGroup(cmd)
			killed = true
			waitErr = <-processDone
		}
	case <-ctx.Done():
		t.logger.Warn("Context cancelled, killing steamcmd", "pid", cmd.Process.Pid)
		t.killGroup(cmd)
		ctxErr = ctx.Err()
		waitErr = <-processDone
	}

	select {
	case <-outputDone:
	case <-time.After(outputDrainTimeout):
	}
	reader.Close()
	<-outputDone

	result := Result{
		Completed: completed.Load(),
		ExitCode:  exitCodeFromState(cmd.ProcessState),
		Killed:    killed,
	}

	if ctxErr != nil {
		return result, ctxErr
	}
	if cmd.ProcessState == nil {
		return result, fmt.Errorf("failed to wait for steamcmd: %w", waitErr)
	}

	t.logger.Info("steamcmd exited", "exit_code", formatExitCode(result.ExitCode), "completed", result.Completed, "killed", killed)

	if killed || result.ExitCode == nil {
		return result, nil
	}
	switch code := *result.ExitCode; code {
	case 0, exitRebootRequired:
		return result, nil
	default:
		return result, &ExitError{Code: code}
	}
}

// streamOutput relays lines until completion is detected, then keeps
// draining the pipe silently.
func (t *Tool) streamOutput(reader *os.File, onLine LineHandler, completed *atomic.Bool, matched chan<- struct{}) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if completed.Load() {
			continue
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		t.logger.Debug(line)
		if onLine != nil {
			onLine(line)
		}
		if t.detect(line) {
			completed.Store(true)
			close(matched)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		t.logger.Warn("Error reading steamcmd output", "error", err)
	}
}

// killGroup sends SIGKILL to the tool and everything it spawned.
func (t *Tool) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		t.logger.Warn("Failed to kill steamcmd process group", "error", err)
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			t.logger.Error("Failed to kill steamcmd", "error", killErr)
		}
	}
}

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
