package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/smazurov/servernode/internal/logging"
)

// SubcommandName is the hidden CLI subcommand that serves worker jobs.
const SubcommandName = "worker"

const maxStderrTail = 4096

// ExecRunner runs each job in a fresh child process.
type ExecRunner struct {
	// Command is the child argv. Defaults to this executable plus SubcommandName.
	Command []string
	// Env is appended to the parent environment.
	Env    []string
	Logger logging.Logger
}

// NewExecRunner creates a runner that re-executes the current binary.
func NewExecRunner(logger logging.Logger) (*ExecRunner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}
	return &ExecRunner{Command: []string{exe, SubcommandName}, Logger: logger}, nil
}

// Run spawns the child, writes job to its stdin and reads exactly one result
// from its stdout. A nonzero exit, a missing or malformed result, or more
// than one result is an error.
func (r *ExecRunner) Run(ctx context.Context, job Job) (Result, error) {
	if len(r.Command) == 0 {
		return Result{}, errors.New("worker command not configured")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode job: %w", err)
	}

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: maxStderrTail}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	logger.Debug("Starting worker", "kind", job.Kind, "command", strings.Join(r.Command, " "))
	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if runErr != nil {
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return Result{}, fmt.Errorf("worker failed: %w: %s", runErr, tail)
		}
		return Result{}, fmt.Errorf("worker failed: %w", runErr)
	}

	result, err := decodeResult(&stdout)
	if err != nil {
		return Result{}, err
	}
	logger.Debug("Worker finished", "kind", job.Kind, "success", result.Success, "size", result.Size)
	return result, nil
}

// decodeResult reads exactly one Result from r.
func decodeResult(r io.Reader) (Result, error) {
	dec := json.NewDecoder(r)

	var result Result
	if err := dec.Decode(&result); err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, errors.New("worker exited without a result")
		}
		return Result{}, fmt.Errorf("invalid worker result: %w", err)
	}

	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Result{}, errors.New("worker sent more than one result")
	}
	return result, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}
