// Package worker runs CPU and I/O heavy jobs away from the control plane.
//
// A job is sent once and answered by exactly one terminal Result. ExecRunner
// runs the job in a child process (normally the hidden "worker" subcommand of
// this binary) speaking JSON over stdin and stdout; LocalRunner runs it in a
// goroutine of the current process.
package worker

import (
	"context"
	"fmt"
)

// Job describes one unit of work.
type Job struct {
	Kind            string `json:"kind"`
	SourcePath      string `json:"sourcePath"`
	DestinationPath string `json:"destinationPath"`
}

// Result is the single terminal message for a job.
type Result struct {
	Success bool   `json:"success"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler performs a job and returns the size of what it produced.
type Handler func(ctx context.Context, job Job) (size int64, err error)

// Handlers maps job kinds to their handlers.
type Handlers map[string]Handler

// Runner executes a job. The returned error reports a failure of the runner
// itself (crash, bad protocol, cancellation); a job that ran and failed is
// reported through Result.Success and Result.Error.
type Runner interface {
	Run(ctx context.Context, job Job) (Result, error)
}

// Dispatch runs job with the handler registered for its kind.
func Dispatch(ctx context.Context, handlers Handlers, job Job) Result {
	handler, ok := handlers[job.Kind]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("unknown job kind %q", job.Kind)}
	}
	size, err := handler(ctx, job)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Size: size}
}
