package worker

import (
	"context"
	"fmt"
)

// LocalRunner runs jobs in a goroutine of the current process. A panicking
// handler is reported as a runner error.
type LocalRunner struct {
	Handlers Handlers
}

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, job Job) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("worker panicked: %v", p)}
			}
		}()
		done <- outcome{result: Dispatch(ctx, r.Handlers, job)}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
