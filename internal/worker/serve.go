package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Serve is the child side of ExecRunner: it reads one job from r, runs it and
// writes one result to w. Job failures are reported in the result; the
// returned error covers protocol and I/O failures only.
func Serve(ctx context.Context, r io.Reader, w io.Writer, handlers Handlers) error {
	var job Job
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return fmt.Errorf("failed to read job: %w", err)
	}

	result := Dispatch(ctx, handlers, job)

	if err := json.NewEncoder(w).Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
