package process

import (
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/logging"
)

// DefaultLogCapacity is the number of output lines retained per server.
const DefaultLogCapacity = 1000

// SupervisorOptions configures a new Supervisor.
type SupervisorOptions struct {
	// Bus receives log and status events. Nil disables publishing.
	Bus *events.Bus

	// LogCapacity bounds the per-server output buffer. Zero uses DefaultLogCapacity.
	LogCapacity int

	// UsePTY attaches servers to a pseudo-terminal instead of a pipe.
	UsePTY bool

	// Logger for supervisor operations. If nil, uses slog.Default().
	Logger logging.Logger
}
