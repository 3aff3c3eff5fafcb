// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"os"
	"time"

	"github.com/artpar/mcplaunch/domain/launch"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Module Ports
// -----------------------------------------------------------------------------

// Loader brings an external module into execution.
type Loader interface {
	// Load attempts to start the module described by t and blocks until the
	// load has either succeeded or failed. Any failure is a *launch.LoadError.
	Load(ctx context.Context, t launch.Target) (Process, error)
}

// Process is a loaded module that may still be running.
type Process interface {
	// PID returns the operating system process id.
	PID() int

	// Done is closed once the process has exited.
	Done() <-chan struct{}

	// ExitCode returns the exit status. Only valid after Done is closed;
	// -1 when the process was terminated by a signal.
	ExitCode() int

	// Signal delivers sig to the process.
	Signal(sig os.Signal) error

	// Kill terminates the process immediately.
	Kill() error
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// LaunchStore persists launch attempts.
type LaunchStore interface {
	// Create stores a new attempt.
	Create(ctx context.Context, r launch.Record) error

	// Finish records the exit of a loaded module.
	Finish(ctx context.Context, id string, exitCode int, at time.Time) error

	// Get retrieves an attempt by ID.
	Get(ctx context.Context, id string) (launch.Record, error)

	// List returns the most recent attempts, newest first.
	List(ctx context.Context, limit int) ([]launch.Record, error)
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// LaunchObserver receives launch lifecycle events (metrics, status).
type LaunchObserver interface {
	// Attempted is called once per attempt with its result.
	Attempted(r launch.Result)

	// Exited is called when a loaded module exits.
	Exited(exitCode int)
}
