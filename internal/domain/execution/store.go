package execution

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when no checkpoint exists yet for a
// project. Callers use this to distinguish "fresh start" from I/O failure.
var ErrNotFound = errors.New("execution: no checkpoint found")

// ErrCheckpointIO is the sentinel wrapped around any failure to persist a
// checkpoint. Fatal by the design's own terms: a Team Lead or Orchestrator
// that cannot trust its checkpoint has no safe way to continue.
var ErrCheckpointIO = errors.New("execution: checkpoint persistence failed")

// Store is the persistence port for execution state. Implementations live
// under internal/infra/execution; this package stays free of I/O so the
// domain types can be tested without a filesystem.
type Store interface {
	// Load reads the checkpoint for projectID. Returns ErrNotFound if none
	// exists yet.
	Load(ctx context.Context, projectID string) (*State, error)

	// Save atomically persists the given state, overwriting any prior
	// checkpoint for the same project.
	Save(ctx context.Context, state *State) error

	// Exists reports whether a checkpoint is present for projectID without
	// incurring a full decode.
	Exists(ctx context.Context, projectID string) (bool, error)
}
