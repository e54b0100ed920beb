package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// ExecutionStore persists Execution records.
type ExecutionStore interface {
	// Load retrieves an execution by ID.
	// Returns domain.ErrExecutionNotFound if it does not exist.
	Load(ctx context.Context, executionID string) (*domain.Execution, error)

	// Save persists exec when exec.Revision matches the stored revision (0 for
	// a new record) and bumps exec.Revision on success. A mismatch returns
	// domain.ErrConflict and writes nothing.
	Save(ctx context.Context, exec *domain.Execution) error

	// ListByStatus returns the IDs of executions currently in status.
	ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]string, error)
}

// GraphStore serves published graph definitions. Returned values must be
// treated as read-only.
type GraphStore interface {
	// Load returns the given version of a graph.
	// Returns domain.ErrGraphNotFound if the pair is unknown.
	Load(ctx context.Context, graphID string, version int) (*domain.GraphDefinition, error)

	// Latest returns the highest published version of a graph.
	Latest(ctx context.Context, graphID string) (*domain.GraphDefinition, error)
}
