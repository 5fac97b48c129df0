package scheduler

import (
	"context"

	"github.com/intellidoc/agentflow/pkg/models"
)

// Store is the persistence contract the scheduler and the pause/resume
// controller mutate execution state through. Every save is a single atomic
// upsert of the full execution row.
type Store interface {
	// SaveExecution atomically persists the full execution state.
	SaveExecution(ctx context.Context, state *models.ExecutionState) error

	// GetExecution loads a fresh copy of the execution state.
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionState, error)
}
