package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/scheduler"
	"github.com/intellidoc/agentflow/pkg/services"
)

// SchedulerRunner implements ExecutionRunner by loading a claimed execution
// and driving its workflow graph through the scheduler. All intermediate
// state is written progressively by the scheduler; the runner only reports
// the terminal outcome.
type SchedulerRunner struct {
	executions *services.ExecutionService
	workflows  *services.WorkflowService
	scheduler  *scheduler.Scheduler
}

// NewSchedulerRunner creates a runner over the scheduler and services.
func NewSchedulerRunner(executions *services.ExecutionService, workflows *services.WorkflowService, sched *scheduler.Scheduler) *SchedulerRunner {
	return &SchedulerRunner{
		executions: executions,
		workflows:  workflows,
		scheduler:  sched,
	}
}

// Run drives one execution to completion, failure, or a human-input pause.
func (r *SchedulerRunner) Run(ctx context.Context, executionID string) *RunOutcome {
	logger := slog.With("execution_id", executionID)

	state, err := r.executions.GetExecution(ctx, executionID)
	if err != nil {
		logger.Error("Failed to load claimed execution", "error", err)
		return &RunOutcome{Status: models.ExecutionStatusFailed, Err: err}
	}

	g, err := r.workflows.GetWorkflowGraph(ctx, state.WorkflowID)
	if err != nil {
		err = fmt.Errorf("failed to load workflow %s: %w", state.WorkflowID, err)
		r.failFast(state, err)
		return &RunOutcome{Status: models.ExecutionStatusFailed, Err: err}
	}
	if err := g.Validate(); err != nil {
		err = fmt.Errorf("workflow %s failed validation: %w", state.WorkflowID, err)
		r.failFast(state, err)
		return &RunOutcome{Status: models.ExecutionStatusFailed, Err: err}
	}

	result, err := r.scheduler.Run(ctx, g, state)
	if err != nil {
		// The scheduler already persisted the failed state.
		return &RunOutcome{Status: models.ExecutionStatusFailed, Err: err}
	}

	return &RunOutcome{Status: result.Status, Paused: result.Paused}
}

// failFast persists a failure that happened before the scheduler took over.
func (r *SchedulerRunner) failFast(state *models.ExecutionState, cause error) {
	now := time.Now()
	state.Status = models.ExecutionStatusFailed
	state.EndTime = &now
	state.ErrorMessage = cause.Error()
	state.ResultSummary = "Workflow failed: " + cause.Error()

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.executions.SaveExecution(saveCtx, state); err != nil {
		slog.Error("Failed to persist fail-fast state",
			"execution_id", state.ExecutionID, "error", err)
	}
}
