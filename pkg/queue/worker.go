package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"entgo.io/ent/dialect/sql"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/workflowexecution"
	"github.com/intellidoc/agentflow/pkg/config"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and processes executions.
type Worker struct {
	id       string
	podID    string
	client   *ent.Client
	config   *config.QueueConfig
	runner   ExecutionRunner
	pool     ExecutionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking.
	mu                  sync.RWMutex
	status              WorkerStatus
	currentExecutionID  string
	executionsProcessed int
	lastActivity        time.Time
}

// ExecutionRegistry is the subset of WorkerPool used by Worker for
// cancellation registration.
type ExecutionRegistry interface {
	RegisterExecution(executionID string, cancel context.CancelFunc)
	UnregisterExecution(executionID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, client *ent.Client, cfg *config.QueueConfig, runner ExecutionRunner, pool ExecutionRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		client:       client,
		config:       cfg,
		runner:       runner,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                  w.id,
		Status:              string(w.status),
		CurrentExecutionID:  w.currentExecutionID,
		ExecutionsProcessed: w.executionsProcessed,
		LastActivity:        w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoExecutionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing execution", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims an execution, and drives it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Best-effort global capacity check; racy with concurrent workers but
	// bounded by WorkerCount and mitigated by poll jitter.
	activeCount, err := w.client.WorkflowExecution.Query().
		Where(
			workflowexecution.StatusEQ(workflowexecution.StatusRunning),
			workflowexecution.HumanInputRequired(false),
		).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("checking active executions: %w", err)
	}
	if activeCount >= w.config.MaxConcurrentExecutions {
		return ErrAtCapacity
	}

	executionID, err := w.claimNextExecution(ctx)
	if err != nil {
		return err
	}

	log := slog.With("execution_id", executionID, "worker_id", w.id)
	log.Info("Execution claimed")

	w.setStatus(WorkerStatusWorking, executionID)
	defer w.setStatus(WorkerStatusIdle, "")

	execCtx, cancelExec := context.WithTimeout(ctx, w.config.ExecutionTimeout)
	defer cancelExec()

	// Register cancel function for API-triggered cancellation.
	w.pool.RegisterExecution(executionID, cancelExec)
	defer w.pool.UnregisterExecution(executionID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(execCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, executionID)

	outcome := w.runner.Run(execCtx, executionID)
	cancelHeartbeat()

	if outcome == nil {
		outcome = &RunOutcome{Err: fmt.Errorf("runner returned nil outcome")}
	}
	if outcome.Err != nil && errors.Is(execCtx.Err(), context.Canceled) {
		// API-triggered cancellation: mark stopped (use background context —
		// the execution context is already cancelled).
		if err := w.markStopped(context.Background(), executionID); err != nil {
			log.Error("Failed to mark cancelled execution stopped", "error", err)
		}
		log.Info("Execution cancelled")
		w.recordProcessed()
		return nil
	}

	w.recordProcessed()
	log.Info("Execution processing complete", "status", outcome.Status, "paused", outcome.Paused)
	return nil
}

// claimNextExecution atomically claims the oldest pending execution using
// FOR UPDATE SKIP LOCKED.
func (w *Worker) claimNextExecution(ctx context.Context) (string, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	execution, err := tx.WorkflowExecution.Query().
		Where(
			workflowexecution.StatusEQ(workflowexecution.StatusPending),
			workflowexecution.DeletedAtIsNil(),
		).
		Order(ent.Asc(workflowexecution.FieldCreatedAt)).
		Limit(1).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return "", ErrNoExecutionsAvailable
		}
		return "", fmt.Errorf("failed to query pending execution: %w", err)
	}

	now := time.Now()
	_, err = execution.Update().
		SetStatus(workflowexecution.StatusRunning).
		SetPodID(w.podID).
		SetStartTime(now).
		SetLastInteractionAt(now).
		Save(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to claim execution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit claim: %w", err)
	}
	return execution.ID, nil
}

// runHeartbeat periodically updates last_interaction_at for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, executionID string) {
	interval := w.config.OrphanThreshold / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.client.WorkflowExecution.UpdateOneID(executionID).
				SetLastInteractionAt(time.Now()).
				Exec(ctx); err != nil {
				slog.Warn("Heartbeat update failed", "execution_id", executionID, "error", err)
			}
		}
	}
}

// markStopped records an API-triggered cancellation as a terminal state.
func (w *Worker) markStopped(ctx context.Context, executionID string) error {
	return w.client.WorkflowExecution.UpdateOneID(executionID).
		SetStatus(workflowexecution.StatusStopped).
		SetEndTime(time.Now()).
		SetResultSummary("Execution cancelled by request").
		Exec(ctx)
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) recordProcessed() {
	w.mu.Lock()
	w.executionsProcessed++
	w.mu.Unlock()
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, executionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentExecutionID = executionID
	w.lastActivity = time.Now()
}
