package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/workflowexecution"
	"github.com/intellidoc/agentflow/pkg/config"
)

// WorkerPool manages a pool of queue workers.
type WorkerPool struct {
	podID    string
	client   *ent.Client
	config   *config.QueueConfig
	runner   ExecutionRunner
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Execution cancel registry: execution_id -> cancel function.
	activeExecutions map[string]context.CancelFunc
	mu               sync.RWMutex
	started          bool

	// Orphan detection state.
	orphans orphanState
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, client *ent.Client, cfg *config.QueueConfig, runner ExecutionRunner) *WorkerPool {
	return &WorkerPool{
		podID:            podID,
		client:           client,
		config:           cfg,
		runner:           runner,
		workers:          make([]*Worker, 0, cfg.WorkerCount),
		stopCh:           make(chan struct{}),
		activeExecutions: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the orphan detection background task.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.client, p.config, p.runner, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish. Workers
// finish their current executions before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveExecutionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active executions to complete",
			"count", len(active),
			"execution_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// RegisterExecution stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterExecution(executionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeExecutions[executionID] = cancel
}

// UnregisterExecution removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterExecution(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeExecutions, executionID)
}

// CancelExecution triggers context cancellation for an execution on this
// pod. Returns true if the execution was found and cancelled here.
func (p *WorkerPool) CancelExecution(executionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeExecutions[executionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.client.WorkflowExecution.Query().
		Where(
			workflowexecution.StatusEQ(workflowexecution.StatusPending),
			workflowexecution.DeletedAtIsNil(),
		).
		Count(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check", "pod_id", p.podID, "error", errQ)
	}

	activeExecutions, errA := p.client.WorkflowExecution.Query().
		Where(
			workflowexecution.StatusEQ(workflowexecution.StatusRunning),
			workflowexecution.PodIDEQ(p.podID),
			workflowexecution.HumanInputRequired(false),
		).
		Count(ctx)
	if errA != nil {
		slog.Error("Failed to query active executions for health check", "pod_id", p.podID, "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeExecutions <= p.config.MaxConcurrentExecutions && dbHealthy

	p.orphans.mu.Lock()
	lastOrphanScan := p.orphans.lastOrphanScan
	orphansRecovered := p.orphans.orphansRecovered
	p.orphans.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errA != nil {
			dbError = fmt.Sprintf("active executions query failed: %v", errA)
		}
	}

	return &PoolHealth{
		IsHealthy:        isHealthy,
		DBReachable:      dbHealthy,
		DBError:          dbError,
		PodID:            p.podID,
		ActiveWorkers:    activeWorkers,
		TotalWorkers:     len(p.workers),
		ActiveExecutions: activeExecutions,
		MaxConcurrent:    p.config.MaxConcurrentExecutions,
		QueueDepth:       queueDepth,
		WorkerStats:      workerStats,
		LastOrphanScan:   lastOrphanScan,
		OrphansRecovered: orphansRecovered,
	}
}

// getActiveExecutionIDs returns IDs of currently processing executions.
func (p *WorkerPool) getActiveExecutionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	executions := make([]string, 0, len(p.activeExecutions))
	for id := range p.activeExecutions {
		executions = append(executions, id)
	}
	return executions
}
