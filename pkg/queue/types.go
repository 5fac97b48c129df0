// Package queue provides execution queue management: a worker pool that
// claims pending workflow executions and drives them through the scheduler.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/intellidoc/agentflow/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoExecutionsAvailable indicates no pending executions are queued.
	ErrNoExecutionsAvailable = errors.New("no executions available")

	// ErrAtCapacity indicates the global concurrent execution limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")
)

// ExecutionRunner drives one claimed execution to a terminal state or a
// human-input pause. The runner writes all intermediate state progressively;
// the worker only handles claiming, heartbeat, and cancellation plumbing.
type ExecutionRunner interface {
	Run(ctx context.Context, executionID string) *RunOutcome
}

// RunOutcome is the lightweight terminal report of one drive.
type RunOutcome struct {
	Status models.ExecutionStatus
	Paused bool
	Err    error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy         bool           `json:"is_healthy"`
	DBReachable       bool           `json:"db_reachable"`
	DBError           string         `json:"db_error,omitempty"`
	PodID             string         `json:"pod_id"`
	ActiveWorkers     int            `json:"active_workers"`
	TotalWorkers      int            `json:"total_workers"`
	ActiveExecutions  int            `json:"active_executions"`
	MaxConcurrent     int            `json:"max_concurrent"`
	QueueDepth        int            `json:"queue_depth"`
	WorkerStats       []WorkerHealth `json:"worker_stats"`
	LastOrphanScan    time.Time      `json:"last_orphan_scan"`
	OrphansRecovered  int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"` // "idle" or "working"
	CurrentExecutionID  string    `json:"current_execution_id,omitempty"`
	ExecutionsProcessed int       `json:"executions_processed"`
	LastActivity        time.Time `json:"last_activity"`
}
