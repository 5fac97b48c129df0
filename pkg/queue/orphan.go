package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/workflowexecution"
)

// orphanState tracks orphan detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for orphaned executions.
// All pods run this independently — operations are idempotent.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanDetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("Orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds running executions with stale heartbeats
// and marks them failed. Executions waiting for human input are exempt —
// their heartbeat legitimately stops at the pause.
func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.OrphanThreshold)

	orphans, err := p.client.WorkflowExecution.Query().
		Where(
			workflowexecution.StatusEQ(workflowexecution.StatusRunning),
			workflowexecution.HumanInputRequired(false),
			workflowexecution.LastInteractionAtNotNil(),
			workflowexecution.LastInteractionAtLT(threshold),
			workflowexecution.DeletedAtIsNil(),
		).
		All(ctx)
	if err != nil {
		return fmt.Errorf("failed to query orphaned executions: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("Detected orphaned executions", "count", len(orphans))

	recovered := 0
	failed := 0
	for _, execution := range orphans {
		if err := p.recoverOrphanedExecution(ctx, execution); err != nil {
			slog.Error("Failed to recover orphaned execution",
				"execution_id", execution.ID, "error", err)
			failed++
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if failed > 0 {
		slog.Warn("Orphan recovery completed with failures",
			"total_orphans", len(orphans),
			"recovered", recovered,
			"failed", failed)
	}
	return nil
}

// recoverOrphanedExecution marks a single orphaned execution failed.
func (p *WorkerPool) recoverOrphanedExecution(ctx context.Context, execution *ent.WorkflowExecution) error {
	log := slog.With("execution_id", execution.ID, "old_pod_id", execution.PodID)

	lastHeartbeat := "unknown"
	if execution.LastInteractionAt != nil {
		lastHeartbeat = execution.LastInteractionAt.Format(time.RFC3339)
	}

	err := p.client.WorkflowExecution.UpdateOneID(execution.ID).
		SetStatus(workflowexecution.StatusFailed).
		SetEndTime(time.Now()).
		SetErrorMessage(fmt.Sprintf("orphaned: no heartbeat since %s", lastHeartbeat)).
		SetResultSummary("Workflow failed: worker lost (orphan recovery)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark orphan failed: %w", err)
	}

	log.Warn("Recovered orphaned execution", "last_heartbeat", lastHeartbeat)
	return nil
}
