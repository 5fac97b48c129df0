// Package cleanup runs periodic maintenance: retention-based soft deletion
// of old executions and auto-cancellation of executions stuck waiting for
// human input past their TTL.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/intellidoc/agentflow/pkg/config"
	"github.com/intellidoc/agentflow/pkg/models"
	"github.com/intellidoc/agentflow/pkg/services"
)

// Service runs the periodic cleanup loop.
type Service struct {
	executions *services.ExecutionService
	retention  *config.RetentionConfig
	ttl        time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewService creates a cleanup service. ttl bounds how long executions may
// wait for human input.
func NewService(executions *services.ExecutionService, retention *config.RetentionConfig, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		executions: executions,
		retention:  retention,
		ttl:        ttl,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the cleanup loop.
func (s *Service) Start(ctx context.Context) {
	interval := s.retention.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("Cleanup service started",
			"interval", interval,
			"human_input_ttl", s.ttl,
			"retention_days", s.retention.ExecutionRetentionDays)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for it to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// runOnce executes one cleanup pass. Failures are logged, never fatal.
func (s *Service) runOnce(ctx context.Context) {
	if err := s.CancelStaleHumanInput(ctx); err != nil {
		slog.Error("Stale human input cleanup failed", "error", err)
	}
	if s.retention.Enabled && s.retention.ExecutionRetentionDays > 0 {
		count, err := s.executions.SoftDeleteOldExecutions(ctx, s.retention.ExecutionRetentionDays)
		if err != nil {
			slog.Error("Retention cleanup failed", "error", err)
		} else if count > 0 {
			slog.Info("Soft deleted old executions", "count", count)
		}
	}
}

// CancelStaleHumanInput completes executions that have waited for human
// input longer than the TTL, with an auto-cancellation summary.
func (s *Service) CancelStaleHumanInput(ctx context.Context) error {
	stale, err := s.executions.FindStaleHumanInput(ctx, s.ttl)
	if err != nil {
		return err
	}

	for _, state := range stale {
		now := time.Now()
		state.Status = models.ExecutionStatusCompleted
		state.HumanInputRequired = false
		state.EndTime = &now
		if state.StartTime != nil {
			state.DurationSeconds = now.Sub(*state.StartTime).Seconds()
		}
		state.ResultSummary = fmt.Sprintf(
			"Auto-cancelled: no human input received for %s (agent %s)",
			s.ttl, state.AwaitingHumanInputAgent)
		state.AwaitingHumanInputAgent = ""
		state.HumanInputContext = nil

		if err := s.executions.SaveExecution(ctx, state); err != nil {
			slog.Error("Failed to auto-cancel stale execution",
				"execution_id", state.ExecutionID, "error", err)
			continue
		}
		slog.Warn("Auto-cancelled execution awaiting human input",
			"execution_id", state.ExecutionID, "waited_over", s.ttl)
	}
	return nil
}
