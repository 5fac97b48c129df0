package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/workflowexecution"
	"github.com/intellidoc/agentflow/pkg/models"
)

// ExecutionService manages workflow execution lifecycle and persistence.
// It implements the scheduler's Store contract: every save is a single
// atomic upsert of the full execution row.
type ExecutionService struct {
	client *ent.Client
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(client *ent.Client) *ExecutionService {
	return &ExecutionService{client: client}
}

// CreateExecution creates a pending execution for a workflow.
func (s *ExecutionService) CreateExecution(ctx context.Context, workflowID, projectID, initialInput string) (*models.ExecutionState, error) {
	if workflowID == "" {
		return nil, NewValidationError("workflow_id", "required")
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executionID := uuid.New().String()
	_, err := s.client.WorkflowExecution.Create().
		SetID(executionID).
		SetWorkflowID(workflowID).
		SetProjectID(projectID).
		SetStatus(workflowexecution.StatusPending).
		SetInitialInput(initialInput).
		SetExecutedNodes(map[string]string{}).
		Save(writeCtx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return nil, fmt.Errorf("failed to create execution for workflow %s: %w", workflowID, err)
		}
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	return &models.ExecutionState{
		ExecutionID:   executionID,
		WorkflowID:    workflowID,
		ProjectID:     projectID,
		Status:        models.ExecutionStatusPending,
		InitialInput:  initialInput,
		ExecutedNodes: map[string]string{},
	}, nil
}

// GetExecution loads a fresh copy of the execution state.
func (s *ExecutionService) GetExecution(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	row, err := s.client.WorkflowExecution.Query().
		Where(workflowexecution.IDEQ(executionID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return stateFromRow(row)
}

// SaveExecution atomically persists the full execution state via upsert.
func (s *ExecutionService) SaveExecution(ctx context.Context, state *models.ExecutionState) error {
	// Critical write — survive caller cancellation.
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	messages, err := toJSONSlice(state.MessagesData)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	builder := s.client.WorkflowExecution.Create().
		SetID(state.ExecutionID).
		SetWorkflowID(state.WorkflowID).
		SetProjectID(state.ProjectID).
		SetStatus(workflowexecution.Status(state.Status)).
		SetInitialInput(state.InitialInput).
		SetExecutedNodes(state.ExecutedNodes).
		SetExecutedMarkers(state.ExecutedMarkers).
		SetMessagesData(messages).
		SetConversationHistory(state.ConversationHistory).
		SetHumanInputRequired(state.HumanInputRequired).
		SetTotalMessages(state.TotalMessages).
		SetTotalAgentsInvolved(state.TotalAgentsInvolved).
		SetResultSummary(state.ResultSummary).
		SetLastInteractionAt(time.Now())

	// Pause fields are always written, even when empty — a resume must not
	// leave a stale pause context behind for the next load to resurrect.
	builder.SetAwaitingHumanInputAgent(state.AwaitingHumanInputAgent)
	builder.SetHumanInputAgentID(state.HumanInputAgentID)
	hctx := map[string]interface{}{}
	if state.HumanInputContext != nil {
		var err error
		hctx, err = toJSONMap(state.HumanInputContext)
		if err != nil {
			return fmt.Errorf("failed to encode human input context: %w", err)
		}
	}
	builder.SetHumanInputContext(hctx)
	if state.HumanInputRequestedAt != nil {
		builder.SetHumanInputRequestedAt(*state.HumanInputRequestedAt)
	}
	if state.HumanInputReceivedAt != nil {
		builder.SetHumanInputReceivedAt(*state.HumanInputReceivedAt)
	}
	if state.DelegateConversations != nil {
		builder.SetDelegateConversations(state.DelegateConversations)
	}
	if state.StartTime != nil {
		builder.SetStartTime(*state.StartTime)
	}
	if state.EndTime != nil {
		builder.SetEndTime(*state.EndTime)
	}
	if state.DurationSeconds > 0 {
		builder.SetDurationSeconds(state.DurationSeconds)
	}
	if state.ErrorMessage != "" {
		builder.SetErrorMessage(state.ErrorMessage)
	}

	err = builder.
		OnConflictColumns(workflowexecution.FieldID).
		UpdateNewValues().
		Exec(writeCtx)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// ExecutionFilters contains filtering options for listing executions.
type ExecutionFilters struct {
	Status     string
	WorkflowID string
	ProjectID  string
	Limit      int
	Offset     int
}

// ExecutionList contains a paginated execution list.
type ExecutionList struct {
	Executions []*models.ExecutionState
	TotalCount int
	Limit      int
	Offset     int
}

// ListExecutions lists executions with filtering and pagination.
func (s *ExecutionService) ListExecutions(ctx context.Context, filters ExecutionFilters) (*ExecutionList, error) {
	query := s.client.WorkflowExecution.Query().
		Where(workflowexecution.DeletedAtIsNil())

	if filters.Status != "" {
		query = query.Where(workflowexecution.StatusEQ(workflowexecution.Status(filters.Status)))
	}
	if filters.WorkflowID != "" {
		query = query.Where(workflowexecution.WorkflowIDEQ(filters.WorkflowID))
	}
	if filters.ProjectID != "" {
		query = query.Where(workflowexecution.ProjectIDEQ(filters.ProjectID))
	}

	totalCount, err := query.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := query.
		Limit(limit).
		Offset(offset).
		Order(ent.Desc(workflowexecution.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.ExecutionState, 0, len(rows))
	for _, row := range rows {
		state, err := stateFromRow(row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, state)
	}

	return &ExecutionList{
		Executions: executions,
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// ListPendingHumanInput returns executions currently waiting for a human.
func (s *ExecutionService) ListPendingHumanInput(ctx context.Context, projectID string) ([]*models.ExecutionState, error) {
	query := s.client.WorkflowExecution.Query().
		Where(
			workflowexecution.HumanInputRequired(true),
			workflowexecution.DeletedAtIsNil(),
		).
		Order(ent.Asc(workflowexecution.FieldHumanInputRequestedAt))
	if projectID != "" {
		query = query.Where(workflowexecution.ProjectIDEQ(projectID))
	}

	rows, err := query.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending human input executions: %w", err)
	}

	executions := make([]*models.ExecutionState, 0, len(rows))
	for _, row := range rows {
		state, err := stateFromRow(row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, state)
	}
	return executions, nil
}

// FindStaleHumanInput returns executions that have waited for human input
// longer than ttl.
func (s *ExecutionService) FindStaleHumanInput(ctx context.Context, ttl time.Duration) ([]*models.ExecutionState, error) {
	threshold := time.Now().Add(-ttl)
	rows, err := s.client.WorkflowExecution.Query().
		Where(
			workflowexecution.HumanInputRequired(true),
			workflowexecution.HumanInputRequestedAtNotNil(),
			workflowexecution.HumanInputRequestedAtLT(threshold),
			workflowexecution.DeletedAtIsNil(),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale human input executions: %w", err)
	}

	executions := make([]*models.ExecutionState, 0, len(rows))
	for _, row := range rows {
		state, err := stateFromRow(row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, state)
	}
	return executions, nil
}

// SoftDeleteOldExecutions soft deletes executions completed before the
// retention window.
func (s *ExecutionService) SoftDeleteOldExecutions(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention_days must be positive, got %d", retentionDays)
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.client.WorkflowExecution.Update().
		Where(
			workflowexecution.EndTimeLT(cutoff),
			workflowexecution.DeletedAtIsNil(),
		).
		SetDeletedAt(time.Now()).
		Save(deleteCtx)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete executions: %w", err)
	}
	return count, nil
}

// stateFromRow maps an ent row into the domain execution state.
func stateFromRow(row *ent.WorkflowExecution) (*models.ExecutionState, error) {
	state := &models.ExecutionState{
		ExecutionID:         row.ID,
		WorkflowID:          row.WorkflowID,
		ProjectID:           row.ProjectID,
		Status:              models.ExecutionStatus(row.Status),
		InitialInput:        row.InitialInput,
		ExecutedNodes:       row.ExecutedNodes,
		ExecutedMarkers:     row.ExecutedMarkers,
		ConversationHistory: row.ConversationHistory,
		HumanInputRequired:  row.HumanInputRequired,
		DelegateConversations: row.DelegateConversations,
		HumanInputRequestedAt: row.HumanInputRequestedAt,
		HumanInputReceivedAt:  row.HumanInputReceivedAt,
		StartTime:           row.StartTime,
		EndTime:             row.EndTime,
		DurationSeconds:     row.DurationSeconds,
		TotalMessages:       row.TotalMessages,
		TotalAgentsInvolved: row.TotalAgentsInvolved,
		ResultSummary:       row.ResultSummary,
	}
	if state.ExecutedNodes == nil {
		state.ExecutedNodes = make(map[string]string)
	}
	if row.AwaitingHumanInputAgent != nil {
		state.AwaitingHumanInputAgent = *row.AwaitingHumanInputAgent
	}
	if row.HumanInputAgentID != nil {
		state.HumanInputAgentID = *row.HumanInputAgentID
	}
	if row.ErrorMessage != nil {
		state.ErrorMessage = *row.ErrorMessage
	}

	if len(row.MessagesData) > 0 {
		if err := fromJSONSlice(row.MessagesData, &state.MessagesData); err != nil {
			return nil, fmt.Errorf("failed to decode messages for execution %s: %w", row.ID, err)
		}
	}
	if len(row.HumanInputContext) > 0 {
		var hctx models.HumanInputContext
		if err := fromJSONMap(row.HumanInputContext, &hctx); err != nil {
			return nil, fmt.Errorf("failed to decode human input context for execution %s: %w", row.ID, err)
		}
		state.HumanInputContext = &hctx
	}
	return state, nil
}

// toJSONSlice round-trips typed values into the generic JSON shape stored in
// ent JSON columns.
func toJSONSlice[T any](values []T) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(values))
	for _, v := range values {
		m, err := toJSONMap(v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func fromJSONSlice[T any](raw []map[string]interface{}, out *[]T) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func toJSONMap(v any) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromJSONMap(raw map[string]interface{}, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
