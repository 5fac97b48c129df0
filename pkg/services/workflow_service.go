package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intellidoc/agentflow/ent"
	"github.com/intellidoc/agentflow/ent/workflow"
	"github.com/intellidoc/agentflow/pkg/graph"
)

// WorkflowService manages stored workflow graphs.
type WorkflowService struct {
	client *ent.Client
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(client *ent.Client) *WorkflowService {
	return &WorkflowService{client: client}
}

// CreateWorkflowRequest contains fields for storing a new workflow.
type CreateWorkflowRequest struct {
	ProjectID   string
	Name        string
	Description string
	Graph       *graph.Graph
}

// CreateWorkflow validates and stores a workflow graph.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, req CreateWorkflowRequest) (string, error) {
	if req.Name == "" {
		return "", NewValidationError("name", "required")
	}
	if req.ProjectID == "" {
		return "", NewValidationError("project_id", "required")
	}
	if req.Graph == nil {
		return "", NewValidationError("graph", "required")
	}
	if err := req.Graph.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	graphJSON, err := toJSONMap(req.Graph)
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow graph: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	workflowID := uuid.New().String()
	_, err = s.client.Workflow.Create().
		SetID(workflowID).
		SetProjectID(req.ProjectID).
		SetName(req.Name).
		SetDescription(req.Description).
		SetGraph(graphJSON).
		Save(writeCtx)
	if err != nil {
		if ent.IsConstraintError(err) {
			return "", ErrAlreadyExists
		}
		return "", fmt.Errorf("failed to create workflow: %w", err)
	}
	return workflowID, nil
}

// GetWorkflowGraph loads and re-validates a stored workflow graph.
func (s *WorkflowService) GetWorkflowGraph(ctx context.Context, workflowID string) (*graph.Graph, error) {
	row, err := s.client.Workflow.Query().
		Where(workflow.IDEQ(workflowID)).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	var g graph.Graph
	if err := fromJSONMap(row.Graph, &g); err != nil {
		return nil, fmt.Errorf("failed to decode workflow graph %s: %w", workflowID, err)
	}
	return &g, nil
}

// GetWorkflowProject returns the project owning a workflow.
func (s *WorkflowService) GetWorkflowProject(ctx context.Context, workflowID string) (string, error) {
	row, err := s.client.Workflow.Query().
		Where(workflow.IDEQ(workflowID)).
		Select(workflow.FieldProjectID).
		Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get workflow project: %w", err)
	}
	return row.ProjectID, nil
}
