package api

import "github.com/intellidoc/agentflow/pkg/graph"

// CreateWorkflowRequest is the body of POST /api/workflows.
type CreateWorkflowRequest struct {
	ProjectID   string       `json:"project_id" binding:"required"`
	Name        string       `json:"name" binding:"required"`
	Description string       `json:"description,omitempty"`
	Graph       *graph.Graph `json:"graph" binding:"required"`
}

// CreateExecutionRequest is the body of POST /api/executions.
type CreateExecutionRequest struct {
	WorkflowID string `json:"workflow_id" binding:"required"`
	Input      string `json:"input"`
}

// SubmitHumanInputRequest is the body of POST /api/human-input/submit.
type SubmitHumanInputRequest struct {
	ExecutionID string `json:"execution_id" binding:"required"`
	HumanInput  string `json:"human_input" binding:"required"`
	// Action is "submit" (accept) or "iterate" (request another reflection
	// round). Defaults to submit.
	Action string `json:"action,omitempty"`
}
