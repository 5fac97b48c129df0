package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/intellidoc/agentflow/pkg/services"
)

// CreateExecution handles POST /api/executions. The execution is queued as
// pending; a worker claims and drives it.
func (s *Server) CreateExecution(c *gin.Context) {
	var req CreateExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	projectID, err := s.workflows.GetWorkflowProject(c.Request.Context(), req.WorkflowID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	state, err := s.executions.CreateExecution(c.Request.Context(), req.WorkflowID, projectID, req.Input)
	if err != nil {
		if services.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": state.ExecutionID,
		"status":       state.Status,
	})
}

// GetExecution handles GET /api/executions/:id.
func (s *Server) GetExecution(c *gin.Context) {
	state, err := s.executions.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// ListExecutions handles GET /api/executions.
func (s *Server) ListExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := s.executions.ListExecutions(c.Request.Context(), services.ExecutionFilters{
		Status:     c.Query("status"),
		WorkflowID: c.Query("workflow_id"),
		ProjectID:  c.Query("project_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"executions":  list.Executions,
		"total_count": list.TotalCount,
		"limit":       list.Limit,
		"offset":      list.Offset,
	})
}

// CancelExecution handles POST /api/executions/:id/cancel. In-flight LLM
// calls are allowed to finish; their results are discarded.
func (s *Server) CancelExecution(c *gin.Context) {
	executionID := c.Param("id")
	if cancelled := s.pool.CancelExecution(executionID); !cancelled {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not active on this pod"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID, "status": "cancelling"})
}
