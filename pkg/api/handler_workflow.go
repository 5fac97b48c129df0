package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intellidoc/agentflow/pkg/services"
)

// CreateWorkflow handles POST /api/workflows.
func (s *Server) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflowID, err := s.workflows.CreateWorkflow(c.Request.Context(), services.CreateWorkflowRequest{
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		Graph:       req.Graph,
	})
	if err != nil {
		switch {
		case services.IsValidationError(err), errors.Is(err, services.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"workflow_id": workflowID})
}
