package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/intellidoc/agentflow/pkg/humaninput"
	"github.com/intellidoc/agentflow/pkg/models"
)

// ListPendingHumanInput handles GET /api/human-input/pending.
func (s *Server) ListPendingHumanInput(c *gin.Context) {
	pending, err := s.executions.ListPendingHumanInput(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]gin.H, 0, len(pending))
	for _, state := range pending {
		item := gin.H{
			"execution_id": state.ExecutionID,
			"workflow_id":  state.WorkflowID,
			"agent_name":   state.AwaitingHumanInputAgent,
			"requested_at": state.HumanInputRequestedAt,
		}
		if state.HumanInputContext != nil {
			item["input_context"] = state.HumanInputContext
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"pending": items, "count": len(items)})
}

// SubmitHumanInput handles POST /api/human-input/submit. The workflow
// continues synchronously and the response reports either the terminal
// result or the next pause.
func (s *Server) SubmitHumanInput(c *gin.Context) {
	var req SubmitHumanInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.controller.Resume(c.Request.Context(), req.ExecutionID, req.HumanInput, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, humaninput.ErrExecutionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, humaninput.ErrNotAwaitingInput):
			c.JSON(http.StatusConflict, gin.H{"error": "not awaiting input"})
		default:
			payload := gin.H{"error": err.Error()}
			if result != nil {
				payload["execution_id"] = result.ExecutionID
				payload["message"] = result.Message
			}
			c.JSON(http.StatusInternalServerError, payload)
		}
		return
	}

	response := gin.H{
		"execution_id": result.ExecutionID,
		"status":       result.Status,
		"message":      result.Message,
	}
	if result.Paused {
		response["status"] = models.ExecutionStatusAwaitingHumanInput
		response["agent_name"] = result.PausedAgent
	} else if result.FinalOutput != "" {
		response["final_output"] = result.FinalOutput
	}
	c.JSON(http.StatusOK, response)
}
