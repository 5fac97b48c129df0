// Package api provides the HTTP API for submitting workflows, driving
// executions, and delivering human input.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/intellidoc/agentflow/pkg/database"
	"github.com/intellidoc/agentflow/pkg/humaninput"
	"github.com/intellidoc/agentflow/pkg/queue"
	"github.com/intellidoc/agentflow/pkg/services"
	"github.com/intellidoc/agentflow/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	dbClient   *database.Client
	workflows  *services.WorkflowService
	executions *services.ExecutionService
	controller *humaninput.Controller
	pool       *queue.WorkerPool
}

// NewServer creates the API server and registers routes.
func NewServer(dbClient *database.Client, workflows *services.WorkflowService, executions *services.ExecutionService, controller *humaninput.Controller, pool *queue.WorkerPool) *Server {
	s := &Server{
		router:     gin.Default(),
		dbClient:   dbClient,
		workflows:  workflows,
		executions: executions,
		controller: controller,
		pool:       pool,
	}
	s.setupRoutes()
	return s
}

// Router exposes the underlying gin engine (used in tests).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server on the given address.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.Health)

	api := s.router.Group("/api")
	{
		api.POST("/workflows", s.CreateWorkflow)
		api.POST("/executions", s.CreateExecution)
		api.GET("/executions", s.ListExecutions)
		api.GET("/executions/:id", s.GetExecution)
		api.POST("/executions/:id/cancel", s.CancelExecution)
		api.GET("/human-input/pending", s.ListPendingHumanInput)
		api.POST("/human-input/submit", s.SubmitHumanInput)
	}
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.dbClient.DB())
	poolHealth := s.pool.Health()

	status := http.StatusOK
	overall := "healthy"
	if err != nil || !poolHealth.IsHealthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":   overall,
		"version":  version.Version,
		"database": dbHealth,
		"queue":    poolHealth,
	})
}
