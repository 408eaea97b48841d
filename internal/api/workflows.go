package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"signalflow/backend/internal/ai"
	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/auth"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Signals   *services.SignalService
	Routes    *services.RouteService
	Lineage   *services.LineageService
	Gates     *services.GateService
	Workflows *services.WorkflowService
	AI        *ai.Executor
	Auditor   audit.Auditor
	Logger    *logging.Logger
}

// RegisterHandlers mounts every /api/v1 operation on g.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.POST("/signals", s.IngestSignal)
	g.GET("/signals/:id", s.GetSignal)
	g.POST("/signals/:id/retry", s.RetrySignal)

	g.GET("/routes", s.ListRoutes)
	g.POST("/routes", s.CreateRoute)
	g.GET("/routes/:id", s.GetRoute)
	g.PUT("/routes/:id", s.UpdateRoute)
	g.DELETE("/routes/:id", s.DeleteRoute)

	g.GET("/executions/:id/events", s.ListExecutionEvents)
	g.POST("/executions/:id/events", s.AppendExecutionEvent)
	g.POST("/executions/:id/complete", s.CompleteExecution)
	g.GET("/executions/:id/lineage", s.GetLineage)

	g.POST("/gates/decisions", s.RecordGateDecision)
	g.GET("/gates/decisions", s.ListGateDecisions)

	g.POST("/ai/execute", s.ExecuteAI)
	g.GET("/ai/cache", s.GetAICacheStats)
	g.DELETE("/ai/cache", s.ClearAICache)

	g.GET("/workflows", s.ListWorkflows)
	g.PUT("/workflows", s.PutWorkflow)
}

// callerOf returns the caller resolved by the auth middleware.
func callerOf(c echo.Context) (models.Caller, error) {
	caller, ok := auth.CallerFromContext(c.Request().Context())
	if !ok {
		return models.Caller{}, echo.NewHTTPError(http.StatusUnauthorized, "caller not resolved")
	}
	return caller, nil
}

// ListWorkflows returns the latest version of each workflow of the tenant
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	workflows, err := s.Workflows.List(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workflows)
}

// PutWorkflow creates a workflow or a new version of one
// (PUT /api/v1/workflows)
func (s *Server) PutWorkflow(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var workflow models.Workflow
	if err := c.Bind(&workflow); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	saved, err := s.Workflows.Save(c.Request().Context(), caller, &workflow)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}
