package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"signalflow/backend/pkg/models"
)

// AppendEventRequest is the body of POST /executions/:id/events.
type AppendEventRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CompleteRequest is the body of POST /executions/:id/complete.
type CompleteRequest struct {
	Status models.ExecutionStatus `json:"status"`
}

// ListExecutionEvents (GET /api/v1/executions/:id/events)
func (s *Server) ListExecutionEvents(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	events, err := s.Lineage.GetEvents(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

// AppendExecutionEvent records engine progress on a running execution
// (POST /api/v1/executions/:id/events)
func (s *Server) AppendExecutionEvent(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req AppendEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	event, err := s.Lineage.AppendEvent(c.Request().Context(), caller, c.Param("id"), req.Type, req.Payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, event)
}

// CompleteExecution (POST /api/v1/executions/:id/complete)
func (s *Server) CompleteExecution(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	exec, err := s.Lineage.Complete(c.Request().Context(), caller, c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// GetLineage (GET /api/v1/executions/:id/lineage)
func (s *Server) GetLineage(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	lineage, err := s.Lineage.GetLineage(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lineage)
}
