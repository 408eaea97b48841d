package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"signalflow/backend/pkg/models"
)

// RecordGateDecision (POST /api/v1/gates/decisions). The gate result
// carries its own status.
func (s *Server) RecordGateDecision(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var in models.GateDecisionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	result, err := s.Gates.RecordDecision(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	if !result.OK {
		return writeProblem(c, models.ProblemDetails{
			Status:     result.Status,
			Detail:     result.Error,
			Violations: result.Violations,
		})
	}
	return c.JSON(result.Status, result.Decision)
}

// ListGateDecisions returns the history of a target, or only the latest
// decision with ?latest=true (GET /api/v1/gates/decisions)
func (s *Server) ListGateDecisions(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	targetType := models.TargetType(c.QueryParam("target_type"))
	targetID := c.QueryParam("target_id")
	if targetType == "" || targetID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_type and target_id are required")
	}

	if latest, _ := strconv.ParseBool(c.QueryParam("latest")); latest {
		decision, err := s.Gates.LatestDecision(c.Request().Context(), caller, targetType, targetID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, decision)
	}
	decisions, err := s.Gates.ListDecisions(c.Request().Context(), caller, targetType, targetID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decisions)
}
