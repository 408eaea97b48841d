package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"signalflow/backend/internal/ai"
	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

// ExecuteAI runs a schema-constrained prompt for the caller's tenant
// (POST /api/v1/ai/execute)
func (s *Server) ExecuteAI(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	if caller.TenantID == "" {
		return services.ErrForbidden
	}
	var req ai.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	req.TenantID = caller.TenantID

	res, err := s.AI.Execute(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// GetAICacheStats (GET /api/v1/ai/cache, super-operators only)
func (s *Server) GetAICacheStats(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	if !caller.SuperOperator {
		return services.ErrForbidden
	}
	stats, err := s.AI.CacheStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// ClearAICache (DELETE /api/v1/ai/cache, super-operators only)
func (s *Server) ClearAICache(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	if !caller.SuperOperator {
		return services.ErrForbidden
	}
	ctx := c.Request().Context()
	stats, err := s.AI.CacheStats(ctx)
	if err != nil {
		return err
	}
	if err := s.AI.ClearCache(ctx); err != nil {
		return err
	}
	s.Auditor.Record(ctx, models.AuditEvent{
		TenantID:      caller.TenantID,
		ActorID:       caller.UserID,
		Action:        audit.ActionAICacheCleared,
		TargetType:    "ai_cache",
		SuperOperator: true,
		Detail:        map[string]interface{}{"entries": stats.Size},
	})
	s.Logger.Info("ai cache cleared", "actor", caller.UserID, "entries", stats.Size)
	return c.NoContent(http.StatusNoContent)
}
