package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

// ingestResponse writes an ingest or retry outcome. A trigger failure still
// reports the stored signal.
func ingestResponse(c echo.Context, status int, res *models.IngestResult, err error) error {
	if errors.Is(err, services.ErrEngine) && res != nil && res.Signal != nil {
		return writeProblem(c, models.ProblemDetails{
			Status: http.StatusBadGateway,
			Detail: err.Error() + " (signal " + res.Signal.ID + " marked failed)",
		})
	}
	if err != nil {
		return err
	}
	if res.IsDuplicate {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

// IngestRequest is the body of POST /signals. TenantID is honoured only for
// super-operators.
type IngestRequest struct {
	TenantID string          `json:"tenant_id,omitempty"`
	Source   string          `json:"source"`
	ClientID *string         `json:"client_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// IngestSignal records an external signal and triggers matching routes
// (POST /api/v1/signals)
func (s *Server) IngestSignal(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	tenantID := caller.TenantID
	if req.TenantID != "" && req.TenantID != caller.TenantID {
		if !caller.SuperOperator {
			return services.ErrAccessDenied
		}
		tenantID = req.TenantID
	}

	res, err := s.Signals.Ingest(c.Request().Context(), tenantID, req.Source, req.Payload, req.ClientID)
	return ingestResponse(c, http.StatusCreated, res, err)
}

// GetSignal returns one signal of the caller's tenant
// (GET /api/v1/signals/:id)
func (s *Server) GetSignal(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	sig, err := s.Signals.Get(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sig)
}

// RetrySignal re-runs route matching for a stored signal
// (POST /api/v1/signals/:id/retry)
func (s *Server) RetrySignal(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	res, err := s.Signals.Retry(c.Request().Context(), caller, c.Param("id"))
	return ingestResponse(c, http.StatusOK, res, err)
}
