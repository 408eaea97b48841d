// Package api contains the HTTP handlers for the signalflow REST API.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"signalflow/backend/internal/ai"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

// Check probes one dependency for the health endpoint.
type Check func(ctx context.Context) error

// HandleHealth reports service health. Any failing check turns the response
// into a 503 with status "degraded".
func HandleHealth(checks map[string]Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := models.HealthStatus{
			Status:    "ok",
			Service:   "signalflow",
			Version:   "1.0.0",
			Timestamp: time.Now().UTC(),
		}
		code := http.StatusOK
		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			status.Checks = make(map[string]string, len(checks))
			for name, check := range checks {
				if err := check(ctx); err != nil {
					status.Checks[name] = err.Error()
					status.Status = "degraded"
					code = http.StatusServiceUnavailable
					continue
				}
				status.Checks[name] = "ok"
			}
		}
		return c.JSON(code, status)
	}
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, p models.ProblemDetails) error {
	if p.Type == "" {
		p.Type = "about:blank"
	}
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	p.Instance = c.Request().URL.Path
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(p.Status, p)
}

// statusOf maps service and AI errors to HTTP status codes.
func statusOf(err error) int {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, services.ErrUnsupportedSource),
		errors.Is(err, services.ErrInvalidPayload),
		errors.Is(err, ai.ErrInvalidRequest),
		errors.Is(err, ai.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ai.ErrSchemaValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrEngine):
		return http.StatusBadGateway
	case errors.Is(err, ai.ErrTransientFailure):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every handler error as a problem response. Internal
// failures are logged and their detail withheld.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		p := models.ProblemDetails{}
		var he *echo.HTTPError
		var verr *services.ValidationError
		switch {
		case errors.As(err, &he):
			p.Status = he.Code
			if msg, ok := he.Message.(string); ok {
				p.Detail = msg
			} else {
				p.Detail = http.StatusText(he.Code)
			}
		case errors.As(err, &verr):
			p.Status = http.StatusBadRequest
			p.Title = "Validation Failed"
			p.Detail = "one or more fields are invalid"
			p.Violations = verr.Violations
		default:
			p.Status = statusOf(err)
			p.Detail = err.Error()
		}

		if p.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "status", p.Status, "error", err)
			if p.Status == http.StatusInternalServerError {
				p.Detail = "internal error"
			}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(p.Status)
		} else {
			writeErr = writeProblem(c, p)
		}
		if writeErr != nil {
			logger.Error("failed to write error response", "error", writeErr)
		}
	}
}
