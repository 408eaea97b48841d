package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"signalflow/backend/internal/services"
)

func bindRoute(c echo.Context) (services.RouteInput, error) {
	var in services.RouteInput
	if err := c.Bind(&in); err != nil {
		return in, echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return in, nil
}

// ListRoutes returns the routes of the caller's tenant, or of ?tenant_id=
// for super-operators (GET /api/v1/routes)
func (s *Server) ListRoutes(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	routes, err := s.Routes.List(c.Request().Context(), caller, c.QueryParam("tenant_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, routes)
}

// CreateRoute (POST /api/v1/routes)
func (s *Server) CreateRoute(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	in, err := bindRoute(c)
	if err != nil {
		return err
	}
	route, err := s.Routes.Create(c.Request().Context(), caller, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, route)
}

// GetRoute (GET /api/v1/routes/:id)
func (s *Server) GetRoute(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	route, err := s.Routes.Get(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, route)
}

// UpdateRoute replaces the writable fields of a route
// (PUT /api/v1/routes/:id)
func (s *Server) UpdateRoute(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	in, err := bindRoute(c)
	if err != nil {
		return err
	}
	route, err := s.Routes.Update(c.Request().Context(), caller, c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, route)
}

// DeleteRoute (DELETE /api/v1/routes/:id)
func (s *Server) DeleteRoute(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	if err := s.Routes.Delete(c.Request().Context(), caller, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
