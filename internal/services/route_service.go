package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/repository"
	"signalflow/backend/internal/workflow"
	"signalflow/backend/pkg/models"
)

const maxConcurrentTriggers = 8

// RouteInput is the writable part of a SignalRoute. TenantID is honoured only
// for super-operators; everyone else writes to their own tenant.
type RouteInput struct {
	TenantID       string                `json:"tenant_id,omitempty"`
	Name           string                `json:"name"`
	Source         string                `json:"source"`
	MatchPredicate models.MatchPredicate `json:"match_predicate"`
	WorkflowID     string                `json:"workflow_id"`
	Enabled        *bool                 `json:"enabled,omitempty"`
}

type routeStore interface {
	repository.RouteStore
	repository.WorkflowStore
}

// RouteService matches signals against tenant routes, triggers workflows and
// manages route configuration.
type RouteService struct {
	store   routeStore
	engine  workflow.Engine
	sources *SourceRegistry
	auditor audit.Auditor
	logger  *logging.Logger
}

// NewRouteService creates a new RouteService.
func NewRouteService(store routeStore, engine workflow.Engine, sources *SourceRegistry, auditor audit.Auditor, logger *logging.Logger) *RouteService {
	return &RouteService{store: store, engine: engine, sources: sources, auditor: auditor, logger: logger}
}

// Dispatch triggers one execution per enabled route of the signal's tenant
// and source whose predicate matches. Triggers run concurrently; executions
// come back in route order. Every trigger is attempted even if some fail.
func (s *RouteService) Dispatch(ctx context.Context, sig *models.Signal, payload models.NormalizedPayload) ([]*models.WorkflowExecution, int, error) {
	routes, err := s.store.ListEnabledRoutes(ctx, sig.TenantID, sig.Source)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load routes: %w", err)
	}

	var matched []*models.SignalRoute
	for _, r := range routes {
		if Matches(r.MatchPredicate, payload) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return []*models.WorkflowExecution{}, 0, nil
	}

	results := make([]*models.WorkflowExecution, len(matched))
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(maxConcurrentTriggers)
	for i, route := range matched {
		g.Go(func() error {
			exec, err := s.engine.Trigger(ctx, workflow.TriggerRequest{
				TenantID:   sig.TenantID,
				WorkflowID: route.WorkflowID,
				SignalID:   sig.ID,
				Payload:    payload,
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("route %s: %w", route.ID, err))
				mu.Unlock()
				return nil
			}
			results[i] = exec
			return nil
		})
	}
	_ = g.Wait()

	executions := make([]*models.WorkflowExecution, 0, len(results))
	for _, e := range results {
		if e != nil {
			executions = append(executions, e)
		}
	}
	return executions, len(matched), errors.Join(errs...)
}

// Create adds a route for the caller's tenant.
func (s *RouteService) Create(ctx context.Context, caller models.Caller, in RouteInput) (*models.SignalRoute, error) {
	tenantID, err := targetTenant(caller, in.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, tenantID, in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	route := &models.SignalRoute{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Name:           strings.TrimSpace(in.Name),
		Source:         in.Source,
		MatchPredicate: in.MatchPredicate,
		WorkflowID:     in.WorkflowID,
		Enabled:        in.Enabled == nil || *in.Enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateRoute(ctx, route); err != nil {
		return nil, fmt.Errorf("failed to create route: %w", err)
	}
	s.record(ctx, caller, audit.ActionRouteCreated, route)
	return route, nil
}

// Update replaces the writable fields of an existing route.
func (s *RouteService) Update(ctx context.Context, caller models.Caller, id string, in RouteInput) (*models.SignalRoute, error) {
	route, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, route.TenantID, in); err != nil {
		return nil, err
	}

	route.Name = strings.TrimSpace(in.Name)
	route.Source = in.Source
	route.MatchPredicate = in.MatchPredicate
	route.WorkflowID = in.WorkflowID
	if in.Enabled != nil {
		route.Enabled = *in.Enabled
	}
	route.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateRoute(ctx, route); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update route: %w", err)
	}
	s.record(ctx, caller, audit.ActionRouteUpdated, route)
	return route, nil
}

// Delete removes a route.
func (s *RouteService) Delete(ctx context.Context, caller models.Caller, id string) error {
	route, err := s.Get(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRoute(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete route: %w", err)
	}
	s.record(ctx, caller, audit.ActionRouteDeleted, route)
	return nil
}

// Get returns a route the caller may manage.
func (s *RouteService) Get(ctx context.Context, caller models.Caller, id string) (*models.SignalRoute, error) {
	if caller.TenantID == "" && !caller.SuperOperator {
		return nil, ErrForbidden
	}
	route, err := s.store.GetRoute(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(route.TenantID) {
		return nil, ErrAccessDenied
	}
	return route, nil
}

// List returns the routes of tenantID, defaulting to the caller's tenant.
func (s *RouteService) List(ctx context.Context, caller models.Caller, tenantID string) ([]*models.SignalRoute, error) {
	tenantID, err := targetTenant(caller, tenantID)
	if err != nil {
		return nil, err
	}
	routes, err := s.store.ListRoutes(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if routes == nil {
		routes = []*models.SignalRoute{}
	}
	return routes, nil
}

func (s *RouteService) validate(ctx context.Context, tenantID string, in RouteInput) error {
	var v violations
	if strings.TrimSpace(in.Name) == "" {
		v.add("name is required")
	}
	if in.Source == "" {
		v.add("source is required")
	} else if _, err := s.sources.Resolve(in.Source); err != nil {
		v.add(fmt.Sprintf("source %q is not supported", in.Source))
	}
	if in.WorkflowID == "" {
		v.add("workflow_id is required")
	} else {
		wf, err := s.store.GetWorkflow(ctx, in.WorkflowID)
		switch {
		case errors.Is(err, repository.ErrNotFound) || (err == nil && wf.TenantID != tenantID):
			v.add(fmt.Sprintf("workflow_id %q does not reference a workflow of this tenant", in.WorkflowID))
		case err != nil:
			return fmt.Errorf("failed to load workflow: %w", err)
		}
	}
	for _, msg := range ValidatePredicate(in.MatchPredicate) {
		v.add(msg)
	}
	return v.err()
}

func (s *RouteService) record(ctx context.Context, caller models.Caller, action string, route *models.SignalRoute) {
	s.auditor.Record(ctx, models.AuditEvent{
		TenantID:      route.TenantID,
		ActorID:       caller.UserID,
		Action:        action,
		TargetType:    "signal_route",
		TargetID:      route.ID,
		SuperOperator: caller.SuperOperator && caller.TenantID != route.TenantID,
		Detail:        map[string]interface{}{"name": route.Name, "source": route.Source, "workflow_id": route.WorkflowID},
	})
}

// targetTenant resolves which tenant a caller is writing to.
func targetTenant(caller models.Caller, requested string) (string, error) {
	switch {
	case requested != "" && caller.SuperOperator:
		return requested, nil
	case caller.TenantID == "":
		return "", ErrForbidden
	case requested != "" && requested != caller.TenantID:
		return "", ErrAccessDenied
	}
	return caller.TenantID, nil
}
