package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

type lineageStore interface {
	repository.ExecutionStore
	repository.WorkflowStore
	repository.SignalStore
	repository.EntityStore
	repository.AIExecutionStore
}

// LineageService answers "what happened in this run" and records runner
// progress for executions.
type LineageService struct {
	store   lineageStore
	auditor audit.Auditor
	logger  *logging.Logger
}

// NewLineageService creates a new LineageService.
func NewLineageService(store lineageStore, auditor audit.Auditor, logger *logging.Logger) *LineageService {
	return &LineageService{store: store, auditor: auditor, logger: logger}
}

// authorize loads the execution and its workflow. Both tenants must be
// visible to the caller and must agree with each other.
func (s *LineageService) authorize(ctx context.Context, caller models.Caller, executionID string) (*models.WorkflowExecution, *models.Workflow, error) {
	if caller.TenantID == "" && !caller.SuperOperator {
		return nil, nil, ErrForbidden
	}
	exec, err := s.store.GetExecution(ctx, executionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	wf, err := s.store.GetWorkflow(ctx, exec.WorkflowID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if !caller.CanAccess(exec.TenantID) || !caller.CanAccess(wf.TenantID) {
		return nil, nil, ErrAccessDenied
	}
	if exec.TenantID != wf.TenantID {
		s.logger.Warn("execution and workflow tenants disagree", "execution_id", exec.ID,
			"execution_tenant", exec.TenantID, "workflow_tenant", wf.TenantID)
		return nil, nil, ErrAccessDenied
	}
	return exec, wf, nil
}

// GetEvents returns the execution's events in sequence order.
func (s *LineageService) GetEvents(ctx context.Context, caller models.Caller, executionID string) ([]*models.WorkflowEvent, error) {
	if _, _, err := s.authorize(ctx, caller, executionID); err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []*models.WorkflowEvent{}
	}
	return events, nil
}

// GetLineage gathers everything attributable to an execution. Every query is
// filtered by both the execution and the owning tenant, so rows of another
// tenant never appear even if they carry the same execution ID.
func (s *LineageService) GetLineage(ctx context.Context, caller models.Caller, executionID string) (*models.Lineage, error) {
	exec, wf, err := s.authorize(ctx, caller, executionID)
	if err != nil {
		return nil, err
	}
	tenantID := wf.TenantID
	lineage := &models.Lineage{Execution: exec, Workflow: wf}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entities, err := s.store.ListCreatedEntities(gctx, tenantID, exec.ID)
		if err != nil {
			return fmt.Errorf("created entities: %w", err)
		}
		lineage.CreatedEntities = models.GroupEntities(entities)
		return nil
	})
	g.Go(func() error {
		runs, err := s.store.ListAIExecutions(gctx, tenantID, exec.ID)
		if err != nil {
			return fmt.Errorf("ai executions: %w", err)
		}
		if runs == nil {
			runs = []*models.AIExecution{}
		}
		lineage.AIExecutions = runs
		return nil
	})
	g.Go(func() error {
		events, err := s.store.ListEvents(gctx, exec.ID)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		if events == nil {
			events = []*models.WorkflowEvent{}
		}
		lineage.Events = events
		return nil
	})
	if exec.TriggerSignalID != "" {
		g.Go(func() error {
			sig, err := s.store.GetSignal(gctx, exec.TriggerSignalID)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("signal: %w", err)
			}
			if sig.TenantID == tenantID {
				lineage.Signal = sig
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to resolve lineage for %s: %w", exec.ID, err)
	}

	if caller.SuperOperator && caller.TenantID != tenantID {
		s.auditor.Record(ctx, models.AuditEvent{
			TenantID:      tenantID,
			ActorID:       caller.UserID,
			Action:        audit.ActionLineageRead,
			TargetType:    "workflow_execution",
			TargetID:      exec.ID,
			SuperOperator: true,
		})
	}
	return lineage, nil
}

// AppendEvent records a runner event on a running execution.
func (s *LineageService) AppendEvent(ctx context.Context, caller models.Caller, executionID, eventType string, payload json.RawMessage) (*models.WorkflowEvent, error) {
	exec, _, err := s.authorize(ctx, caller, executionID)
	if err != nil {
		return nil, err
	}
	var v violations
	if strings.TrimSpace(eventType) == "" {
		v.add("type is required")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		v.add("payload must be valid JSON")
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s already %s", ErrConflict, exec.ID, exec.Status)
	}

	event := &models.WorkflowEvent{
		ExecutionID: exec.ID,
		Type:        eventType,
		Payload:     payload,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}
	return event, nil
}

// Complete moves a running execution to a terminal status and appends the
// finishing event.
func (s *LineageService) Complete(ctx context.Context, caller models.Caller, executionID string, status models.ExecutionStatus) (*models.WorkflowExecution, error) {
	exec, _, err := s.authorize(ctx, caller, executionID)
	if err != nil {
		return nil, err
	}
	if !status.Terminal() {
		return nil, &ValidationError{Violations: []string{fmt.Sprintf("status must be %q or %q", models.ExecutionSucceeded, models.ExecutionFailed)}}
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution %s already %s", ErrConflict, exec.ID, exec.Status)
	}

	now := time.Now().UTC()
	if err := s.store.FinishExecution(ctx, exec.ID, status, now); err != nil {
		return nil, fmt.Errorf("failed to finish execution: %w", err)
	}
	payload, _ := json.Marshal(map[string]string{"status": string(status)})
	if err := s.store.AppendEvent(ctx, &models.WorkflowEvent{
		ExecutionID: exec.ID,
		Type:        models.EventExecutionFinished,
		Payload:     payload,
		OccurredAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("failed to append finish event: %w", err)
	}
	exec.Status = status
	exec.FinishedAt = &now
	s.logger.Info("execution finished", "execution_id", exec.ID, "status", status)
	return exec, nil
}
