// Package workflow starts workflow executions for matched signals. Step
// semantics live outside this service; the engines here only create the
// execution record and hand off.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

// ErrUnknownWorkflow is returned when a route points at a workflow that does
// not exist for the signal's tenant.
var ErrUnknownWorkflow = errors.New("workflow: unknown workflow")

// TriggerRequest carries what a workflow run needs from its origin signal.
type TriggerRequest struct {
	TenantID   string                   `json:"tenant_id"`
	WorkflowID string                   `json:"workflow_id"`
	SignalID   string                   `json:"signal_id"`
	Payload    models.NormalizedPayload `json:"payload"`
}

// Engine starts workflow executions.
type Engine interface {
	Trigger(ctx context.Context, req TriggerRequest) (*models.WorkflowExecution, error)
}

type store interface {
	repository.WorkflowStore
	repository.ExecutionStore
}

// LocalEngine records executions in the repository and leaves them running
// until a runner reports completion through the lineage service.
type LocalEngine struct {
	store store
	now   func() time.Time
}

// NewLocalEngine creates a LocalEngine.
func NewLocalEngine(s store) *LocalEngine {
	return &LocalEngine{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (e *LocalEngine) Trigger(ctx context.Context, req TriggerRequest) (*models.WorkflowExecution, error) {
	return start(ctx, e.store, e.now(), req)
}

func start(ctx context.Context, s store, now time.Time, req TriggerRequest) (*models.WorkflowExecution, error) {
	wf, err := s.GetWorkflow(ctx, req.WorkflowID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && wf.TenantID != req.TenantID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, req.WorkflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	exec := &models.WorkflowExecution{
		ID:              uuid.New().String(),
		TenantID:        req.TenantID,
		WorkflowID:      req.WorkflowID,
		TriggerSignalID: req.SignalID,
		Status:          models.ExecutionRunning,
		StartedAt:       now,
	}
	if err := s.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"signal_id":        req.SignalID,
		"workflow_version": wf.Version,
		"input":            req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal start event: %w", err)
	}
	if err := s.AppendEvent(ctx, &models.WorkflowEvent{
		ExecutionID: exec.ID,
		Type:        models.EventExecutionStarted,
		Payload:     payload,
		OccurredAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record start event: %w", err)
	}
	return exec, nil
}
