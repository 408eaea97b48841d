package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

// WorkflowService manages versioned workflow definitions. A workflow concept
// ID belongs to the tenant that created its first version.
type WorkflowService struct {
	store repository.WorkflowStore
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.WorkflowStore) *WorkflowService {
	return &WorkflowService{store: store}
}

// List returns the latest version of every workflow of the caller's tenant.
func (s *WorkflowService) List(ctx context.Context, caller models.Caller) ([]*models.Workflow, error) {
	if caller.TenantID == "" {
		return nil, ErrForbidden
	}
	workflows, err := s.store.ListWorkflows(ctx, caller.TenantID)
	if err != nil {
		return nil, err
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}
	return workflows, nil
}

// Save stores a new version. An empty WorkflowID starts a new concept.
func (s *WorkflowService) Save(ctx context.Context, caller models.Caller, wf *models.Workflow) (*models.Workflow, error) {
	if caller.TenantID == "" {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(wf.Name) == "" {
		return nil, &ValidationError{Violations: []string{"name is required"}}
	}

	if wf.WorkflowID == "" {
		wf.WorkflowID = uuid.New().String()
	} else {
		existing, err := s.store.GetWorkflow(ctx, wf.WorkflowID)
		switch {
		case err == nil && existing.TenantID != caller.TenantID:
			return nil, ErrAccessDenied
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}

	wf.ID = ""
	wf.TenantID = caller.TenantID
	wf.CreatedBy = caller.UserID
	if wf.Status == "" {
		wf.Status = "draft"
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}
	return wf, nil
}
