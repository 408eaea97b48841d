package repository

import (
	"context"
	"errors"
	"time"

	"signalflow/backend/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("repository: not found")

// TenantStore resolves tenants for authenticated callers.
type TenantStore interface {
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
}

// WorkflowStore stores versioned workflow definitions.
type WorkflowStore interface {
	// CreateWorkflow saves a new version and marks it latest.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	// GetWorkflow returns the latest version of a workflow concept.
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error)
}

// SignalStore persists ingested signals.
type SignalStore interface {
	// InsertSignalIfAbsent inserts s unless a signal with the same
	// (tenant, source, dedup key) exists. It returns the stored row and
	// whether it was inserted by this call.
	InsertSignalIfAbsent(ctx context.Context, s *models.Signal) (*models.Signal, bool, error)
	GetSignal(ctx context.Context, id string) (*models.Signal, error)
	// UpdateSignal persists status, attempts, last error and processed time.
	UpdateSignal(ctx context.Context, s *models.Signal) error
}

// RouteStore persists signal routes.
type RouteStore interface {
	CreateRoute(ctx context.Context, route *models.SignalRoute) error
	UpdateRoute(ctx context.Context, route *models.SignalRoute) error
	DeleteRoute(ctx context.Context, id string) error
	GetRoute(ctx context.Context, id string) (*models.SignalRoute, error)
	ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error)
	ListEnabledRoutes(ctx context.Context, tenantID, source string) ([]*models.SignalRoute, error)
}

// ExecutionStore tracks workflow executions and their event logs.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, execution *models.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, finishedAt time.Time) error
	// AppendEvent assigns the next sequence number within the execution.
	AppendEvent(ctx context.Context, event *models.WorkflowEvent) error
	ListEvents(ctx context.Context, executionID string) ([]*models.WorkflowEvent, error)
}

// GateStore persists append-only gate decisions.
type GateStore interface {
	CreateGateDecision(ctx context.Context, decision *models.GateDecision) error
	ListGateDecisions(ctx context.Context, tenantID string, targetType models.TargetType, targetID string) ([]*models.GateDecision, error)
}

// EntityStore exposes the domain entities needed for tenant chains and lineage.
type EntityStore interface {
	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id string) (*models.Client, error)
	CreateInitiative(ctx context.Context, initiative *models.Initiative) error
	GetInitiative(ctx context.Context, id string) (*models.Initiative, error)
	CreateOpportunityArtifact(ctx context.Context, artifact *models.OpportunityArtifact) error
	GetOpportunityArtifact(ctx context.Context, id string) (*models.OpportunityArtifact, error)
	CreateInitiativeChild(ctx context.Context, child *models.InitiativeChild) error
	GetInitiativeChild(ctx context.Context, kind models.EntityKind, id string) (*models.InitiativeChild, error)
	// ListCreatedEntities returns entities tagged with both the execution and tenant.
	ListCreatedEntities(ctx context.Context, tenantID, executionID string) ([]models.CreatedEntity, error)
}

// AIExecutionStore records hardened AI invocations.
type AIExecutionStore interface {
	CreateAIExecution(ctx context.Context, execution *models.AIExecution) error
	ListAIExecutions(ctx context.Context, tenantID, workflowExecutionID string) ([]*models.AIExecution, error)
}

// Repository is the full persistence surface used by the service layer.
type Repository interface {
	TenantStore
	WorkflowStore
	SignalStore
	RouteStore
	ExecutionStore
	GateStore
	EntityStore
	AIExecutionStore
	Ping(ctx context.Context) error
}
