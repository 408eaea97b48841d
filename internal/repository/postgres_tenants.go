package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

// GetTenantByDomain looks up a tenant by its email domain.
func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx, "SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1", domain).
		Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// CreateTenant inserts a tenant, assigning an ID when absent.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	_, err := s.db.Exec(ctx, "INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		tenant.ID, tenant.Name, tenant.Domain, tenant.CreatedAt, tenant.UpdatedAt)
	return err
}

// CreateWorkflow saves a new version of a workflow concept. Earlier versions
// lose their latest flag in the same transaction.
func (s *PostgresStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	workflow.CreatedAt, workflow.UpdatedAt = now, now
	workflow.IsLatest = true

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var current int
		if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM workflows WHERE workflow_id = $1", workflow.WorkflowID).Scan(&current); err != nil {
			return fmt.Errorf("failed to read workflow version: %w", err)
		}
		workflow.Version = current + 1
		if _, err := tx.Exec(ctx, "UPDATE workflows SET is_latest = false, updated_at = $2 WHERE workflow_id = $1", workflow.WorkflowID, now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO workflows
			(id, tenant_id, workflow_id, version, is_latest, name, description, status, input_schema, output_schema, created_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			workflow.ID, workflow.TenantID, workflow.WorkflowID, workflow.Version, workflow.IsLatest, workflow.Name,
			workflow.Description, workflow.Status, workflow.InputSchema, workflow.OutputSchema, workflow.CreatedBy,
			workflow.CreatedAt, workflow.UpdatedAt)
		return err
	})
}

const workflowColumns = "id, tenant_id, workflow_id, version, is_latest, name, description, status, input_schema, output_schema, created_by, created_at, updated_at"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	err := row.Scan(&w.ID, &w.TenantID, &w.WorkflowID, &w.Version, &w.IsLatest, &w.Name, &w.Description, &w.Status,
		&w.InputSchema, &w.OutputSchema, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorkflow returns the latest version of a workflow concept.
func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	w, err := scanWorkflow(s.db.QueryRow(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE workflow_id = $1 AND is_latest", workflowID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

// ListWorkflows returns the latest version of every workflow of a tenant.
func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, "SELECT "+workflowColumns+" FROM workflows WHERE tenant_id = $1 AND is_latest ORDER BY name", tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}
