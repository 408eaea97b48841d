package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

// childTables maps initiative children onto their tables.
var childTables = map[models.EntityKind]string{
	models.KindExecutionOutput:  "execution_outputs",
	models.KindOutcomeReview:    "outcome_reviews",
	models.KindLearningArtifact: "learning_artifacts",
}

func (s *PostgresStore) CreateClient(ctx context.Context, c *models.Client) error {
	_, err := s.db.Exec(ctx, "INSERT INTO clients (id, tenant_id, name, workflow_execution_id, created_at) VALUES ($1, $2, $3, $4, $5)",
		c.ID, c.TenantID, c.Name, c.WorkflowExecutionID, c.CreatedAt)
	return err
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	err := s.db.QueryRow(ctx, "SELECT id, tenant_id, name, workflow_execution_id, created_at FROM clients WHERE id = $1", id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.WorkflowExecutionID, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateInitiative(ctx context.Context, i *models.Initiative) error {
	_, err := s.db.Exec(ctx, `INSERT INTO initiatives (id, tenant_id, client_id, title, workflow_execution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		i.ID, i.TenantID, i.ClientID, i.Title, i.WorkflowExecutionID, i.CreatedAt)
	return err
}

func (s *PostgresStore) GetInitiative(ctx context.Context, id string) (*models.Initiative, error) {
	var i models.Initiative
	err := s.db.QueryRow(ctx, "SELECT id, tenant_id, client_id, title, workflow_execution_id, created_at FROM initiatives WHERE id = $1", id).
		Scan(&i.ID, &i.TenantID, &i.ClientID, &i.Title, &i.WorkflowExecutionID, &i.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

func (s *PostgresStore) CreateOpportunityArtifact(ctx context.Context, a *models.OpportunityArtifact) error {
	_, err := s.db.Exec(ctx, `INSERT INTO opportunity_artifacts (id, tenant_id, title, workflow_execution_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.TenantID, a.Title, a.WorkflowExecutionID, a.CreatedAt)
	return err
}

func (s *PostgresStore) GetOpportunityArtifact(ctx context.Context, id string) (*models.OpportunityArtifact, error) {
	var a models.OpportunityArtifact
	err := s.db.QueryRow(ctx, "SELECT id, tenant_id, title, workflow_execution_id, created_at FROM opportunity_artifacts WHERE id = $1", id).
		Scan(&a.ID, &a.TenantID, &a.Title, &a.WorkflowExecutionID, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *PostgresStore) CreateInitiativeChild(ctx context.Context, c *models.InitiativeChild) error {
	table, ok := childTables[c.Kind]
	if !ok {
		return fmt.Errorf("unknown initiative child kind %q", c.Kind)
	}
	_, err := s.db.Exec(ctx, "INSERT INTO "+table+` (id, tenant_id, initiative_id, title, workflow_execution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.TenantID, c.InitiativeID, c.Title, c.WorkflowExecutionID, c.CreatedAt)
	return err
}

func (s *PostgresStore) GetInitiativeChild(ctx context.Context, kind models.EntityKind, id string) (*models.InitiativeChild, error) {
	table, ok := childTables[kind]
	if !ok {
		return nil, ErrNotFound
	}
	c := models.InitiativeChild{Kind: kind}
	err := s.db.QueryRow(ctx, "SELECT id, tenant_id, initiative_id, title, workflow_execution_id, created_at FROM "+table+" WHERE id = $1", id).
		Scan(&c.ID, &c.TenantID, &c.InitiativeID, &c.Title, &c.WorkflowExecutionID, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListCreatedEntities joins on both execution and tenant so a leaked
// execution ID never exposes another tenant's rows.
func (s *PostgresStore) ListCreatedEntities(ctx context.Context, tenantID, executionID string) ([]models.CreatedEntity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT 'client', id, name, created_at FROM clients WHERE workflow_execution_id = $1 AND tenant_id = $2
		UNION ALL
		SELECT 'initiative', id, title, created_at FROM initiatives WHERE workflow_execution_id = $1 AND tenant_id = $2
		UNION ALL
		SELECT 'opportunity_artifact', id, title, created_at FROM opportunity_artifacts WHERE workflow_execution_id = $1 AND tenant_id = $2
		UNION ALL
		SELECT 'execution_output', id, title, created_at FROM execution_outputs WHERE workflow_execution_id = $1 AND tenant_id = $2
		UNION ALL
		SELECT 'outcome_review', id, title, created_at FROM outcome_reviews WHERE workflow_execution_id = $1 AND tenant_id = $2
		UNION ALL
		SELECT 'learning_artifact', id, title, created_at FROM learning_artifacts WHERE workflow_execution_id = $1 AND tenant_id = $2
		ORDER BY 4, 2`, executionID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CreatedEntity, error) {
		var e models.CreatedEntity
		var kind string
		err := row.Scan(&kind, &e.ID, &e.Title, &e.CreatedAt)
		e.Kind = models.EntityKind(kind)
		return e, err
	})
}
