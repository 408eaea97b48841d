package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

func (s *PostgresStore) CreateAIExecution(ctx context.Context, e *models.AIExecution) error {
	_, err := s.db.Exec(ctx, `INSERT INTO ai_executions
		(id, tenant_id, workflow_execution_id, model, fingerprint, cached, status, attempts, input_tokens, output_tokens, duration_ms, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TenantID, e.WorkflowExecutionID, e.Model, e.Fingerprint, e.Cached, string(e.Status), e.Attempts,
		e.InputTokens, e.OutputTokens, e.DurationMs, e.Error, e.CreatedAt)
	return err
}

func (s *PostgresStore) ListAIExecutions(ctx context.Context, tenantID, workflowExecutionID string) ([]*models.AIExecution, error) {
	rows, err := s.db.Query(ctx, `SELECT id, tenant_id, workflow_execution_id, model, fingerprint, cached, status, attempts,
			input_tokens, output_tokens, duration_ms, error, created_at
		FROM ai_executions WHERE workflow_execution_id = $1 AND tenant_id = $2 ORDER BY created_at, id`,
		workflowExecutionID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.AIExecution, error) {
		var e models.AIExecution
		var status string
		err := row.Scan(&e.ID, &e.TenantID, &e.WorkflowExecutionID, &e.Model, &e.Fingerprint, &e.Cached, &status, &e.Attempts,
			&e.InputTokens, &e.OutputTokens, &e.DurationMs, &e.Error, &e.CreatedAt)
		e.Status = models.AIExecutionStatus(status)
		return &e, err
	})
}
