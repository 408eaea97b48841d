package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

func (s *PostgresStore) CreateGateDecision(ctx context.Context, d *models.GateDecision) error {
	_, err := s.db.Exec(ctx, `INSERT INTO gate_decisions
		(id, tenant_id, gate_type, target_type, target_id, decision, rationale, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.TenantID, d.GateType, string(d.TargetType), d.TargetID, string(d.Decision), d.Rationale, d.ActorID, d.CreatedAt)
	return err
}

func (s *PostgresStore) ListGateDecisions(ctx context.Context, tenantID string, targetType models.TargetType, targetID string) ([]*models.GateDecision, error) {
	rows, err := s.db.Query(ctx, `SELECT id, tenant_id, gate_type, target_type, target_id, decision, rationale, actor_id, created_at
		FROM gate_decisions WHERE tenant_id = $1 AND target_type = $2 AND target_id = $3 ORDER BY created_at, id`,
		tenantID, string(targetType), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.GateDecision, error) {
		var d models.GateDecision
		var tt, decision string
		err := row.Scan(&d.ID, &d.TenantID, &d.GateType, &tt, &d.TargetID, &decision, &d.Rationale, &d.ActorID, &d.CreatedAt)
		d.TargetType = models.TargetType(tt)
		d.Decision = models.Decision(decision)
		return &d, err
	})
}
