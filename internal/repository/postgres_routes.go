package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

const routeColumns = "id, tenant_id, name, source, match_predicate, workflow_id, enabled, created_at, updated_at"

func scanRoute(row pgx.Row) (*models.SignalRoute, error) {
	var r models.SignalRoute
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Source, &r.MatchPredicate, &r.WorkflowID, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) queryRoutes(ctx context.Context, sql string, args ...any) ([]*models.SignalRoute, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*models.SignalRoute
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

func (s *PostgresStore) CreateRoute(ctx context.Context, route *models.SignalRoute) error {
	_, err := s.db.Exec(ctx, "INSERT INTO signal_routes ("+routeColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		route.ID, route.TenantID, route.Name, route.Source, route.MatchPredicate, route.WorkflowID, route.Enabled,
		route.CreatedAt, route.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateRoute(ctx context.Context, route *models.SignalRoute) error {
	tag, err := s.db.Exec(ctx, `UPDATE signal_routes
		SET name = $2, source = $3, match_predicate = $4, workflow_id = $5, enabled = $6, updated_at = $7
		WHERE id = $1`,
		route.ID, route.Name, route.Source, route.MatchPredicate, route.WorkflowID, route.Enabled, route.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRoute(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM signal_routes WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRoute(ctx context.Context, id string) (*models.SignalRoute, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	r, err := scanRoute(s.db.QueryRow(ctx, "SELECT "+routeColumns+" FROM signal_routes WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *PostgresStore) ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error) {
	return s.queryRoutes(ctx, "SELECT "+routeColumns+" FROM signal_routes WHERE tenant_id = $1 ORDER BY created_at, id", tenantID)
}

func (s *PostgresStore) ListEnabledRoutes(ctx context.Context, tenantID, source string) ([]*models.SignalRoute, error) {
	return s.queryRoutes(ctx,
		"SELECT "+routeColumns+" FROM signal_routes WHERE tenant_id = $1 AND source = $2 AND enabled ORDER BY created_at, id",
		tenantID, source)
}
