package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

// appendEventAttempts bounds retries when two writers race for the same
// sequence number.
const appendEventAttempts = 3

func (s *PostgresStore) CreateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	_, err := s.db.Exec(ctx, `INSERT INTO workflow_executions
		(id, tenant_id, workflow_id, trigger_signal_id, status, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TenantID, e.WorkflowID, e.TriggerSignalID, string(e.Status), e.StartedAt, e.FinishedAt)
	return err
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var e models.WorkflowExecution
	var status string
	var trigger *string
	err := s.db.QueryRow(ctx, `SELECT id, tenant_id, workflow_id, trigger_signal_id, status, started_at, finished_at
		FROM workflow_executions WHERE id = $1`, id).
		Scan(&e.ID, &e.TenantID, &e.WorkflowID, &trigger, &status, &e.StartedAt, &e.FinishedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if trigger != nil {
		e.TriggerSignalID = *trigger
	}
	e.Status = models.ExecutionStatus(status)
	return &e, nil
}

func (s *PostgresStore) FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, finishedAt time.Time) error {
	tag, err := s.db.Exec(ctx, "UPDATE workflow_executions SET status = $2, finished_at = $3 WHERE id = $1",
		id, string(status), finishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *models.WorkflowEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	var err error
	for attempt := 0; attempt < appendEventAttempts; attempt++ {
		err = s.db.QueryRow(ctx, `INSERT INTO workflow_events (id, execution_id, sequence, type, payload, occurred_at)
			SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3, $4, $5 FROM workflow_events WHERE execution_id = $2
			RETURNING sequence`,
			event.ID, event.ExecutionID, event.Type, []byte(event.Payload), event.OccurredAt).Scan(&event.Sequence)
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, executionID string) ([]*models.WorkflowEvent, error) {
	rows, err := s.db.Query(ctx, `SELECT id, execution_id, sequence, type, payload, occurred_at
		FROM workflow_events WHERE execution_id = $1 ORDER BY sequence`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.WorkflowEvent, error) {
		var ev models.WorkflowEvent
		err := row.Scan(&ev.ID, &ev.ExecutionID, &ev.Sequence, &ev.Type, &ev.Payload, &ev.OccurredAt)
		return &ev, err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
