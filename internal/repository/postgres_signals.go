package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"signalflow/backend/pkg/models"
)

const signalColumns = "id, tenant_id, source, client_id, payload, dedup_key, status, attempts, last_error, created_at, processed_at"

func scanSignal(row pgx.Row) (*models.Signal, error) {
	var s models.Signal
	var status string
	err := row.Scan(&s.ID, &s.TenantID, &s.Source, &s.ClientID, &s.Payload, &s.DedupKey, &status, &s.Attempts,
		&s.LastError, &s.CreatedAt, &s.ProcessedAt)
	if err != nil {
		return nil, err
	}
	s.Status = models.SignalStatus(status)
	return &s, nil
}

// InsertSignalIfAbsent relies on the (tenant_id, source, dedup_key) unique
// constraint so concurrent ingests of the same signal insert exactly once.
func (s *PostgresStore) InsertSignalIfAbsent(ctx context.Context, sig *models.Signal) (*models.Signal, bool, error) {
	var id string
	err := s.db.QueryRow(ctx, `INSERT INTO signals
		(id, tenant_id, source, client_id, payload, dedup_key, status, attempts, last_error, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ON CONSTRAINT signals_dedup_unique DO NOTHING
		RETURNING id`,
		sig.ID, sig.TenantID, sig.Source, sig.ClientID, []byte(sig.Payload), sig.DedupKey, string(sig.Status),
		sig.Attempts, sig.LastError, sig.CreatedAt, sig.ProcessedAt).Scan(&id)
	if err == nil {
		return sig, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := scanSignal(s.db.QueryRow(ctx,
		"SELECT "+signalColumns+" FROM signals WHERE tenant_id = $1 AND source = $2 AND dedup_key = $3",
		sig.TenantID, sig.Source, sig.DedupKey))
	if err != nil {
		return nil, false, notFound(err)
	}
	return existing, false, nil
}

// GetSignal retrieves a signal by ID.
func (s *PostgresStore) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	sig, err := scanSignal(s.db.QueryRow(ctx, "SELECT "+signalColumns+" FROM signals WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return sig, nil
}

// UpdateSignal persists the mutable routing fields of a signal.
func (s *PostgresStore) UpdateSignal(ctx context.Context, sig *models.Signal) error {
	tag, err := s.db.Exec(ctx, "UPDATE signals SET status = $2, attempts = $3, last_error = $4, processed_at = $5 WHERE id = $1",
		sig.ID, string(sig.Status), sig.Attempts, sig.LastError, sig.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
