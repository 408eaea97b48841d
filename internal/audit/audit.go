// Package audit records security-relevant actions. Writes happen off the
// request path and never fail the operation that produced them.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"signalflow/backend/internal/logging"
	"signalflow/backend/pkg/models"
)

// Actions recorded by the service layer.
const (
	ActionGateDecision   = "gate.decision"
	ActionRouteCreated   = "route.created"
	ActionRouteUpdated   = "route.updated"
	ActionRouteDeleted   = "route.deleted"
	ActionLineageRead    = "lineage.read"
	ActionSignalRetried  = "signal.retried"
	ActionAICacheCleared = "ai.cache_cleared"
)

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, event models.AuditEvent) error
}

// Auditor is what domain code depends on: fire and forget.
type Auditor interface {
	Record(ctx context.Context, event models.AuditEvent)
}

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSink appends events to the audit_records table.
type PostgresSink struct {
	DB auditDB
}

func (s *PostgresSink) Write(ctx context.Context, ev models.AuditEvent) error {
	var detail []byte
	if ev.Detail != nil {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return err
		}
		detail = b
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_records
		(id, tenant_id, actor_id, action, target_type, target_id, super_operator, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ev.ID, ev.TenantID, ev.ActorID, ev.Action, ev.TargetType, ev.TargetID, ev.SuperOperator, detail, ev.OccurredAt)
	return err
}

// List returns the most recent events for a tenant, newest first.
func (s *PostgresSink) List(ctx context.Context, tenantID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, tenant_id, actor_id, action, target_type, target_id, super_operator, detail, occurred_at
		FROM audit_records WHERE tenant_id=$1
		ORDER BY occurred_at DESC LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.ActorID, &ev.Action, &ev.TargetType, &ev.TargetID, &ev.SuperOperator, &detail, &ev.OccurredAt); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LogSink writes events to the application log.
type LogSink struct {
	Logger *logging.Logger
}

func (s *LogSink) Write(ctx context.Context, ev models.AuditEvent) error {
	s.Logger.Info("audit",
		"action", ev.Action,
		"tenant_id", ev.TenantID,
		"actor_id", ev.ActorID,
		"target_type", ev.TargetType,
		"target_id", ev.TargetID,
		"super_operator", ev.SuperOperator,
	)
	return nil
}

// Recorder buffers events and writes them to a Sink from a single
// background goroutine. When the buffer is full new events are dropped
// with a warning.
type Recorder struct {
	sink    Sink
	logger  *logging.Logger
	timeout time.Duration
	events  chan models.AuditEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
}

// NewRecorder starts a Recorder over sink.
func NewRecorder(sink Sink, bufferSize int, logger *logging.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		events:  make(chan models.AuditEvent, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues ev. It never blocks.
func (r *Recorder) Record(ctx context.Context, ev models.AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("audit recorder closed, dropping event", "action", ev.Action)
		return
	}
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("audit buffer full, dropping event", "action", ev.Action, "tenant_id", ev.TenantID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Write(ctx, ev); err != nil {
			r.logger.Error("audit write failed", "action", ev.Action, "tenant_id", ev.TenantID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the buffer to drain or ctx to
// expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, models.AuditEvent) {}
