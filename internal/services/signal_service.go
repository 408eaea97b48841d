package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/metrics"
	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

// SignalService ingests external signals, deduplicates them and hands new
// ones to the route matcher.
type SignalService struct {
	store   repository.SignalStore
	sources *SourceRegistry
	router  *RouteService
	auditor audit.Auditor
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewSignalService creates a new SignalService.
func NewSignalService(store repository.SignalStore, sources *SourceRegistry, router *RouteService, auditor audit.Auditor, m *metrics.Metrics, logger *logging.Logger) *SignalService {
	return &SignalService{
		store:   store,
		sources: sources,
		router:  router,
		auditor: auditor,
		metrics: m,
		logger:  logger,
	}
}

// Ingest records a signal for tenantID and triggers every matching route.
// A duplicate returns the stored signal with IsDuplicate set and triggers
// nothing. When triggering fails the signal is marked failed and the result
// is returned together with an ErrEngine error.
func (s *SignalService) Ingest(ctx context.Context, tenantID, source string, payload json.RawMessage, clientID *string) (*models.IngestResult, error) {
	if tenantID == "" {
		return nil, ErrForbidden
	}
	adapter, err := s.sources.Resolve(source)
	if err != nil {
		return nil, err
	}
	normalized, err := adapter.Normalize(payload)
	if err != nil {
		return nil, err
	}
	dedupKey, err := models.DedupKey(tenantID, source, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	stored, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	sig := &models.Signal{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Source:    source,
		ClientID:  clientID,
		Payload:   stored,
		DedupKey:  dedupKey,
		Status:    models.SignalPending,
		CreatedAt: time.Now().UTC(),
	}
	existing, inserted, err := s.store.InsertSignalIfAbsent(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to store signal: %w", err)
	}
	s.metrics.SignalIngested(ctx, source, !inserted)
	if !inserted {
		s.logger.Debug("duplicate signal", "tenant_id", tenantID, "source", source, "signal_id", existing.ID)
		return &models.IngestResult{
			Signal:             existing,
			IsDuplicate:        true,
			WorkflowsTriggered: []*models.WorkflowExecution{},
		}, nil
	}

	return s.process(ctx, sig, normalized)
}

// Retry re-runs route matching for a stored signal regardless of its status.
// Signals outside the caller's tenant read as missing.
func (s *SignalService) Retry(ctx context.Context, caller models.Caller, signalID string) (*models.IngestResult, error) {
	sig, err := s.Get(ctx, caller, signalID)
	if err != nil {
		return nil, err
	}
	var normalized models.NormalizedPayload
	if err := json.Unmarshal(sig.Payload, &normalized); err != nil {
		return nil, fmt.Errorf("stored payload of signal %s is unreadable: %w", sig.ID, err)
	}

	s.auditor.Record(ctx, models.AuditEvent{
		TenantID:      sig.TenantID,
		ActorID:       caller.UserID,
		Action:        audit.ActionSignalRetried,
		TargetType:    "signal",
		TargetID:      sig.ID,
		SuperOperator: caller.SuperOperator && caller.TenantID != sig.TenantID,
		Detail:        map[string]interface{}{"previous_status": string(sig.Status), "attempts": sig.Attempts},
	})
	return s.process(ctx, sig, normalized)
}

// Get returns a signal visible to the caller.
func (s *SignalService) Get(ctx context.Context, caller models.Caller, signalID string) (*models.Signal, error) {
	if caller.TenantID == "" && !caller.SuperOperator {
		return nil, ErrForbidden
	}
	sig, err := s.store.GetSignal(ctx, signalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(sig.TenantID) {
		return nil, ErrNotFound
	}
	return sig, nil
}

func (s *SignalService) process(ctx context.Context, sig *models.Signal, normalized models.NormalizedPayload) (*models.IngestResult, error) {
	executions, matched, dispatchErr := s.router.Dispatch(ctx, sig, normalized)

	sig.Attempts++
	if dispatchErr != nil {
		sig.Status = models.SignalFailed
		sig.LastError = dispatchErr.Error()
	} else {
		now := time.Now().UTC()
		sig.Status = models.SignalProcessed
		sig.LastError = ""
		sig.ProcessedAt = &now
	}
	if err := s.store.UpdateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("failed to update signal status: %w", err)
	}
	s.metrics.WorkflowsTriggered(ctx, len(executions))

	result := &models.IngestResult{
		Signal:             sig,
		MatchingRouteCount: matched,
		WorkflowsTriggered: executions,
	}
	if dispatchErr != nil {
		s.logger.Error("signal routing failed", "signal_id", sig.ID, "tenant_id", sig.TenantID, "error", dispatchErr)
		return result, fmt.Errorf("%w: %w", ErrEngine, dispatchErr)
	}
	s.logger.Info("signal processed", "signal_id", sig.ID, "tenant_id", sig.TenantID, "matched_routes", matched, "triggered", len(executions))
	return result, nil
}
