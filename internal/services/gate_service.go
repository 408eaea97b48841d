package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"signalflow/backend/internal/audit"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/metrics"
	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

const maxRationaleLength = 4000

type gateStore interface {
	repository.GateStore
	repository.EntityStore
}

// verifier reports whether targetID belongs to tenantID. A missing link in
// the ownership chain is reported as false, never as an error.
type verifier func(ctx context.Context, tenantID, targetID string) (bool, error)

// GateService records human approve/reject/discuss decisions on workflow
// artifacts after proving the caller's tenant owns the target.
type GateService struct {
	store     gateStore
	verifiers map[models.TargetType]verifier
	auditor   audit.Auditor
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewGateService creates a new GateService.
func NewGateService(store gateStore, auditor audit.Auditor, m *metrics.Metrics, logger *logging.Logger) *GateService {
	s := &GateService{store: store, auditor: auditor, metrics: m, logger: logger}
	s.verifiers = map[models.TargetType]verifier{
		models.TargetOpportunityArtifact: s.verifyOpportunityArtifact,
		models.TargetInitiative:          s.verifyInitiative,
		models.TargetExecutionOutput:     s.childVerifier(models.KindExecutionOutput),
		models.TargetOutcomeReview:       s.childVerifier(models.KindOutcomeReview),
		models.TargetLearningArtifact:    s.childVerifier(models.KindLearningArtifact),
	}
	return s
}

func denied() models.GateResult {
	return models.GateResult{Status: http.StatusForbidden, Error: "access denied"}
}

// RecordDecision validates, verifies and persists a gate decision. Denials
// and validation failures come back in the result; the error is reserved for
// infrastructure failures. Super-operators get no bypass here.
func (s *GateService) RecordDecision(ctx context.Context, caller models.Caller, in models.GateDecisionInput) (models.GateResult, error) {
	result, err := s.recordDecision(ctx, caller, in)
	if err == nil {
		s.metrics.GateDecision(ctx, string(in.TargetType), result.Status)
	}
	return result, err
}

func (s *GateService) recordDecision(ctx context.Context, caller models.Caller, in models.GateDecisionInput) (models.GateResult, error) {
	if caller.TenantID == "" {
		return models.GateResult{Status: http.StatusForbidden, Error: "forbidden"}, nil
	}
	if v := validateDecision(in); len(v) > 0 {
		return models.GateResult{Status: http.StatusBadRequest, Error: "validation failed", Violations: v}, nil
	}

	ok, err := s.verify(ctx, caller.TenantID, in.TargetType, in.TargetID)
	if err != nil {
		return models.GateResult{}, err
	}
	if !ok {
		s.logger.Warn("gate decision denied", "tenant_id", caller.TenantID, "target_type", in.TargetType, "target_id", in.TargetID)
		return denied(), nil
	}

	decision := &models.GateDecision{
		ID:         uuid.New().String(),
		TenantID:   caller.TenantID,
		GateType:   strings.TrimSpace(in.GateType),
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Decision:   in.Decision,
		Rationale:  in.Rationale,
		ActorID:    caller.UserID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateGateDecision(ctx, decision); err != nil {
		return models.GateResult{}, fmt.Errorf("failed to store gate decision: %w", err)
	}

	s.auditor.Record(ctx, models.AuditEvent{
		TenantID:   decision.TenantID,
		ActorID:    decision.ActorID,
		Action:     audit.ActionGateDecision,
		TargetType: string(decision.TargetType),
		TargetID:   decision.TargetID,
		Detail: map[string]interface{}{
			"decision_id": decision.ID,
			"gate_type":   decision.GateType,
			"decision":    string(decision.Decision),
		},
	})
	return models.GateResult{OK: true, Status: http.StatusCreated, Decision: decision}, nil
}

// ListDecisions returns the decision history for a target, oldest first.
func (s *GateService) ListDecisions(ctx context.Context, caller models.Caller, targetType models.TargetType, targetID string) ([]*models.GateDecision, error) {
	if caller.TenantID == "" {
		return nil, ErrForbidden
	}
	if _, known := s.verifiers[targetType]; !known || targetID == "" {
		return nil, &ValidationError{Violations: []string{"target_type and target_id must identify a gateable target"}}
	}
	ok, err := s.verify(ctx, caller.TenantID, targetType, targetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAccessDenied
	}
	decisions, err := s.store.ListGateDecisions(ctx, caller.TenantID, targetType, targetID)
	if err != nil {
		return nil, err
	}
	if decisions == nil {
		decisions = []*models.GateDecision{}
	}
	return decisions, nil
}

// LatestDecision returns the most recent decision for a target.
func (s *GateService) LatestDecision(ctx context.Context, caller models.Caller, targetType models.TargetType, targetID string) (*models.GateDecision, error) {
	decisions, err := s.ListDecisions(ctx, caller, targetType, targetID)
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, ErrNotFound
	}
	return decisions[len(decisions)-1], nil
}

func validateDecision(in models.GateDecisionInput) []string {
	var v violations
	if strings.TrimSpace(in.GateType) == "" {
		v.add("gate_type is required")
	}
	if !in.Decision.Valid() {
		v.add(fmt.Sprintf("decision must be one of %q, %q, %q", models.DecisionApprove, models.DecisionReject, models.DecisionDiscuss))
	}
	known := false
	for _, t := range models.TargetTypes {
		if in.TargetType == t {
			known = true
			break
		}
	}
	if !known {
		v.add(fmt.Sprintf("target_type %q is not supported", in.TargetType))
	}
	if strings.TrimSpace(in.TargetID) == "" {
		v.add("target_id is required")
	}
	if strings.TrimSpace(in.Rationale) == "" {
		v.add("rationale is required")
	} else if len(in.Rationale) > maxRationaleLength {
		v.add(fmt.Sprintf("rationale must be at most %d characters", maxRationaleLength))
	}
	return v
}

// verify runs the target type's ownership chain. Unknown target types fail
// closed.
func (s *GateService) verify(ctx context.Context, tenantID string, targetType models.TargetType, targetID string) (bool, error) {
	check, ok := s.verifiers[targetType]
	if !ok {
		return false, nil
	}
	return check(ctx, tenantID, targetID)
}

// missing turns not-found lookups into a denial and keeps real errors.
func missing(err error) (bool, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *GateService) verifyOpportunityArtifact(ctx context.Context, tenantID, id string) (bool, error) {
	a, err := s.store.GetOpportunityArtifact(ctx, id)
	if err != nil {
		return missing(err)
	}
	return a.TenantID == tenantID, nil
}

// verifyInitiative walks initiative -> client -> tenant.
func (s *GateService) verifyInitiative(ctx context.Context, tenantID, id string) (bool, error) {
	initiative, err := s.store.GetInitiative(ctx, id)
	if err != nil {
		return missing(err)
	}
	if initiative.ClientID == "" {
		return false, nil
	}
	client, err := s.store.GetClient(ctx, initiative.ClientID)
	if err != nil {
		return missing(err)
	}
	return client.TenantID == tenantID, nil
}

// childVerifier walks child -> initiative -> client -> tenant.
func (s *GateService) childVerifier(kind models.EntityKind) verifier {
	return func(ctx context.Context, tenantID, id string) (bool, error) {
		child, err := s.store.GetInitiativeChild(ctx, kind, id)
		if err != nil {
			return missing(err)
		}
		if child.InitiativeID == "" {
			return false, nil
		}
		return s.verifyInitiative(ctx, tenantID, child.InitiativeID)
	}
}
