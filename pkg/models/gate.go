package models

import "time"

// Decision is a gate verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionDiscuss Decision = "discuss"
)

// Valid reports whether d is one of the known verdicts.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionDiscuss:
		return true
	}
	return false
}

// TargetType enumerates the artifact kinds a gate decision can apply to.
type TargetType string

const (
	TargetOpportunityArtifact TargetType = "opportunity_artifact"
	TargetInitiative          TargetType = "initiative"
	TargetExecutionOutput     TargetType = "execution_output"
	TargetOutcomeReview       TargetType = "outcome_review"
	TargetLearningArtifact    TargetType = "learning_artifact"
)

// TargetTypes lists every gateable target type.
var TargetTypes = []TargetType{
	TargetOpportunityArtifact,
	TargetInitiative,
	TargetExecutionOutput,
	TargetOutcomeReview,
	TargetLearningArtifact,
}

// GateDecision is an immutable approve/reject/discuss record. A new verdict
// on the same target is a new row.
type GateDecision struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	GateType   string     `json:"gate_type"`
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Decision   Decision   `json:"decision"`
	Rationale  string     `json:"rationale"`
	ActorID    string     `json:"actor_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// GateDecisionInput is the caller-supplied part of a decision.
type GateDecisionInput struct {
	GateType   string     `json:"gate_type"`
	Decision   Decision   `json:"decision"`
	TargetType TargetType `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Rationale  string     `json:"rationale"`
}

// GateResult is the typed outcome of recording a decision. Denials and
// validation failures are reported here rather than as errors.
type GateResult struct {
	OK         bool          `json:"ok"`
	Status     int           `json:"status"`
	Error      string        `json:"error,omitempty"`
	Violations []string      `json:"violations,omitempty"`
	Decision   *GateDecision `json:"decision,omitempty"`
}
