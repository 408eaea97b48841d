package models

import "time"

// Domain entities referenced by gate verification chains and lineage. Rows
// created by a workflow run carry WorkflowExecutionID.

type Client struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	Name                string    `json:"name"`
	WorkflowExecutionID *string   `json:"workflow_execution_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type Initiative struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	ClientID            string    `json:"client_id"`
	Title               string    `json:"title"`
	WorkflowExecutionID *string   `json:"workflow_execution_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

type OpportunityArtifact struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenant_id"`
	Title               string    `json:"title"`
	WorkflowExecutionID *string   `json:"workflow_execution_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// InitiativeChild covers execution outputs, outcome reviews and learning
// artifacts, which all hang off an initiative.
type InitiativeChild struct {
	ID                  string     `json:"id"`
	Kind                EntityKind `json:"kind"`
	TenantID            string     `json:"tenant_id"`
	InitiativeID        string     `json:"initiative_id"`
	Title               string     `json:"title"`
	WorkflowExecutionID *string    `json:"workflow_execution_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// EntityKind names a table of workflow-created entities.
type EntityKind string

const (
	KindClient              EntityKind = "client"
	KindInitiative          EntityKind = "initiative"
	KindOpportunityArtifact EntityKind = "opportunity_artifact"
	KindExecutionOutput     EntityKind = "execution_output"
	KindOutcomeReview       EntityKind = "outcome_review"
	KindLearningArtifact    EntityKind = "learning_artifact"
)

// CreatedEntity is the lineage view of any entity produced by an execution.
type CreatedEntity struct {
	Kind      EntityKind `json:"kind"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
}
