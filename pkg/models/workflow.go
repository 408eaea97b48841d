package models

import (
	"encoding/json"
	"time"
)

// Workflow is one version of a tenant workflow definition.
type Workflow struct {
	ID           string                 `json:"id"`          // Unique Version ID
	TenantID     string                 `json:"tenant_id"`   // Multi-tenancy isolation
	WorkflowID   string                 `json:"workflow_id"` // Stable Concept ID
	Version      int                    `json:"version"`
	IsLatest     bool                   `json:"is_latest"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Status       string                 `json:"status"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema"`
	CreatedBy    string                 `json:"created_by"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// ExecutionStatus is the lifecycle state of a workflow run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}

// WorkflowExecution is one triggered run of a workflow; the unit of lineage.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	WorkflowID      string          `json:"workflow_id"`
	TriggerSignalID string          `json:"trigger_signal_id,omitempty"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// WorkflowEvent is an append-only audit entry inside one execution.
type WorkflowEvent struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Sequence    int64           `json:"sequence"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Event types written by the engine adapters.
const (
	EventExecutionStarted  = "execution.started"
	EventExecutionFinished = "execution.finished"
)
