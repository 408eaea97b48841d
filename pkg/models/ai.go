package models

import "time"

// AIExecutionStatus is the outcome of one hardened AI invocation.
type AIExecutionStatus string

const (
	AIExecutionSucceeded AIExecutionStatus = "succeeded"
	AIExecutionFailed    AIExecutionStatus = "failed"
)

// AIExecution records a single executeWithSchema invocation for usage
// accounting and lineage. Cache hits are recorded with zero tokens.
type AIExecution struct {
	ID                  string            `json:"id"`
	TenantID            string            `json:"tenant_id,omitempty"`
	WorkflowExecutionID string            `json:"workflow_execution_id,omitempty"`
	Model               string            `json:"model"`
	Fingerprint         string            `json:"fingerprint"`
	Cached              bool              `json:"cached"`
	Status              AIExecutionStatus `json:"status"`
	Attempts            int               `json:"attempts"`
	InputTokens         int64             `json:"input_tokens"`
	OutputTokens        int64             `json:"output_tokens"`
	DurationMs          int64             `json:"duration_ms"`
	Error               string            `json:"error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// CacheStats describes the process-wide AI response cache.
type CacheStats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}
