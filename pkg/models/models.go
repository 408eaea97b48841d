// Package models defines the domain models for the signal orchestration service
package models

import (
	"time"
)

// AuditEvent is emitted from domain logic to capture key actions. It is
// transport-agnostic so sinks can fan out.
type AuditEvent struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	ActorID       string                 `json:"actor_id"`
	Action        string                 `json:"action"`
	TargetType    string                 `json:"target_type,omitempty"`
	TargetID      string                 `json:"target_id,omitempty"`
	SuperOperator bool                   `json:"super_operator"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Status     int      `json:"status"`
	Detail     string   `json:"detail,omitempty"`
	Instance   string   `json:"instance,omitempty"`
	Violations []string `json:"violations,omitempty"`
}
