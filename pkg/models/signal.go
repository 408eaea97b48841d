package models

import (
	"encoding/json"
	"time"
)

// SignalStatus tracks routing progress of an ingested signal.
type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalProcessed SignalStatus = "processed"
	SignalFailed    SignalStatus = "failed"
)

// Signal is a normalized record of an external event considered for
// workflow triggering.
type Signal struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Source      string          `json:"source"`
	ClientID    *string         `json:"client_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	DedupKey    string          `json:"dedup_key"`
	Status      SignalStatus    `json:"status"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// NormalizedPayload is the single schema every source adapter produces.
// Dedup keys and route predicates only ever see this shape.
type NormalizedPayload struct {
	EventType  string                 `json:"event_type"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes"`
}

// SignalRoute is tenant configuration binding a source + predicate to a workflow.
type SignalRoute struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Name           string         `json:"name"`
	Source         string         `json:"source"`
	MatchPredicate MatchPredicate `json:"match_predicate"`
	WorkflowID     string         `json:"workflow_id"`
	Enabled        bool           `json:"enabled"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MatchPredicate selects signals for a route. An empty predicate matches
// every signal of the route's source.
type MatchPredicate struct {
	EventTypes []string    `json:"event_types,omitempty" yaml:"event_types,omitempty"`
	All        []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any        []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

// Condition compares one attribute, addressed by a gjson path, to a value.
type Condition struct {
	Field string      `json:"field" yaml:"field"`
	Op    string      `json:"op" yaml:"op"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// IngestResult is returned by signal ingestion and retry.
type IngestResult struct {
	Signal             *Signal              `json:"signal"`
	IsDuplicate        bool                 `json:"is_duplicate"`
	MatchingRouteCount int                  `json:"matching_route_count"`
	WorkflowsTriggered []*WorkflowExecution `json:"workflows_triggered"`
}
