package models

// Lineage is everything attributable to one workflow execution, scoped to
// the execution's tenant.
type Lineage struct {
	Execution       *WorkflowExecution `json:"execution"`
	Workflow        *Workflow          `json:"workflow"`
	Signal          *Signal            `json:"signal"`
	Events          []*WorkflowEvent   `json:"events"`
	CreatedEntities CreatedEntities    `json:"created_entities"`
	AIExecutions    []*AIExecution     `json:"ai_executions"`
}

// CreatedEntities groups lineage entities by kind.
type CreatedEntities struct {
	ByKind map[EntityKind][]CreatedEntity `json:"by_kind"`
	Total  int                            `json:"total"`
}

// GroupEntities builds a CreatedEntities from a flat list.
func GroupEntities(entities []CreatedEntity) CreatedEntities {
	out := CreatedEntities{ByKind: map[EntityKind][]CreatedEntity{}}
	for _, e := range entities {
		out.ByKind[e.Kind] = append(out.ByKind[e.Kind], e)
		out.Total++
	}
	return out
}
