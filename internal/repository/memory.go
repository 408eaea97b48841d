package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalflow/backend/pkg/models"
)

// MemoryStore is an in-process Repository. It enforces the same uniqueness
// and ordering rules as the Postgres schema and is used for local runs and
// tests.
type MemoryStore struct {
	mu           sync.RWMutex
	tenants      map[string]*models.Tenant
	workflows    []*models.Workflow
	signals      map[string]*models.Signal
	dedup        map[string]string
	routes       map[string]*models.SignalRoute
	executions   map[string]*models.WorkflowExecution
	events       map[string][]*models.WorkflowEvent
	decisions    []*models.GateDecision
	clients      map[string]*models.Client
	initiatives  map[string]*models.Initiative
	artifacts    map[string]*models.OpportunityArtifact
	children     map[models.EntityKind]map[string]*models.InitiativeChild
	aiExecutions []*models.AIExecution
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     map[string]*models.Tenant{},
		signals:     map[string]*models.Signal{},
		dedup:       map[string]string{},
		routes:      map[string]*models.SignalRoute{},
		executions:  map[string]*models.WorkflowExecution{},
		events:      map[string][]*models.WorkflowEvent{},
		clients:     map[string]*models.Client{},
		initiatives: map[string]*models.Initiative{},
		artifacts:   map[string]*models.OpportunityArtifact{},
		children: map[models.EntityKind]map[string]*models.InitiativeChild{
			models.KindExecutionOutput:  {},
			models.KindOutcomeReview:    {},
			models.KindLearningArtifact: {},
		},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if t.Domain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	cp := *tenant
	m.tenants[tenant.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	workflow.CreatedAt, workflow.UpdatedAt = now, now
	version := 0
	for _, w := range m.workflows {
		if w.WorkflowID == workflow.WorkflowID {
			w.IsLatest = false
			if w.Version > version {
				version = w.Version
			}
		}
	}
	workflow.Version = version + 1
	workflow.IsLatest = true
	cp := *workflow
	m.workflows = append(m.workflows, &cp)
	return nil
}

func (m *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workflows {
		if w.WorkflowID == workflowID && w.IsLatest {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListWorkflows(ctx context.Context, tenantID string) ([]*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Workflow
	for _, w := range m.workflows {
		if w.TenantID == tenantID && w.IsLatest {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func dedupIndex(s *models.Signal) string {
	return s.TenantID + "\x00" + s.Source + "\x00" + s.DedupKey
}

func (m *MemoryStore) InsertSignalIfAbsent(ctx context.Context, s *models.Signal) (*models.Signal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.dedup[dedupIndex(s)]; ok {
		cp := *m.signals[id]
		return &cp, false, nil
	}
	cp := *s
	m.signals[s.ID] = &cp
	m.dedup[dedupIndex(s)] = s.ID
	return s, true, nil
}

func (m *MemoryStore) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.signals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSignal(ctx context.Context, s *models.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.signals[s.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = s.Status
	stored.Attempts = s.Attempts
	stored.LastError = s.LastError
	stored.ProcessedAt = s.ProcessedAt
	return nil
}

// SignalCount returns the number of stored signals.
func (m *MemoryStore) SignalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.signals)
}

func (m *MemoryStore) CreateRoute(ctx context.Context, route *models.SignalRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *route
	m.routes[route.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateRoute(ctx context.Context, route *models.SignalRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.routes[route.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *route
	cp.TenantID = stored.TenantID
	cp.CreatedAt = stored.CreatedAt
	m.routes[route.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRoute(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return ErrNotFound
	}
	delete(m.routes, id)
	return nil
}

func (m *MemoryStore) GetRoute(ctx context.Context, id string) (*models.SignalRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) listRoutes(keep func(*models.SignalRoute) bool) []*models.SignalRoute {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SignalRoute
	for _, r := range m.routes {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) ListRoutes(ctx context.Context, tenantID string) ([]*models.SignalRoute, error) {
	return m.listRoutes(func(r *models.SignalRoute) bool { return r.TenantID == tenantID }), nil
}

func (m *MemoryStore) ListEnabledRoutes(ctx context.Context, tenantID, source string) ([]*models.SignalRoute, error) {
	return m.listRoutes(func(r *models.SignalRoute) bool {
		return r.TenantID == tenantID && r.Source == source && r.Enabled
	}), nil
}

func (m *MemoryStore) CreateExecution(ctx context.Context, e *models.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ExecutionsForSignal lists executions triggered by a signal.
func (m *MemoryStore) ExecutionsForSignal(signalID string) []*models.WorkflowExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.WorkflowExecution
	for _, e := range m.executions {
		if e.TriggerSignalID == signalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (m *MemoryStore) FinishExecution(ctx context.Context, id string, status models.ExecutionStatus, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.FinishedAt = &finishedAt
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *models.WorkflowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.Sequence = int64(len(m.events[event.ExecutionID]) + 1)
	cp := *event
	m.events[event.ExecutionID] = append(m.events[event.ExecutionID], &cp)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, executionID string) ([]*models.WorkflowEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.WorkflowEvent, 0, len(m.events[executionID]))
	for _, ev := range m.events[executionID] {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) CreateGateDecision(ctx context.Context, d *models.GateDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.decisions = append(m.decisions, &cp)
	return nil
}

func (m *MemoryStore) ListGateDecisions(ctx context.Context, tenantID string, targetType models.TargetType, targetID string) ([]*models.GateDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.GateDecision
	for _, d := range m.decisions {
		if d.TenantID == tenantID && d.TargetType == targetType && d.TargetID == targetID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// GateDecisionCount returns the number of stored decisions.
func (m *MemoryStore) GateDecisionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.decisions)
}

func (m *MemoryStore) CreateClient(ctx context.Context, c *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.clients[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetClient(ctx context.Context, id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateInitiative(ctx context.Context, i *models.Initiative) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *i
	m.initiatives[i.ID] = &cp
	return nil
}

func (m *MemoryStore) GetInitiative(ctx context.Context, id string) (*models.Initiative, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.initiatives[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *MemoryStore) CreateOpportunityArtifact(ctx context.Context, a *models.OpportunityArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.artifacts[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetOpportunityArtifact(ctx context.Context, id string) (*models.OpportunityArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) CreateInitiativeChild(ctx context.Context, c *models.InitiativeChild) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.children[c.Kind]
	if !ok {
		return ErrNotFound
	}
	cp := *c
	table[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetInitiativeChild(ctx context.Context, kind models.EntityKind, id string) (*models.InitiativeChild, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func ownedBy(execID *string, tenantID, wantExec, wantTenant string) bool {
	return execID != nil && *execID == wantExec && tenantID == wantTenant
}

func (m *MemoryStore) ListCreatedEntities(ctx context.Context, tenantID, executionID string) ([]models.CreatedEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CreatedEntity
	for _, c := range m.clients {
		if ownedBy(c.WorkflowExecutionID, c.TenantID, executionID, tenantID) {
			out = append(out, models.CreatedEntity{Kind: models.KindClient, ID: c.ID, Title: c.Name, CreatedAt: c.CreatedAt})
		}
	}
	for _, i := range m.initiatives {
		if ownedBy(i.WorkflowExecutionID, i.TenantID, executionID, tenantID) {
			out = append(out, models.CreatedEntity{Kind: models.KindInitiative, ID: i.ID, Title: i.Title, CreatedAt: i.CreatedAt})
		}
	}
	for _, a := range m.artifacts {
		if ownedBy(a.WorkflowExecutionID, a.TenantID, executionID, tenantID) {
			out = append(out, models.CreatedEntity{Kind: models.KindOpportunityArtifact, ID: a.ID, Title: a.Title, CreatedAt: a.CreatedAt})
		}
	}
	for kind, table := range m.children {
		for _, c := range table {
			if ownedBy(c.WorkflowExecutionID, c.TenantID, executionID, tenantID) {
				out = append(out, models.CreatedEntity{Kind: kind, ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CreateAIExecution(ctx context.Context, e *models.AIExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.aiExecutions = append(m.aiExecutions, &cp)
	return nil
}

func (m *MemoryStore) ListAIExecutions(ctx context.Context, tenantID, workflowExecutionID string) ([]*models.AIExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AIExecution
	for _, e := range m.aiExecutions {
		if e.TenantID == tenantID && e.WorkflowExecutionID == workflowExecutionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AIExecutionCount returns the number of recorded AI executions.
func (m *MemoryStore) AIExecutionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aiExecutions)
}

var _ Repository = (*MemoryStore)(nil)
