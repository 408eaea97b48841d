package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/metrics"
	"signalflow/backend/internal/repository"
	"signalflow/backend/internal/workflow"
	"signalflow/backend/pkg/models"
)

type captureAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *captureAuditor) Record(ctx context.Context, ev models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

func (a *captureAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

func (a *captureAuditor) last() models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

// flakyEngine fails every trigger while failing is set.
type flakyEngine struct {
	inner   workflow.Engine
	failing atomic.Bool
}

func (e *flakyEngine) Trigger(ctx context.Context, req workflow.TriggerRequest) (*models.WorkflowExecution, error) {
	if e.failing.Load() {
		return nil, errors.New("engine unavailable")
	}
	return e.inner.Trigger(ctx, req)
}

type fixture struct {
	store    *repository.MemoryStore
	engine   *flakyEngine
	auditor  *captureAuditor
	signals  *SignalService
	routes   *RouteService
	lineage  *LineageService
	gates    *GateService
	workflow *WorkflowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	engine := &flakyEngine{inner: workflow.NewLocalEngine(store)}
	auditor := &captureAuditor{}
	logger := logging.Nop()
	m := metrics.Nop()
	sources := DefaultSources()

	routes := NewRouteService(store, engine, sources, auditor, logger)
	return &fixture{
		store:    store,
		engine:   engine,
		auditor:  auditor,
		signals:  NewSignalService(store, sources, routes, auditor, m, logger),
		routes:   routes,
		lineage:  NewLineageService(store, auditor, logger),
		gates:    NewGateService(store, auditor, m, logger),
		workflow: NewWorkflowService(store),
	}
}

func tenantCaller(tenantID string) models.Caller {
	return models.Caller{TenantID: tenantID, UserID: "user@" + tenantID}
}

func (f *fixture) workflowFor(t *testing.T, tenantID, workflowID string) {
	t.Helper()
	require.NoError(t, f.store.CreateWorkflow(context.Background(), &models.Workflow{
		TenantID: tenantID, WorkflowID: workflowID, Name: workflowID, Status: "active",
	}))
}

func (f *fixture) route(t *testing.T, tenantID, source, workflowID string, p models.MatchPredicate) *models.SignalRoute {
	t.Helper()
	r, err := f.routes.Create(context.Background(), tenantCaller(tenantID), RouteInput{
		Name: workflowID + " on " + source, Source: source, WorkflowID: workflowID, MatchPredicate: p,
	})
	require.NoError(t, err)
	return r
}

const closedWonPayload = `{"event":"deal.closed_won","object":{"type":"deal","id":"D-1","properties":{"amount":5000,"stage":"closed_won","owner":"ana"}}}`
