package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/backend/pkg/models"
)

func TestMemoryStoreDedupesSignals(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := &models.Signal{ID: "s1", TenantID: "t1", Source: "crm", DedupKey: "k", Status: models.SignalPending}
	stored, ok, err := store.InsertSignalIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", stored.ID)

	again := &models.Signal{ID: "s2", TenantID: "t1", Source: "crm", DedupKey: "k", Status: models.SignalPending}
	stored, ok, err = store.InsertSignalIfAbsent(ctx, again)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "s1", stored.ID)

	otherTenant := &models.Signal{ID: "s3", TenantID: "t2", Source: "crm", DedupKey: "k", Status: models.SignalPending}
	_, ok, err = store.InsertSignalIfAbsent(ctx, otherTenant)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, store.SignalCount())
}

func TestMemoryStoreWorkflowVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateWorkflow(ctx, &models.Workflow{TenantID: "t1", WorkflowID: "wf", Name: "v1"}))
	require.NoError(t, store.CreateWorkflow(ctx, &models.Workflow{TenantID: "t1", WorkflowID: "wf", Name: "v2"}))

	latest, err := store.GetWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "v2", latest.Name)

	list, err := store.ListWorkflows(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryStoreEnabledRoutes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	require.NoError(t, store.CreateRoute(ctx, &models.SignalRoute{ID: "r1", TenantID: "t1", Source: "crm", Enabled: true, CreatedAt: now}))
	require.NoError(t, store.CreateRoute(ctx, &models.SignalRoute{ID: "r2", TenantID: "t1", Source: "crm", Enabled: false, CreatedAt: now}))
	require.NoError(t, store.CreateRoute(ctx, &models.SignalRoute{ID: "r3", TenantID: "t1", Source: "analytics", Enabled: true, CreatedAt: now}))
	require.NoError(t, store.CreateRoute(ctx, &models.SignalRoute{ID: "r4", TenantID: "t2", Source: "crm", Enabled: true, CreatedAt: now}))

	routes, err := store.ListEnabledRoutes(ctx, "t1", "crm")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "r1", routes[0].ID)
}

func TestMemoryStoreCreatedEntitiesRequireTenantMatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	exec := "exec-1"

	require.NoError(t, store.CreateInitiative(ctx, &models.Initiative{ID: "i1", TenantID: "t1", ClientID: "c1", WorkflowExecutionID: &exec}))
	require.NoError(t, store.CreateInitiativeChild(ctx, &models.InitiativeChild{ID: "o1", Kind: models.KindExecutionOutput, TenantID: "t1", InitiativeID: "i1", WorkflowExecutionID: &exec}))
	require.NoError(t, store.CreateOpportunityArtifact(ctx, &models.OpportunityArtifact{ID: "a1", TenantID: "t2", WorkflowExecutionID: &exec}))

	entities, err := store.ListCreatedEntities(ctx, "t1", exec)
	require.NoError(t, err)
	assert.Len(t, entities, 2)

	foreign, err := store.ListCreatedEntities(ctx, "t2", exec)
	require.NoError(t, err)
	require.Len(t, foreign, 1)
	assert.Equal(t, models.KindOpportunityArtifact, foreign[0].Kind)
}
