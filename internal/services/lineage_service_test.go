package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/backend/internal/audit"
	"signalflow/backend/pkg/models"
)

// runOnboarding ingests a closed-won deal for agency-1 and returns the
// resulting execution.
func runOnboarding(t *testing.T, f *fixture) (*models.Signal, *models.WorkflowExecution) {
	t.Helper()
	f.workflowFor(t, "agency-1", "onboard-client")
	f.route(t, "agency-1", "crm", "onboard-client", models.MatchPredicate{EventTypes: []string{"deal.closed_won"}})

	res, err := f.signals.Ingest(context.Background(), "agency-1", "crm", json.RawMessage(closedWonPayload), nil)
	require.NoError(t, err)
	require.Len(t, res.WorkflowsTriggered, 1)
	return res.Signal, res.WorkflowsTriggered[0]
}

func TestLineageScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sig, exec := runOnboarding(t, f)
	execID := exec.ID
	now := time.Now().UTC()

	require.NoError(t, f.store.CreateClient(ctx, &models.Client{ID: "client-1", TenantID: "agency-1", Name: "Acme", WorkflowExecutionID: &execID, CreatedAt: now}))
	require.NoError(t, f.store.CreateInitiative(ctx, &models.Initiative{ID: "init-1", TenantID: "agency-1", ClientID: "client-1", Title: "Kickoff", WorkflowExecutionID: &execID, CreatedAt: now}))
	// a row of another tenant tagged with the same execution id must not leak
	require.NoError(t, f.store.CreateClient(ctx, &models.Client{ID: "client-x", TenantID: "agency-2", Name: "Leak", WorkflowExecutionID: &execID, CreatedAt: now}))
	require.NoError(t, f.store.CreateAIExecution(ctx, &models.AIExecution{ID: "ai-1", TenantID: "agency-1", WorkflowExecutionID: execID, Model: "claude-sonnet-4-5"}))
	require.NoError(t, f.store.CreateAIExecution(ctx, &models.AIExecution{ID: "ai-x", TenantID: "agency-2", WorkflowExecutionID: execID, Model: "claude-sonnet-4-5"}))

	lineage, err := f.lineage.GetLineage(ctx, tenantCaller("agency-1"), execID)
	require.NoError(t, err)

	assert.Equal(t, execID, lineage.Execution.ID)
	assert.Equal(t, "onboard-client", lineage.Workflow.WorkflowID)
	require.NotNil(t, lineage.Signal)
	assert.Equal(t, sig.ID, lineage.Signal.ID)
	assert.Equal(t, 2, lineage.CreatedEntities.Total)
	assert.Len(t, lineage.CreatedEntities.ByKind[models.KindClient], 1)
	assert.Len(t, lineage.CreatedEntities.ByKind[models.KindInitiative], 1)
	require.Len(t, lineage.AIExecutions, 1)
	assert.Equal(t, "ai-1", lineage.AIExecutions[0].ID)
	require.Len(t, lineage.Events, 1)
	assert.Equal(t, models.EventExecutionStarted, lineage.Events[0].Type)
}

func TestLineageAccessChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, exec := runOnboarding(t, f)

	_, err := f.lineage.GetLineage(ctx, tenantCaller("agency-2"), exec.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.lineage.GetEvents(ctx, tenantCaller("agency-2"), exec.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.lineage.GetLineage(ctx, tenantCaller("agency-1"), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.lineage.GetLineage(ctx, models.Caller{}, exec.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	op := models.Caller{UserID: "ops", SuperOperator: true}
	_, err = f.lineage.GetLineage(ctx, op, exec.ID)
	require.NoError(t, err)
	ev := f.auditor.last()
	assert.Equal(t, audit.ActionLineageRead, ev.Action)
	assert.True(t, ev.SuperOperator)
}

func TestLineageRejectsInconsistentTenants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.workflowFor(t, "agency-1", "wf-a")
	require.NoError(t, f.store.CreateExecution(ctx, &models.WorkflowExecution{
		ID: "exec-mixed", TenantID: "agency-2", WorkflowID: "wf-a",
		Status: models.ExecutionRunning, StartedAt: time.Now().UTC(),
	}))

	for _, caller := range []models.Caller{
		tenantCaller("agency-1"),
		tenantCaller("agency-2"),
		{UserID: "ops", SuperOperator: true},
	} {
		_, err := f.lineage.GetLineage(ctx, caller, "exec-mixed")
		assert.ErrorIs(t, err, ErrAccessDenied, caller.TenantID)
		_, err = f.lineage.GetEvents(ctx, caller, "exec-mixed")
		assert.ErrorIs(t, err, ErrAccessDenied, caller.TenantID)
	}
}

func TestAppendEventAndComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, exec := runOnboarding(t, f)
	owner := tenantCaller("agency-1")

	ev, err := f.lineage.AppendEvent(ctx, owner, exec.ID, "step.completed", json.RawMessage(`{"step":"create_client"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Sequence)

	_, err = f.lineage.AppendEvent(ctx, owner, exec.ID, "", json.RawMessage(`{bad`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)

	_, err = f.lineage.Complete(ctx, owner, exec.ID, models.ExecutionRunning)
	require.ErrorAs(t, err, &verr)

	done, err := f.lineage.Complete(ctx, owner, exec.ID, models.ExecutionSucceeded)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSucceeded, done.Status)
	assert.NotNil(t, done.FinishedAt)

	_, err = f.lineage.Complete(ctx, owner, exec.ID, models.ExecutionFailed)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = f.lineage.AppendEvent(ctx, owner, exec.ID, "late", nil)
	assert.ErrorIs(t, err, ErrConflict)

	events, err := f.lineage.GetEvents(ctx, owner, exec.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, models.EventExecutionFinished, events[2].Type)
}
