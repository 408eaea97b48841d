package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/backend/internal/audit"
	"signalflow/backend/pkg/models"
)

func TestRouteCRUD(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.workflowFor(t, "agency-1", "wf-1")
	owner := tenantCaller("agency-1")

	created, err := f.routes.Create(ctx, owner, RouteInput{Name: " Won deals ", Source: "crm", WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Equal(t, "Won deals", created.Name)
	assert.Equal(t, "agency-1", created.TenantID)
	assert.True(t, created.Enabled)

	disabled := false
	updated, err := f.routes.Update(ctx, owner, created.ID, RouteInput{
		Name: "Won deals", Source: "crm", WorkflowID: "wf-1", Enabled: &disabled,
		MatchPredicate: models.MatchPredicate{EventTypes: []string{"deal.closed_won"}},
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	list, err := f.routes.List(ctx, owner, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"deal.closed_won"}, list[0].MatchPredicate.EventTypes)

	require.NoError(t, f.routes.Delete(ctx, owner, created.ID))
	_, err = f.routes.Get(ctx, owner, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{audit.ActionRouteCreated, audit.ActionRouteUpdated, audit.ActionRouteDeleted}, f.auditor.actions())
}

func TestRouteTenantChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.workflowFor(t, "agency-1", "wf-1")
	route := f.route(t, "agency-1", "crm", "wf-1", models.MatchPredicate{})
	stranger := tenantCaller("agency-2")

	_, err := f.routes.Get(ctx, stranger, route.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.routes.Update(ctx, stranger, route.ID, RouteInput{Name: "x", Source: "crm", WorkflowID: "wf-1"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, f.routes.Delete(ctx, stranger, route.ID), ErrAccessDenied)
	_, err = f.routes.List(ctx, stranger, "agency-1")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = f.routes.Get(ctx, models.Caller{}, route.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	op := models.Caller{UserID: "ops@platform", SuperOperator: true}
	got, err := f.routes.Get(ctx, op, route.ID)
	require.NoError(t, err)
	assert.Equal(t, route.ID, got.ID)

	require.NoError(t, f.routes.Delete(ctx, op, route.ID))
	ev := f.auditor.last()
	assert.Equal(t, audit.ActionRouteDeleted, ev.Action)
	assert.True(t, ev.SuperOperator)
	assert.Equal(t, "agency-1", ev.TenantID)
}

func TestRouteValidationListsAllViolations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.workflowFor(t, "agency-2", "foreign-wf")

	_, err := f.routes.Create(ctx, tenantCaller("agency-1"), RouteInput{
		Source:     "fax",
		WorkflowID: "foreign-wf",
		MatchPredicate: models.MatchPredicate{
			All: []models.Condition{{Field: "amount", Op: "between"}},
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 4)
}

func TestDispatchKeepsRouteOrderAndSkipsNonMatching(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, wf := range []string{"wf-a", "wf-b", "wf-c"} {
		f.workflowFor(t, "agency-1", wf)
	}
	f.route(t, "agency-1", "crm", "wf-a", models.MatchPredicate{EventTypes: []string{"deal.*"}})
	f.route(t, "agency-1", "crm", "wf-b", models.MatchPredicate{All: []models.Condition{{Field: "amount", Op: OpGt, Value: 100000.0}}})
	f.route(t, "agency-1", "crm", "wf-c", models.MatchPredicate{All: []models.Condition{{Field: "owner", Op: OpEq, Value: "ana"}}})

	sig := &models.Signal{ID: "sig-1", TenantID: "agency-1", Source: "crm"}
	payload := models.NormalizedPayload{EventType: "deal.closed_won", Attributes: map[string]interface{}{"amount": 5000.0, "owner": "ana"}}

	execs, matched, err := f.routes.Dispatch(ctx, sig, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, matched)
	require.Len(t, execs, 2)
	assert.Equal(t, "wf-a", execs[0].WorkflowID)
	assert.Equal(t, "wf-c", execs[1].WorkflowID)
}

func TestDispatchReportsEngineErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.workflowFor(t, "agency-1", "wf-a")
	f.route(t, "agency-1", "manual", "wf-a", models.MatchPredicate{})
	f.engine.failing.Store(true)

	sig := &models.Signal{ID: "sig-1", TenantID: "agency-1", Source: "manual"}
	execs, matched, err := f.routes.Dispatch(ctx, sig, models.NormalizedPayload{EventType: "manual.trigger"})
	assert.Error(t, err)
	assert.Equal(t, 1, matched)
	assert.Empty(t, execs)
}
