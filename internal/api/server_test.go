package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/backend/internal/ai"
	"signalflow/backend/internal/auth"
	"signalflow/backend/internal/cache"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/metrics"
	"signalflow/backend/internal/repository"
	"signalflow/backend/internal/services"
	"signalflow/backend/internal/workflow"
	"signalflow/backend/pkg/models"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *recordingAuditor) Record(ctx context.Context, ev models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

type staticProvider struct{ text string }

func (p staticProvider) Generate(ctx context.Context, req ai.ProviderRequest) (*ai.ProviderResponse, error) {
	return &ai.ProviderResponse{Text: p.text, InputTokens: 10, OutputTokens: 4}, nil
}

type harness struct {
	e       *echo.Echo
	store   *repository.MemoryStore
	auditor *recordingAuditor
}

// withTestCaller resolves the caller from test headers in place of OIDC.
func withTestCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenant := c.Request().Header.Get("X-Test-Tenant")
		if tenant == "" {
			return next(c)
		}
		caller := models.Caller{
			TenantID:      tenant,
			UserID:        "user@" + tenant,
			SuperOperator: c.Request().Header.Get("X-Test-Super") == "true",
		}
		c.SetRequest(c.Request().WithContext(auth.WithCaller(c.Request().Context(), caller)))
		return next(c)
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	auditor := &recordingAuditor{}
	logger := logging.Nop()
	m := metrics.Nop()
	sources := services.DefaultSources()
	routes := services.NewRouteService(store, workflow.NewLocalEngine(store), sources, auditor, logger)
	executor := ai.NewExecutor(staticProvider{text: `{"summary":"ok"}`}, cache.NewMemoryCache(), store, ai.Options{}, m, logger)

	s := &Server{
		Signals:   services.NewSignalService(store, sources, routes, auditor, m, logger),
		Routes:    routes,
		Lineage:   services.NewLineageService(store, auditor, logger),
		Gates:     services.NewGateService(store, auditor, m, logger),
		Workflows: services.NewWorkflowService(store),
		AI:        executor,
		Auditor:   auditor,
		Logger:    logger,
	}

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.GET("/health", HandleHealth(map[string]Check{"store": store.Ping}))
	g := e.Group("/api/v1", withTestCaller)
	RegisterHandlers(g, s)
	return &harness{e: e, store: store, auditor: auditor}
}

func (h *harness) do(t *testing.T, method, path, tenant, body string, super ...bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tenant != "" {
		req.Header.Set("X-Test-Tenant", tenant)
	}
	if len(super) > 0 && super[0] {
		req.Header.Set("X-Test-Super", "true")
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (h *harness) seedRoute(t *testing.T, tenant string) {
	t.Helper()
	rec := h.do(t, http.MethodPut, "/api/v1/workflows", tenant, `{"workflow_id":"wf-onboard","name":"Onboard client","status":"active"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.do(t, http.MethodPost, "/api/v1/routes", tenant,
		`{"name":"won deals","source":"crm","workflow_id":"wf-onboard","match_predicate":{"event_types":["deal.closed_won"],"all":[{"field":"amount","op":"gte","value":1000}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

const wonDeal = `{"source":"crm","payload":{"event":"deal.closed_won","object":{"type":"deal","id":"D-1","properties":{"amount":5000}}}}`

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	status := decode[models.HealthStatus](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "ok", status.Checks["store"])

	e := echo.New()
	e.GET("/health", HandleHealth(map[string]Check{"redis": func(context.Context) error { return errors.New("dial tcp: refused") }}))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[models.HealthStatus](t, rec).Status)
}

func TestMissingCallerIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/v1/routes", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
}

func TestIngestTriggersAndDeduplicates(t *testing.T) {
	h := newHarness(t)
	h.seedRoute(t, "agency-1")

	rec := h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", wonDeal)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[models.IngestResult](t, rec)
	assert.False(t, first.IsDuplicate)
	assert.Equal(t, 1, first.MatchingRouteCount)
	require.Len(t, first.WorkflowsTriggered, 1)
	assert.Equal(t, models.SignalProcessed, first.Signal.Status)

	rec = h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", wonDeal)
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decode[models.IngestResult](t, rec)
	assert.True(t, dup.IsDuplicate)
	assert.Equal(t, first.Signal.ID, dup.Signal.ID)
	assert.Empty(t, dup.WorkflowsTriggered)

	rec = h.do(t, http.MethodGet, "/api/v1/signals/"+first.Signal.ID, "agency-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/api/v1/signals/"+first.Signal.ID, "agency-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/signals/"+first.Signal.ID+"/retry", "agency-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[models.IngestResult](t, rec).Signal.Attempts)
}

func TestIngestRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", `{"source":"fax","payload":{"a":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", `{"source":"crm","payload":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", `{"tenant_id":"agency-2","source":"crm","payload":{"event":"x"}}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouteErrors(t *testing.T) {
	h := newHarness(t)
	h.seedRoute(t, "agency-1")

	rec := h.do(t, http.MethodPost, "/api/v1/routes", "agency-1", `{"source":"fax","workflow_id":"wf-missing","match_predicate":{"all":[{"field":"x","op":"between"}]}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	problem := decode[models.ProblemDetails](t, rec)
	assert.GreaterOrEqual(t, len(problem.Violations), 3)

	routes := decode[[]models.SignalRoute](t, h.do(t, http.MethodGet, "/api/v1/routes", "agency-1", ""))
	require.Len(t, routes, 1)
	id := routes[0].ID

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/v1/routes/"+id, "agency-2", "").Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodDelete, "/api/v1/routes/"+id, "agency-2", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/routes/nope", "agency-1", "").Code)

	rec = h.do(t, http.MethodPut, "/api/v1/routes/"+id, "agency-1", `{"name":"renamed","source":"crm","workflow_id":"wf-onboard","enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[models.SignalRoute](t, rec).Enabled)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/routes/"+id, "agency-1", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/routes/"+id, "agency-1", "").Code)
}

func TestExecutionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedRoute(t, "agency-1")
	res := decode[models.IngestResult](t, h.do(t, http.MethodPost, "/api/v1/signals", "agency-1", wonDeal))
	require.Len(t, res.WorkflowsTriggered, 1)
	execID := res.WorkflowsTriggered[0].ID
	base := "/api/v1/executions/" + execID

	rec := h.do(t, http.MethodPost, base+"/events", "agency-1", `{"type":"step.completed","payload":{"step":"draft"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), decode[models.WorkflowEvent](t, rec).Sequence)

	rec = h.do(t, http.MethodPost, base+"/complete", "agency-1", `{"status":"succeeded"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.ExecutionSucceeded, decode[models.WorkflowExecution](t, rec).Status)

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, base+"/complete", "agency-1", `{"status":"failed"}`).Code)
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, base+"/events", "agency-1", `{"type":"late"}`).Code)

	events := decode[[]models.WorkflowEvent](t, h.do(t, http.MethodGet, base+"/events", "agency-1", ""))
	require.Len(t, events, 3)
	assert.Equal(t, models.EventExecutionStarted, events[0].Type)
	assert.Equal(t, models.EventExecutionFinished, events[2].Type)

	rec = h.do(t, http.MethodGet, base+"/lineage", "agency-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	lineage := decode[models.Lineage](t, rec)
	require.NotNil(t, lineage.Signal)
	assert.Equal(t, res.Signal.ID, lineage.Signal.ID)
	assert.Equal(t, "wf-onboard", lineage.Workflow.WorkflowID)

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, base+"/lineage", "agency-2", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/executions/missing/lineage", "agency-1", "").Code)
}

func TestGateDecisions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.CreateOpportunityArtifact(context.Background(), &models.OpportunityArtifact{ID: "opp-1", TenantID: "agency-1", Title: "Upsell"}))
	body := `{"gate_type":"client_review","decision":"approve","target_type":"opportunity_artifact","target_id":"opp-1","rationale":"fits budget"}`

	rec := h.do(t, http.MethodPost, "/api/v1/gates/decisions", "agency-1", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.DecisionApprove, decode[models.GateDecision](t, rec).Decision)

	rec = h.do(t, http.MethodPost, "/api/v1/gates/decisions", "agency-2", body)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied", decode[models.ProblemDetails](t, rec).Detail)

	rec = h.do(t, http.MethodPost, "/api/v1/gates/decisions", "agency-1", `{"decision":"maybe","target_type":"planet"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[models.ProblemDetails](t, rec).Violations)

	rec = h.do(t, http.MethodGet, "/api/v1/gates/decisions?target_type=opportunity_artifact&target_id=opp-1", "agency-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.GateDecision](t, rec), 1)

	rec = h.do(t, http.MethodGet, "/api/v1/gates/decisions?target_type=opportunity_artifact&target_id=opp-1&latest=true", "agency-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fits budget", decode[models.GateDecision](t, rec).Rationale)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/v1/gates/decisions", "agency-1", "").Code)
}

func TestAIEndpoints(t *testing.T) {
	h := newHarness(t)
	body := `{"model":"claude-sonnet-4-5","prompt":"Summarize the deal","schema":{"type":"object","required":["summary"]}}`

	rec := h.do(t, http.MethodPost, "/api/v1/ai/execute", "agency-1", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[ai.Result](t, rec)
	assert.False(t, first.Cached)
	assert.JSONEq(t, `{"summary":"ok"}`, string(first.Result))

	rec = h.do(t, http.MethodPost, "/api/v1/ai/execute", "agency-1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ai.Result](t, rec).Cached)

	rec = h.do(t, http.MethodPost, "/api/v1/ai/execute", "agency-1", `{"model":"claude-sonnet-4-5","prompt":"x","schema":{"type":"object","required":["headline"]}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/ai/execute", "agency-1", `{"model":"claude-sonnet-4-5"}`).Code)

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/v1/ai/cache", "agency-1", "").Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodDelete, "/api/v1/ai/cache", "agency-1", "").Code)

	rec = h.do(t, http.MethodGet, "/api/v1/ai/cache", "platform", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.CacheStats](t, rec).Size)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/ai/cache", "platform", "", true).Code)
	rec = h.do(t, http.MethodGet, "/api/v1/ai/cache", "platform", "", true)
	assert.Equal(t, 0, decode[models.CacheStats](t, rec).Size)

	h.auditor.mu.Lock()
	defer h.auditor.mu.Unlock()
	require.NotEmpty(t, h.auditor.events)
	last := h.auditor.events[len(h.auditor.events)-1]
	assert.Equal(t, "ai_cache", last.TargetType)
	assert.True(t, last.SuperOperator)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrAccessDenied, http.StatusForbidden},
		{services.ErrConflict, http.StatusConflict},
		{&services.ValidationError{Violations: []string{"name is required"}}, http.StatusBadRequest},
		{ai.ErrTransientFailure, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", services.ErrEngine, errors.New("engine timeout")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}
