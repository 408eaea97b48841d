package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"signalflow/backend/internal/cache"
	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/metrics"
	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"
)

// Request is one executeWithSchema call.
type Request struct {
	Model               string          `json:"model"`
	Prompt              string          `json:"prompt"`
	Schema              json.RawMessage `json:"schema"`
	TenantID            string          `json:"tenant_id,omitempty"`
	WorkflowExecutionID string          `json:"workflow_execution_id,omitempty"`
}

// Result is a schema-valid response.
type Result struct {
	Result      json.RawMessage `json:"result"`
	Cached      bool            `json:"cached"`
	ExecutionID string          `json:"execution_id"`
	DurationMs  int64           `json:"duration_ms"`
	Attempts    int             `json:"attempts"`
}

// Options tune the executor.
type Options struct {
	AttemptTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CacheTTL       time.Duration
	RatePerSecond  float64
	Burst          int
}

func (o Options) withDefaults() Options {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 8 * time.Second
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// Executor is the hardened call layer in front of a Provider.
type Executor struct {
	provider Provider
	cache    cache.Cache
	store    repository.AIExecutionStore
	limiter  *rate.Limiter
	group    singleflight.Group
	schemas  sync.Map // canonical schema -> *jsonschema.Schema
	opts     Options
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewExecutor creates an Executor. A zero RatePerSecond disables limiting.
func NewExecutor(provider Provider, c cache.Cache, store repository.AIExecutionStore, opts Options, m *metrics.Metrics, logger *logging.Logger) *Executor {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Executor{
		provider: provider,
		cache:    c,
		store:    store,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		opts:     opts,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("signalflow/backend/internal/ai"),
	}
}

// Fingerprint identifies a request for caching: model, canonical schema and
// the prompt with whitespace runs collapsed.
func Fingerprint(model string, schema json.RawMessage, prompt string) (string, error) {
	canonical, err := models.CanonicalizeJSON(schema)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write(canonical)
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(strings.Fields(prompt), " ")))
	return hex.EncodeToString(h.Sum(nil)), nil
}

type outcome struct {
	result       json.RawMessage
	attempts     int
	inputTokens  int64
	outputTokens int64
}

// Execute returns a schema-valid response for req, from cache when possible.
// Concurrent identical misses share one provider call. Every invocation is
// recorded as an AIExecution.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	schema, fingerprint, err := e.prepare(req)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "ai.Execute", trace.WithAttributes(
		attribute.String("ai.model", req.Model),
		attribute.String("ai.fingerprint", fingerprint),
	))
	defer span.End()

	if cached, err := e.cache.Get(ctx, fingerprint); err == nil {
		e.metrics.AICache(ctx, req.Model, true)
		span.SetAttributes(attribute.Bool("ai.cached", true))
		rec := e.record(ctx, req, fingerprint, true, start, &outcome{result: cached}, nil)
		return &Result{Result: cached, Cached: true, ExecutionID: rec.ID, DurationMs: rec.DurationMs}, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		e.logger.Warn("ai cache read failed, treating as miss", "fingerprint", fingerprint, "error", err)
	}
	e.metrics.AICache(ctx, req.Model, false)

	// The shared call outlives any single caller so that one cancelled
	// request does not fail the others collapsed onto it.
	leader := false
	shared := e.group.DoChan(fingerprint, func() (interface{}, error) {
		leader = true
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.callBudget())
		defer cancel()
		return e.call(callCtx, req, schema, fingerprint)
	})

	var (
		out    *outcome
		cached bool
	)
	select {
	case r := <-shared:
		out, _ = r.Val.(*outcome)
		err = r.Err
		if !leader && out != nil {
			// collapsed onto another caller's provider call
			out = &outcome{result: out.result}
			cached = err == nil
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	rec := e.record(ctx, req, fingerprint, cached, start, out, err)
	span.SetAttributes(attribute.Bool("ai.cached", rec.Cached), attribute.Int("ai.attempts", rec.Attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Result{
		Result:      out.result,
		Cached:      rec.Cached,
		ExecutionID: rec.ID,
		DurationMs:  rec.DurationMs,
		Attempts:    out.attempts,
	}, nil
}

func (e *Executor) prepare(req Request) (*jsonschema.Schema, string, error) {
	if strings.TrimSpace(req.Model) == "" || strings.TrimSpace(req.Prompt) == "" {
		return nil, "", fmt.Errorf("%w: model and prompt are required", ErrInvalidRequest)
	}
	if len(req.Schema) == 0 {
		return nil, "", fmt.Errorf("%w: schema is required", ErrInvalidRequest)
	}
	canonical, err := models.CanonicalizeJSON(req.Schema)
	if err != nil {
		return nil, "", fmt.Errorf("%w: schema is not valid JSON", ErrInvalidRequest)
	}
	schema, err := e.compile(string(canonical))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	fingerprint, err := Fingerprint(req.Model, req.Schema, req.Prompt)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return schema, fingerprint, nil
}

func (e *Executor) compile(canonical string) (*jsonschema.Schema, error) {
	if s, ok := e.schemas.Load(canonical); ok {
		return s.(*jsonschema.Schema), nil
	}
	s, err := jsonschema.CompileString("inline://response.schema.json", canonical)
	if err != nil {
		return nil, err
	}
	e.schemas.Store(canonical, s)
	return s, nil
}

func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialBackoff
	b.MaxInterval = e.opts.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxAttempts-1)), ctx)
}

// callBudget bounds one shared provider call: every attempt plus the waits
// between them.
func (e *Executor) callBudget() time.Duration {
	n := time.Duration(e.opts.MaxAttempts)
	return n*e.opts.AttemptTimeout + (n-1)*e.opts.MaxBackoff
}

// call runs the provider with per-attempt timeouts and bounded retries, then
// validates and caches the response.
func (e *Executor) call(ctx context.Context, req Request, schema *jsonschema.Schema, fingerprint string) (*outcome, error) {
	out := &outcome{}
	operation := func() error {
		out.attempts++
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
		defer cancel()
		resp, err := e.provider.Generate(attemptCtx, ProviderRequest{Model: req.Model, Prompt: req.Prompt, Schema: req.Schema})
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, ErrTransientFailure) {
				return err
			}
			if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return transient(fmt.Errorf("attempt timed out after %s: %w", e.opts.AttemptTimeout, err))
			}
			return backoff.Permanent(err)
		}
		out.inputTokens += resp.InputTokens
		out.outputTokens += resp.OutputTokens

		result, err := validate(schema, resp.Text)
		if err != nil {
			return backoff.Permanent(err)
		}
		out.result = result
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.metrics.AIRetry(ctx, req.Model)
		e.logger.Warn("ai provider call failed, retrying", "model", req.Model, "attempt", out.attempts, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, e.newBackOff(ctx), notify); err != nil {
		return out, err
	}

	if err := e.cache.Set(ctx, fingerprint, out.result, e.opts.CacheTTL); err != nil {
		e.logger.Warn("ai cache write failed", "fingerprint", fingerprint, "error", err)
	}
	return out, nil
}

// validate extracts the JSON document from a provider response and checks it
// against schema.
func validate(schema *jsonschema.Schema, text string) (json.RawMessage, error) {
	raw := strings.TrimSpace(text)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}
	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: response is not JSON: %v", ErrSchemaValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return json.RawMessage(raw), nil
}

func (e *Executor) record(ctx context.Context, req Request, fingerprint string, cached bool, start time.Time, out *outcome, callErr error) *models.AIExecution {
	rec := &models.AIExecution{
		ID:                  uuid.New().String(),
		TenantID:            req.TenantID,
		WorkflowExecutionID: req.WorkflowExecutionID,
		Model:               req.Model,
		Fingerprint:         fingerprint,
		Cached:              cached,
		Status:              models.AIExecutionSucceeded,
		DurationMs:          time.Since(start).Milliseconds(),
		CreatedAt:           time.Now().UTC(),
	}
	if out != nil {
		rec.Attempts = out.attempts
		rec.InputTokens = out.inputTokens
		rec.OutputTokens = out.outputTokens
	}
	if callErr != nil {
		rec.Status = models.AIExecutionFailed
		rec.Error = callErr.Error()
	}
	if err := e.store.CreateAIExecution(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Error("failed to record ai execution", "fingerprint", fingerprint, "error", err)
	}
	return rec
}

// CacheStats reports the size and keys of the response cache.
func (e *Executor) CacheStats(ctx context.Context) (models.CacheStats, error) {
	keys, err := e.cache.Keys(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	return models.CacheStats{Size: len(keys), Keys: keys}, nil
}

// ClearCache drops every cached response.
func (e *Executor) ClearCache(ctx context.Context) error {
	return e.cache.Clear(ctx)
}
