// Package metrics holds the OpenTelemetry instruments shared by the service
// layer. Without a configured MeterProvider the global no-op provider is used.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "signalflow/backend"

// Metrics groups the counters recorded by signal intake, routing, gates and
// the AI layer.
type Metrics struct {
	signalsIngested    metric.Int64Counter
	signalsDuplicate   metric.Int64Counter
	workflowsTriggered metric.Int64Counter
	gateDecisions      metric.Int64Counter
	aiCacheHits        metric.Int64Counter
	aiCacheMisses      metric.Int64Counter
	aiRetries          metric.Int64Counter
}

// New creates the instruments on the global meter provider.
func New() (*Metrics, error) {
	return NewWithProvider(otel.GetMeterProvider())
}

// NewWithProvider creates the instruments on mp.
func NewWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error
	if m.signalsIngested, err = meter.Int64Counter("signals.ingested", metric.WithDescription("Signals accepted by intake")); err != nil {
		return nil, err
	}
	if m.signalsDuplicate, err = meter.Int64Counter("signals.duplicate", metric.WithDescription("Signals rejected as duplicates")); err != nil {
		return nil, err
	}
	if m.workflowsTriggered, err = meter.Int64Counter("workflows.triggered", metric.WithDescription("Workflow executions started by routes")); err != nil {
		return nil, err
	}
	if m.gateDecisions, err = meter.Int64Counter("gates.decisions", metric.WithDescription("Gate decisions by outcome")); err != nil {
		return nil, err
	}
	if m.aiCacheHits, err = meter.Int64Counter("ai.cache.hits"); err != nil {
		return nil, err
	}
	if m.aiCacheMisses, err = meter.Int64Counter("ai.cache.misses"); err != nil {
		return nil, err
	}
	if m.aiRetries, err = meter.Int64Counter("ai.retries", metric.WithDescription("Provider call retries after transient failures")); err != nil {
		return nil, err
	}
	return m, nil
}

// Nop returns instruments bound to the global provider, ignoring errors.
// The no-op provider never fails.
func Nop() *Metrics {
	m, _ := New()
	return m
}

func (m *Metrics) SignalIngested(ctx context.Context, source string, duplicate bool) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	if duplicate {
		m.signalsDuplicate.Add(ctx, 1, attrs)
		return
	}
	m.signalsIngested.Add(ctx, 1, attrs)
}

func (m *Metrics) WorkflowsTriggered(ctx context.Context, n int) {
	if n > 0 {
		m.workflowsTriggered.Add(ctx, int64(n))
	}
}

// GateDecision counts a gate outcome; status is the HTTP-style result code.
func (m *Metrics) GateDecision(ctx context.Context, targetType string, status int) {
	m.gateDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_type", targetType),
		attribute.Int("status", status),
	))
}

func (m *Metrics) AICache(ctx context.Context, model string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if hit {
		m.aiCacheHits.Add(ctx, 1, attrs)
		return
	}
	m.aiCacheMisses.Add(ctx, 1, attrs)
}

func (m *Metrics) AIRetry(ctx context.Context, model string) {
	m.aiRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}
