package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNopProviderRecords(t *testing.T) {
	m, err := NewWithProvider(noop.NewMeterProvider())
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.SignalIngested(ctx, "crm", false)
		m.SignalIngested(ctx, "crm", true)
		m.WorkflowsTriggered(ctx, 2)
		m.GateDecision(ctx, "initiative", 403)
		m.AICache(ctx, "claude-sonnet-4-5", true)
		m.AIRetry(ctx, "claude-sonnet-4-5")
	})
}
