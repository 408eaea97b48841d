package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/backend/internal/auth"
	"signalflow/backend/internal/config"
	"signalflow/backend/internal/logging"
	"signalflow/backend/pkg/models"
)

func devConfig() *config.Config {
	cfg := &config.Config{Environment: "DEV", DevModeBypass: true}
	cfg.Store.Driver = "memory"
	cfg.Cache.Backend = "memory"
	cfg.Workflow.Engine = "local"
	cfg.Audit.Sink = "log"
	cfg.Audit.BufferSize = 8
	return cfg
}

func TestBuildRejectsUnknownStore(t *testing.T) {
	cfg := devConfig()
	cfg.Store.Driver = "sqlite"
	_, err := build(context.Background(), cfg, logging.Nop())
	assert.ErrorContains(t, err, `unknown store driver "sqlite"`)
}

func TestServeWiring(t *testing.T) {
	ctx := context.Background()
	cfg := devConfig()
	logger := logging.Nop()

	a, err := build(ctx, cfg, logger)
	require.NoError(t, err)
	defer a.close()
	defer func() { _ = a.recorder.Close(ctx) }()
	assert.Contains(t, a.checks, "store")

	authz, err := auth.New(ctx, cfg, a.store, logger)
	require.NoError(t, err)
	e := newEcho(cfg, logger, a, authz)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := `{"source":"manual","payload":{"event_type":"kickoff","client":"acme"}}`
	for _, want := range []int{http.StatusCreated, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, rec.Body.String())
	}

	var res models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, models.SignalProcessed, res.Signal.Status)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
