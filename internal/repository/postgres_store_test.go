package repository

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"signalflow/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations must be re-runnable")

	t.Run("concurrent duplicate inserts store one row", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		inserted := make(chan bool, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sig := &models.Signal{
					ID:        uuid.New().String(),
					TenantID:  "agency-1",
					Source:    "crm",
					Payload:   json.RawMessage(`{"event_type":"deal.updated","attributes":{}}`),
					DedupKey:  "same-key",
					Status:    models.SignalPending,
					CreatedAt: time.Now().UTC(),
				}
				_, ok, err := store.InsertSignalIfAbsent(ctx, sig)
				assert.NoError(t, err)
				inserted <- ok
			}()
		}
		wg.Wait()
		close(inserted)

		count := 0
		for ok := range inserted {
			if ok {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("signal update and lookup", func(t *testing.T) {
		sig := &models.Signal{
			ID:        uuid.New().String(),
			TenantID:  "agency-1",
			Source:    "manual",
			Payload:   json.RawMessage(`{"event_type":"manual.trigger","attributes":{"a":1}}`),
			DedupKey:  "k-" + uuid.NewString(),
			Status:    models.SignalPending,
			CreatedAt: time.Now().UTC(),
		}
		_, ok, err := store.InsertSignalIfAbsent(ctx, sig)
		require.NoError(t, err)
		require.True(t, ok)

		now := time.Now().UTC()
		sig.Status, sig.Attempts, sig.ProcessedAt = models.SignalProcessed, 1, &now
		require.NoError(t, store.UpdateSignal(ctx, sig))

		got, err := store.GetSignal(ctx, sig.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SignalProcessed, got.Status)
		assert.Equal(t, 1, got.Attempts)

		_, err = store.GetSignal(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("events are sequenced per execution", func(t *testing.T) {
		exec := &models.WorkflowExecution{
			ID: uuid.New().String(), TenantID: "agency-1", WorkflowID: "wf-1",
			Status: models.ExecutionRunning, StartedAt: time.Now().UTC(),
		}
		require.NoError(t, store.CreateExecution(ctx, exec))
		for _, typ := range []string{"a", "b", "c"} {
			require.NoError(t, store.AppendEvent(ctx, &models.WorkflowEvent{ExecutionID: exec.ID, Type: typ, OccurredAt: time.Now().UTC()}))
		}
		events, err := store.ListEvents(ctx, exec.ID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(1), events[0].Sequence)
		assert.Equal(t, "c", events[2].Type)
	})

	t.Run("created entities filter on tenant and execution", func(t *testing.T) {
		execID := uuid.New().String()
		require.NoError(t, store.CreateClient(ctx, &models.Client{ID: "c-" + execID, TenantID: "agency-1", Name: "Acme", WorkflowExecutionID: &execID, CreatedAt: time.Now().UTC()}))
		require.NoError(t, store.CreateClient(ctx, &models.Client{ID: "x-" + execID, TenantID: "agency-2", Name: "Other", WorkflowExecutionID: &execID, CreatedAt: time.Now().UTC()}))

		entities, err := store.ListCreatedEntities(ctx, "agency-1", execID)
		require.NoError(t, err)
		require.Len(t, entities, 1)
		assert.Equal(t, models.KindClient, entities[0].Kind)
	})
}
