package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

type ingestCall struct {
	tenantID, source string
	payload          json.RawMessage
	clientID         *string
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []ingestCall
	errs  []error
}

func (f *fakeIngester) Ingest(ctx context.Context, tenantID, source string, payload json.RawMessage, clientID *string) (*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ingestCall{tenantID, source, payload, clientID})
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	res := &models.IngestResult{Signal: &models.Signal{ID: "sig-1"}}
	if err != nil && !errors.Is(err, services.ErrEngine) {
		return nil, err
	}
	return res, err
}

func newTestConsumer(r kafkaReader, ing Ingester) *Consumer {
	c := newConsumer(r, ing, logging.Nop())
	c.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func runUntilCommitted(t *testing.T, c *Consumer, r *fakeReader, n int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return len(r.commits()) == n }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Topic: "signals", GroupID: "g"}, &fakeIngester{}, logging.Nop())
	assert.Error(t, err)
	_, err = New(Config{Brokers: []string{" "}, Topic: "signals", GroupID: "g"}, &fakeIngester{}, logging.Nop())
	assert.Error(t, err)
	_, err = New(Config{Brokers: []string{"127.0.0.1:9092"}, GroupID: "g"}, &fakeIngester{}, logging.Nop())
	assert.Error(t, err)
	_, err = New(Config{Brokers: []string{"127.0.0.1:9092"}, Topic: "signals"}, &fakeIngester{}, logging.Nop())
	assert.Error(t, err)

	c, err := New(Config{Brokers: []string{"", "127.0.0.1:9092"}, Topic: "signals", GroupID: "g"}, &fakeIngester{}, logging.Nop())
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestRunIngestsAndCommits(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Key: []byte("agency-1"), Headers: []kafka.Header{{Key: HeaderSource, Value: []byte("crm")}}, Value: []byte(`{"event":"deal.closed_won"}`)},
		{Offset: 2, Headers: []kafka.Header{
			{Key: HeaderTenantID, Value: []byte("agency-2")},
			{Key: HeaderSource, Value: []byte("webhook:stripe")},
			{Key: HeaderClientID, Value: []byte("client-9")},
		}, Value: []byte(`{"type":"invoice.paid"}`)},
	}}
	ing := &fakeIngester{}
	runUntilCommitted(t, newTestConsumer(r, ing), r, 2)

	require.Len(t, ing.calls, 2)
	assert.Equal(t, "agency-1", ing.calls[0].tenantID)
	assert.Equal(t, "crm", ing.calls[0].source)
	assert.Nil(t, ing.calls[0].clientID)
	assert.Equal(t, "agency-2", ing.calls[1].tenantID)
	assert.Equal(t, "webhook:stripe", ing.calls[1].source)
	require.NotNil(t, ing.calls[1].clientID)
	assert.Equal(t, "client-9", *ing.calls[1].clientID)
	assert.JSONEq(t, `{"type":"invoice.paid"}`, string(ing.calls[1].payload))
}

func TestRunSkipsUnprocessableMessages(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"event":"x"}`)},
		{Offset: 2, Key: []byte("agency-1"), Headers: []kafka.Header{{Key: HeaderSource, Value: []byte("fax")}}, Value: []byte(`{}`)},
		{Offset: 3, Key: []byte("agency-1"), Headers: []kafka.Header{{Key: HeaderSource, Value: []byte("crm")}}, Value: []byte(`{"event":"a"}`)},
	}}
	ing := &fakeIngester{errs: []error{services.ErrUnsupportedSource, services.ErrEngine}}
	runUntilCommitted(t, newTestConsumer(r, ing), r, 3)

	assert.Equal(t, []int64{1, 2, 3}, r.commits())
	assert.Len(t, ing.calls, 2, "message without tenant never reaches ingest")
}

func TestRunRetriesStorageFailures(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Key: []byte("agency-1"), Headers: []kafka.Header{{Key: HeaderSource, Value: []byte("manual")}}, Value: []byte(`{"note":"x"}`)},
	}}
	down := errors.New("connection refused")
	ing := &fakeIngester{errs: []error{down, down}}
	runUntilCommitted(t, newTestConsumer(r, ing), r, 1)

	assert.Len(t, ing.calls, 3)
	assert.Equal(t, []int64{7}, r.commits())
}

func TestCloseNilConsumer(t *testing.T) {
	var c *Consumer
	assert.NoError(t, c.Close())
}
