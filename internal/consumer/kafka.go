// Package consumer feeds signals published to Kafka into the ingest pipeline.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"signalflow/backend/internal/logging"
	"signalflow/backend/internal/services"
	"signalflow/backend/pkg/models"
)

// Message headers carrying ingest metadata. The tenant may also be sent as
// the message key.
const (
	HeaderTenantID = "tenant_id"
	HeaderSource   = "source"
	HeaderClientID = "client_id"
)

// Ingester is the part of the signal service the consumer drives.
type Ingester interface {
	Ingest(ctx context.Context, tenantID, source string, payload json.RawMessage, clientID *string) (*models.IngestResult, error)
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config selects the brokers, topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads signal messages and ingests them. Offsets are committed
// only once a message has been ingested or rejected as malformed, so a
// crash redelivers and dedup absorbs the repeat.
type Consumer struct {
	reader   kafkaReader
	ingester Ingester
	logger   *logging.Logger
	backoff  func() backoff.BackOff
}

// New creates a Consumer for cfg.
func New(cfg Config, ingester Ingester, logger *logging.Logger) (*Consumer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("kafka group id required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return newConsumer(r, ingester, logger), nil
}

func newConsumer(r kafkaReader, ingester Ingester, logger *logging.Logger) *Consumer {
	return &Consumer{
		reader:   r,
		ingester: ingester,
		logger:   logger,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("signal consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("signal consumer stopped")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

// handle ingests one message. Malformed messages are logged and skipped;
// storage failures are retried until ctx ends.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	tenantID, source, clientID := metadata(msg)
	log := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "tenant_id", tenantID, "source", source)
	if tenantID == "" || source == "" {
		log.Warn("dropping signal message without tenant or source")
		return nil
	}

	op := func() error {
		res, err := c.ingester.Ingest(ctx, tenantID, source, json.RawMessage(msg.Value), clientID)
		switch {
		case err == nil:
			log.Debug("signal ingested", "signal_id", res.Signal.ID, "duplicate", res.IsDuplicate, "triggered", len(res.WorkflowsTriggered))
			return nil
		case errors.Is(err, services.ErrUnsupportedSource), errors.Is(err, services.ErrInvalidPayload), errors.Is(err, services.ErrForbidden):
			log.Warn("dropping unprocessable signal message", "error", err)
			return nil
		case errors.Is(err, services.ErrEngine):
			// stored as failed; retried through the API
			if res != nil && res.Signal != nil {
				log = log.With("signal_id", res.Signal.ID)
			}
			log.Error("signal stored but triggering failed", "error", err)
			return nil
		default:
			return err
		}
	}
	notify := func(err error, wait time.Duration) {
		log.Error("signal ingest failed, retrying", "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.backoff(), ctx), notify)
}

func metadata(msg kafka.Message) (tenantID, source string, clientID *string) {
	tenantID = string(msg.Key)
	for _, h := range msg.Headers {
		v := strings.TrimSpace(string(h.Value))
		switch h.Key {
		case HeaderTenantID:
			tenantID = v
		case HeaderSource:
			source = v
		case HeaderClientID:
			if v != "" {
				clientID = &v
			}
		}
	}
	return strings.TrimSpace(tenantID), source, clientID
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
