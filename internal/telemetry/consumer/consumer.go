// Package consumer reads domain events from Kafka and hands them to an EventEmitter.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"securepay/backend/internal/telemetry"
	"securepay/backend/internal/telemetry/domain"
)

// emitTimeout bounds a single relay of one event.
const emitTimeout = 10 * time.Second

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Kafka-backed Consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer relays events from a Kafka topic to an emitter. Offsets are committed after the emitter
// accepts the event; undecodable messages are logged and committed so they do not block the partition.
type Consumer struct {
	reader messageReader
	log    *zap.Logger
}

// New returns a Consumer reading cfg.Topic with consumer group cfg.GroupID.
func New(cfg Config, log *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("consumer: no brokers")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("consumer: topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	return newWithReader(reader, log), nil
}

func newWithReader(r messageReader, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{reader: r, log: log}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
// A message whose relay fails is not committed and will be redelivered after a restart or rebalance.
func (c *Consumer) Run(ctx context.Context, emitter telemetry.EventEmitter) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handle(ctx, emitter, msg); err != nil {
			c.log.Error("relay event failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.Warn("kafka commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, emitter telemetry.EventEmitter, msg kafka.Message) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.Type == "" {
		c.log.Warn("dropping malformed event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("key", msg.Key),
		)
		return nil
	}
	emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()
	if err := emitter.Emit(emitCtx, &event); err != nil {
		return err
	}
	c.log.Debug("event relayed", zap.String("event_id", event.ID), zap.String("event_type", event.Type))
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
