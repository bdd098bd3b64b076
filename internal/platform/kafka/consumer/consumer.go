// Package consumer reads registry events from Kafka with at-least-once delivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one message. Returning an error stops the consumer before the
// offset is committed, so the message is redelivered.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

type Config struct {
	Brokers []string
	Group   string
	Topics  []string
	// FromStart consumes from the earliest offset when the group has none.
	FromStart bool
}

// Consumer polls a consumer group and commits after each handled batch.
type Consumer struct {
	client *kgo.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger, opts ...kgo.Opt) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("consumer: brokers, group and topics are required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	}
	if cfg.FromStart {
		base = append(base, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("consumer: create client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{client: client, logger: logger}, nil
}

// Run consumes until ctx is cancelled or handler fails.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		for _, fe := range fetches.Errors() {
			c.logger.WarnContext(ctx, "fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		var handled []*kgo.Record
		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			if err := handler.Handle(ctx, toMessage(r)); err != nil {
				handleErr = fmt.Errorf("handle %s/%d@%d: %w", r.Topic, r.Partition, r.Offset, err)
				return
			}
			handled = append(handled, r)
		})
		if len(handled) > 0 {
			if err := c.client.CommitRecords(ctx, handled...); err != nil {
				c.logger.ErrorContext(ctx, "commit failed", "error", err)
			}
		}
		if handleErr != nil {
			return handleErr
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}

func toMessage(r *kgo.Record) *Message {
	msg := &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
	if len(r.Headers) > 0 {
		msg.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
