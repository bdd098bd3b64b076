// Package kafka connects to the event bus the registry publishes lifecycle events to.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Record is a message to publish.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer publishes records synchronously with all-ISR acknowledgement.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer connects to brokers. The connection is lazy; Ping verifies it.
func NewProducer(brokers []string, logger *slog.Logger, opts ...kgo.Opt) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("objectmap"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Publish sends records and waits for every acknowledgement. The first failure is returned.
func (p *Producer) Publish(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	krs := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		kr := &kgo.Record{Topic: r.Topic, Key: r.Key, Value: r.Value}
		for k, v := range r.Headers {
			kr.Headers = append(kr.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
		krs = append(krs, kr)
	}
	if err := p.client.ProduceSync(ctx, krs...).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce: %w", err)
	}
	return nil
}

// EnsureTopic creates topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, topic string, partitions int32, replication int16) error {
	return EnsureTopic(ctx, p.client, topic, partitions, replication, p.logger)
}

// Ping checks that at least one broker is reachable.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}

// EnsureTopic creates topic with the given layout, treating "already exists" as success.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16, logger *slog.Logger) error {
	adm := kadm.NewClient(client)
	_, err := adm.CreateTopic(ctx, partitions, replication, nil, topic)
	switch {
	case err == nil:
		if logger != nil {
			logger.InfoContext(ctx, "kafka topic created",
				"topic", topic,
				"partitions", partitions,
				"replication", replication,
			)
		}
		return nil
	case errors.Is(err, kerr.TopicAlreadyExists):
		return nil
	default:
		return fmt.Errorf("kafka: create topic %s: %w", topic, err)
	}
}
