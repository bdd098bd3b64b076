// Package outbox relays audit events from the Postgres outbox table to Kafka.
//
// Rows are fetched with FOR UPDATE SKIP LOCKED, published, and marked in the same
// transaction, so several relays can run side by side and a crash between publish
// and mark only causes redelivery.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"objectmap/internal/platform/kafka"
	auditpg "objectmap/pkg/platform/audit/store/postgres"
)

// Store is the outbox table.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	FetchPending(ctx context.Context, limit int) ([]auditpg.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher delivers records to the bus.
type Publisher interface {
	Publish(ctx context.Context, records ...kafka.Record) error
}

type Relay struct {
	store     Store
	publisher Publisher
	topic     string
	batchSize int
	interval  time.Duration
	breaker   *CircuitBreaker
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithBreaker(b *CircuitBreaker) Option {
	return func(r *Relay) { r.breaker = b }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewRelay(store Store, publisher Publisher, topic string, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		topic:     topic,
		batchSize: 100,
		interval:  time.Second,
		breaker:   NewCircuitBreaker(5, 30*time.Second),
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled. A full batch is followed immediately by
// another poll; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "outbox relay started", "topic", r.topic, "batch_size", r.batchSize)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "outbox relay batch failed", "error", err)
		}
		if n == r.batchSize && err == nil {
			timer.Reset(0)
		} else {
			timer.Reset(r.interval)
		}
	}
}

// RelayOnce publishes at most one batch and returns how many events were marked.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		if r.metrics != nil {
			r.metrics.CircuitOpenSkips.Inc()
		}
		return 0, nil
	}

	var published int
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.store.FetchPending(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		records := make([]kafka.Record, 0, len(entries))
		ids := make([]uuid.UUID, 0, len(entries))
		for _, e := range entries {
			records = append(records, kafka.Record{
				Topic: r.topic,
				Key:   []byte(e.Key),
				Value: e.Payload,
				Headers: map[string]string{
					"event_id":   e.ID.String(),
					"event_type": e.EventType,
				},
			})
			ids = append(ids, e.ID)
		}
		if err := r.publisher.Publish(ctx, records...); err != nil {
			r.recordFailure()
			return err
		}
		r.recordSuccess()
		if err := r.store.MarkPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		published = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 && r.metrics != nil {
		r.metrics.Published.Add(float64(published))
	}
	return published, nil
}

func (r *Relay) recordFailure() {
	opened := r.breaker.RecordFailure()
	if r.metrics != nil {
		r.metrics.PublishFailures.Inc()
		if opened {
			r.metrics.CircuitState.Set(1)
		}
	}
	if opened {
		r.logger.Warn("outbox relay circuit open, pausing publishes")
	}
}

func (r *Relay) recordSuccess() {
	r.breaker.RecordSuccess()
	if r.metrics != nil {
		r.metrics.CircuitState.Set(0)
	}
}
