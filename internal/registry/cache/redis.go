// Package cache holds frozen registry entries in Redis.
//
// Only frozen entries are ever written, and frozen entries never change, so the
// cache needs no invalidation. The TTL only bounds memory.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"objectmap/internal/registry/models"
)

var (
	lookupDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "objectmap_cache_lookup_duration_ms",
		Help:    "Latency of frozen entry cache reads in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	})
)

const entryKeyPrefix = "objectmap:entry:"

// Redis is a read-through cache for frozen entries.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Option configures a Redis cache.
type Option func(*Redis)

// WithTTL sets the key lifetime; zero keeps keys forever.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithPrefix namespaces keys, for sharing one Redis between registries.
func WithPrefix(prefix string) Option {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

func NewRedis(client *redis.Client, opts ...Option) *Redis {
	r := &Redis{client: client, prefix: entryKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) key(number models.Number) string {
	return r.prefix + strconv.FormatUint(uint64(number), 10)
}

// Get returns the cached object id, or ok=false on a miss.
func (r *Redis) Get(ctx context.Context, number models.Number) (models.ObjectID, bool, error) {
	start := time.Now()
	defer func() {
		lookupDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	raw, err := r.client.Get(ctx, r.key(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ObjectID{}, false, nil
	}
	if err != nil {
		return models.ObjectID{}, false, err
	}
	id, err := models.ObjectIDFromBytes(raw)
	if err != nil {
		// Corrupt value: treat as a miss so the store answers.
		return models.ObjectID{}, false, nil
	}
	return id, true, nil
}

// Set stores a frozen entry.
func (r *Redis) Set(ctx context.Context, number models.Number, id models.ObjectID) error {
	return r.client.Set(ctx, r.key(number), id.Bytes(), r.ttl).Err()
}

// Warm writes entries in one pipeline round trip.
func (r *Redis) Warm(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range entries {
			p.Set(ctx, r.key(e.Number), e.ObjectID.Bytes(), r.ttl)
		}
		return nil
	})
	return err
}
