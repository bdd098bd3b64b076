// Package ratelimit throttles registry endpoints per client IP with a sliding
// window. Privileged endpoints (population, freeze) get a tighter class than reads.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Class groups endpoints that share a limit.
type Class string

const (
	ClassRead       Class = "read"
	ClassPrivileged Class = "privileged"
)

// Limit is the number of requests allowed per window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result describes the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// Store counts requests per key.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// InMemoryStore is a single-process sliding window store.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*slidingWindow
	now     func() time.Time
}

// slidingWindow tracks request timestamps, oldest first.
type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{buckets: make(map[string]*slidingWindow), now: time.Now}
}

func (s *InMemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw := s.buckets[key]
	if sw == nil {
		sw = &slidingWindow{window: window}
		s.buckets[key] = sw
	}
	sw.cleanup(now)

	if len(sw.timestamps) < limit {
		sw.timestamps = append(sw.timestamps, now)
		return &Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(sw.timestamps),
			ResetAt:   sw.timestamps[0].Add(window),
		}, nil
	}

	resetAt := sw.timestamps[0].Add(window)
	return &Result{
		Allowed:    false,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}, nil
}

// cleanup drops timestamps that fell out of the window.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}

const bucketKeyPrefix = "objectmap:ratelimit:"

// RedisStore keeps one sorted set per key so limits hold across replicas.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	redisKey := bucketKeyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
		card = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return nil, err
	}

	resetAt := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.Unix(0, int64(zs[0].Score)).Add(window)
	}
	count := int(card.Val())
	if count <= limit {
		return &Result{Allowed: true, Limit: limit, Remaining: limit - count, ResetAt: resetAt}, nil
	}

	// Denied requests do not consume the window.
	if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return nil, err
	}
	return &Result{Allowed: false, Limit: limit, ResetAt: resetAt, RetryAfter: retryAfter(now, resetAt)}, nil
}

func retryAfter(now, resetAt time.Time) int {
	secs := int(resetAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}
