package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"objectmap/internal/platform/kafka"
	auditpg "objectmap/pkg/platform/audit/store/postgres"
)

type fakeStore struct {
	mu        sync.Mutex
	pending   []auditpg.OutboxEntry
	published map[uuid.UUID]time.Time
	fetchErr  error
}

func (f *fakeStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(ctx)
}

func (f *fakeStore) FetchPending(_ context.Context, limit int) ([]auditpg.OutboxEntry, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []auditpg.OutboxEntry
	for _, e := range f.pending {
		if _, done := f.published[e.ID]; done {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	for _, id := range ids {
		f.published[id] = at
	}
	return nil
}

type fakePublisher struct {
	records []kafka.Record
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, records ...kafka.Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, records...)
	return nil
}

type RelaySuite struct {
	suite.Suite
	store     *fakeStore
	publisher *fakePublisher
	metrics   *Metrics
	ctx       context.Context
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.store = &fakeStore{published: map[uuid.UUID]time.Time{}}
	s.publisher = &fakePublisher{}
	s.metrics = NewMetricsWith(prometheus.NewRegistry())
	s.ctx = context.Background()
}

func (s *RelaySuite) seed(n int) {
	for i := range n {
		s.store.pending = append(s.store.pending, auditpg.OutboxEntry{
			ID:        uuid.New(),
			EventType: "entry_added",
			Key:       "registry",
			Payload:   []byte(`{"action":"entry_added"}`),
			CreatedAt: time.Unix(int64(i), 0),
		})
	}
}

func (s *RelaySuite) TestPublishesInBatches() {
	s.seed(5)
	relay := NewRelay(s.store, s.publisher, "objectmap.registry.events", WithBatchSize(3), WithMetrics(s.metrics))

	n, err := relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)

	n, err = relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, n)

	s.Len(s.publisher.records, 5)
	s.Len(s.store.published, 5)
	rec := s.publisher.records[0]
	s.Equal("objectmap.registry.events", rec.Topic)
	s.Equal("registry", string(rec.Key))
	s.Equal("entry_added", rec.Headers["event_type"])
	s.Equal(s.store.pending[0].ID.String(), rec.Headers["event_id"])
	s.Equal(float64(5), promtest.ToFloat64(s.metrics.Published))
}

func (s *RelaySuite) TestPublishFailureLeavesRowsPending() {
	s.seed(2)
	s.publisher.err = errors.New("broker unavailable")
	relay := NewRelay(s.store, s.publisher, "t", WithMetrics(s.metrics))

	_, err := relay.RelayOnce(s.ctx)
	s.Require().Error(err)
	s.Empty(s.store.published)
	s.Equal(float64(1), promtest.ToFloat64(s.metrics.PublishFailures))
}

func (s *RelaySuite) TestCircuitOpensAndSkips() {
	s.seed(1)
	s.publisher.err = errors.New("broker unavailable")
	breaker := NewCircuitBreaker(2, time.Hour)
	relay := NewRelay(s.store, s.publisher, "t", WithBreaker(breaker), WithMetrics(s.metrics))

	_, _ = relay.RelayOnce(s.ctx)
	_, _ = relay.RelayOnce(s.ctx)
	s.True(breaker.IsOpen())
	s.Equal(float64(1), promtest.ToFloat64(s.metrics.CircuitState))

	s.publisher.err = nil
	n, err := relay.RelayOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, n)
	s.Equal(float64(1), promtest.ToFloat64(s.metrics.CircuitOpenSkips))
}

func (s *RelaySuite) TestRunStopsOnCancel() {
	s.seed(1)
	relay := NewRelay(s.store, s.publisher, "t", WithInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	s.Eventually(func() bool {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		return len(s.store.published) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewCircuitBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.IsOpen() {
		t.Fatalf("expected closed after one failure")
	}
	if !b.RecordFailure() {
		t.Fatalf("expected open after threshold")
	}
	if b.Allow() {
		t.Fatalf("expected open circuit to refuse")
	}

	now = now.Add(2 * time.Minute)
	if !b.Allow() {
		t.Fatalf("expected half-open circuit to allow one attempt")
	}
	if !b.RecordFailure() {
		t.Fatalf("expected a half-open failure to reopen immediately")
	}

	now = now.Add(2 * time.Minute)
	b.Allow()
	b.RecordSuccess()
	if b.IsOpen() {
		t.Fatalf("expected success to close the circuit")
	}
}
