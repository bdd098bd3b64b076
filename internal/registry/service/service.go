// Package service implements the registry's lifecycle: population by the trusted
// pipeline, a capability-gated freeze, and lookups once frozen.
//
// Every write runs as one critical section inside Store.RunInTx: the registry
// state is locked, checked, mutated and audited before the transaction commits.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.uber.org/atomic"

	registrymetrics "objectmap/internal/registry/metrics"
	"objectmap/internal/registry/models"
	"objectmap/internal/registry/store"
	audit "objectmap/pkg/platform/audit"
)

var tracer = otel.Tracer("objectmap/internal/registry/service")

// Store persists the registry. RunInTx gives exclusive, all-or-nothing write access.
type Store interface {
	Init(ctx context.Context, reg *models.Registry) error
	LoadState(ctx context.Context) (*models.Registry, error)
	FindEntry(ctx context.Context, number models.Number) (*models.Entry, error)
	ListEntries(ctx context.Context, from models.Number, limit int) ([]models.Entry, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.TxStore) error) error
}

// SizeOracle reports the member count N of the bound collection.
type SizeOracle interface {
	Size() int
}

// Authority verifies that caller presents the registry's freeze capability.
type Authority interface {
	Verify(ctx context.Context, capability, caller string) error
}

// AuditPublisher records lifecycle events. Emit runs inside the write transaction.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Cache holds frozen entries. Only frozen data is ever written to it.
type Cache interface {
	Get(ctx context.Context, number models.Number) (models.ObjectID, bool, error)
	Set(ctx context.Context, number models.Number, id models.ObjectID) error
	Warm(ctx context.Context, entries []models.Entry) error
}

// FrozenListener is notified once, after the freeze has committed.
type FrozenListener interface {
	RegistryFrozen(ctx context.Context, reg *models.Registry)
}

// FrozenListenerFunc adapts a function to FrozenListener.
type FrozenListenerFunc func(ctx context.Context, reg *models.Registry)

func (f FrozenListenerFunc) RegistryFrozen(ctx context.Context, reg *models.Registry) {
	f(ctx, reg)
}

// Service orchestrates the registry lifecycle.
type Service struct {
	store     Store
	sizes     SizeOracle
	authority Authority

	logger         *slog.Logger
	auditPublisher AuditPublisher
	cache          Cache
	metrics        *registrymetrics.Metrics
	listeners      []FrozenListener

	// frozen latches the registry once it has been observed frozen. Frozen is
	// terminal, so later reads skip the store's state lock.
	frozen atomic.Pointer[models.Registry]
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithCache(cache Cache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithFrozenListener(l FrozenListener) Option {
	return func(s *Service) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// New constructs a Service.
func New(st Store, sizes SizeOracle, authority Authority, opts ...Option) *Service {
	s := &Service{store: st, sizes: sizes, authority: authority}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}
