//go:build integration

package outbox_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"objectmap/internal/platform/kafka"
	"objectmap/internal/platform/kafka/consumer"
	audit "objectmap/pkg/platform/audit"
	auditconsumer "objectmap/pkg/platform/audit/consumer"
	"objectmap/pkg/platform/audit/outbox"
	"objectmap/pkg/platform/audit/store/memory"
	auditpg "objectmap/pkg/platform/audit/store/postgres"
	"objectmap/pkg/testutil/containers"
)

type RelayIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	store    *auditpg.Store
	producer *kafka.Producer
	topic    string
}

func TestRelayIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelayIntegrationSuite))
}

func (s *RelayIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.store = auditpg.New(s.postgres.DB)

	producer, err := kafka.NewProducer([]string{s.redpanda.Broker}, slog.New(slog.DiscardHandler))
	s.Require().NoError(err)
	s.producer = producer
}

func (s *RelayIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *RelayIntegrationSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_outbox"))
	s.topic = "objectmap.test." + uuid.NewString()[:8]
	s.Require().NoError(s.producer.EnsureTopic(context.Background(), s.topic, 1, 1))
}

func (s *RelayIntegrationSuite) TestEnsureTopicIsIdempotent() {
	s.NoError(s.producer.EnsureTopic(context.Background(), s.topic, 1, 1))
}

func (s *RelayIntegrationSuite) TestOutboxReachesConsumer() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Append(ctx, audit.Event{Timestamp: now, Subject: "registry", Action: string(audit.EventEntryAdded), Number: 1}); err != nil {
			return err
		}
		return s.store.Append(ctx, audit.Event{Timestamp: now, Subject: "registry", Action: string(audit.EventRegistryInitialized)})
	}))

	relay := outbox.NewRelay(s.store, s.producer, s.topic)
	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(0, n, "published rows are not relayed twice")

	sink := memory.NewInMemoryStore()
	router := auditconsumer.NewRouter(slog.New(slog.DiscardHandler), nil)
	router.Register(s.topic, auditconsumer.NewEventHandler(sink, slog.New(slog.DiscardHandler)))

	c, err := consumer.New(consumer.Config{
		Brokers:   []string{s.redpanda.Broker},
		Group:     "objectmap-test-" + uuid.NewString()[:8],
		Topics:    []string{s.topic},
		FromStart: true,
	}, nil)
	s.Require().NoError(err)
	defer c.Close()

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	go func() { _ = c.Run(runCtx, router) }()

	s.Eventually(func() bool {
		events, _ := sink.ListAll(ctx)
		return len(events) == 2
	}, 30*time.Second, 100*time.Millisecond)

	added, err := sink.ListByAction(ctx, audit.EventEntryAdded)
	s.Require().NoError(err)
	s.Require().Len(added, 1)
	s.Equal(uint32(1), added[0].Number)
	s.Equal(audit.CategoryOperations, added[0].Category)

	initialized, err := sink.ListByAction(ctx, audit.EventRegistryInitialized)
	s.Require().NoError(err)
	s.Require().Len(initialized, 1)
	s.Equal(audit.CategoryCompliance, initialized[0].Category)
}
