package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"objectmap/internal/authority"
	"objectmap/internal/collection"
	"objectmap/internal/platform/config"
	"objectmap/internal/platform/httpserver"
	"objectmap/internal/platform/kafka"
	"objectmap/internal/platform/logger"
	platformmetrics "objectmap/internal/platform/metrics"
	"objectmap/internal/platform/postgres"
	"objectmap/internal/ratelimit"
	platformredis "objectmap/internal/platform/redis"
	"objectmap/internal/registry/cache"
	"objectmap/internal/registry/handler"
	registrymetrics "objectmap/internal/registry/metrics"
	"objectmap/internal/registry/models"
	regservice "objectmap/internal/registry/service"
	"objectmap/internal/registry/snapshot"
	"objectmap/internal/registry/store"
	audit "objectmap/pkg/platform/audit"
	"objectmap/pkg/platform/audit/outbox"
	"objectmap/pkg/platform/audit/publishers/compliance"
	auditmemory "objectmap/pkg/platform/audit/store/memory"
	auditpg "objectmap/pkg/platform/audit/store/postgres"
)

var version = "dev"

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal/registry.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.Format == "json",
		Service: "objectmap",
		Version: version,
	})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("objectmap stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	platformmetrics.New().RecordStartup(version, cfg.Environment, time.Now())

	sizes, err := collection.NewStatic(cfg.Registry.CollectionSize)
	if err != nil {
		return err
	}
	capabilities := authority.NewCapabilities(cfg.Registry.CapabilitySigningKey, cfg.Registry.CapabilityIssuer, cfg.Registry.CapabilityID)
	pipeline := authority.NewPipelineKeys(cfg.Registry.PipelineKeyHash)
	checks := map[string]httpserver.HealthCheck{}

	var (
		registryStore regservice.Store
		auditStore    audit.Store
		outboxStore   *auditpg.Store
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		registryStore = store.NewPostgres(db)
		outboxStore = auditpg.New(db)
		auditStore = outboxStore
		checks["postgres"] = func(ctx context.Context) error { return postgres.Health(ctx, db) }
		log.Info("using postgres store", "driver", cfg.Database.Driver)
	} else {
		registryStore = store.NewInMemory()
		auditStore = auditmemory.NewInMemoryStore()
		log.Warn("DATABASE_URL not set, registry state is kept in memory only")
	}

	publisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	defer publisher.Close()

	opts := []regservice.Option{
		regservice.WithLogger(log),
		regservice.WithAuditPublisher(publisher),
		regservice.WithMetrics(registrymetrics.New()),
	}

	var limitStore ratelimit.Store = ratelimit.NewInMemoryStore()
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, regservice.WithCache(cache.NewRedis(redisClient.Client, cache.WithTTL(cfg.Redis.CacheTTL))))
		limitStore = ratelimit.NewRedisStore(redisClient.Client)
		checks["redis"] = redisClient.Health
	}
	limiter := ratelimit.New(limitStore, log,
		ratelimit.WithDisabled(cfg.RateLimit.Disabled),
		ratelimit.WithLimit(ratelimit.ClassRead, ratelimit.Limit{Requests: cfg.RateLimit.Read, Window: cfg.RateLimit.Window}),
		ratelimit.WithLimit(ratelimit.ClassPrivileged, ratelimit.Limit{Requests: cfg.RateLimit.Privileged, Window: cfg.RateLimit.Window}),
	)

	// The exporter reads from the service, so it is attached after construction.
	var exporter *snapshot.Exporter
	opts = append(opts, regservice.WithFrozenListener(regservice.FrozenListenerFunc(
		func(ctx context.Context, reg *models.Registry) {
			if exporter != nil {
				go exporter.RegistryFrozen(ctx, reg)
			}
		})))

	svc := regservice.New(registryStore, sizes, capabilities, opts...)

	if cfg.Snapshot.Target != "" {
		sink, err := snapshot.NewSink(cfg.Snapshot, log)
		if err != nil {
			return err
		}
		exporter = snapshot.NewExporter(svc, sink,
			snapshot.WithLogger(log),
			snapshot.WithAuditPublisher(publisher),
		)
	}

	reg, err := svc.Bootstrap(ctx, cfg.Registry.Owner)
	if err != nil {
		return err
	}
	log.Info("registry ready", "size", reg.Size, "count", reg.Count, "phase", reg.Phase())

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			return err
		}
		relay := outbox.NewRelay(outboxStore, producer, cfg.Kafka.Topic,
			outbox.WithLogger(log),
			outbox.WithMetrics(outbox.NewMetrics()),
			outbox.WithBatchSize(cfg.Kafka.BatchSize),
			outbox.WithInterval(cfg.Kafka.PollInterval),
		)
		checks["kafka"] = producer.Ping
		g.Go(func() error { return relay.Run(gctx) })
	}

	srv := httpserver.New(httpserver.Config{
		ListenAddr:      cfg.Addr,
		Log:             log,
		DrainDuration:   cfg.DrainDuration,
		ShutdownTimeout: cfg.ShutdownTimeout,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		Checks:          checks,
	}, func(r chi.Router) {
		handler.New(svc, pipeline, log, handler.WithLimiter(limiter)).Register(r)
	})
	g.Go(func() error { return srv.Run(gctx) })

	return g.Wait()
}
