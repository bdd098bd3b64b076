package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	Log         LogConfig
	Registry    RegistryConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Snapshot    SnapshotConfig
	RateLimit   RateLimitConfig

	DrainDuration   time.Duration
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// RegistryConfig holds the collection binding and the two credentials that gate writes.
type RegistryConfig struct {
	CollectionSize int
	// Owner is recorded as the mutable owner until the registry is frozen.
	Owner string
	// PipelineKeyHash is the bcrypt hash of the population pipeline key.
	PipelineKeyHash string
	// CapabilitySigningKey signs and verifies freeze capabilities.
	CapabilitySigningKey string
	CapabilityIssuer     string
	// CapabilityID is the jti of the single valid freeze capability.
	CapabilityID string
}

// DatabaseConfig selects Postgres persistence when URL is set; otherwise memory.
type DatabaseConfig struct {
	URL             string
	Driver          string // "postgres" (lib/pq) or "pgx"
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the frozen lookup cache when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig enables the outbox relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Partitions   int32
	Replication  int16
	PollInterval time.Duration
	BatchSize    int
}

// SnapshotConfig sets where the frozen mapping is published after freeze.
// Target is a file path, an s3://bucket/key URL, or empty to disable.
type SnapshotConfig struct {
	Target      string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// RateLimitConfig caps requests per client IP and window. Zero disables a class.
type RateLimitConfig struct {
	Disabled   bool
	Read       int
	Privileged int
	Window     time.Duration
}

// DefaultCacheTTL bounds how long frozen entries stay in Redis. Frozen data never
// changes, so this only limits memory.
const DefaultCacheTTL = 24 * time.Hour

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        getEnv("OBJECTMAP_ADDR", ":8080"),
		Environment: getEnv("OBJECTMAP_ENV", "dev"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Registry: RegistryConfig{
			CollectionSize:       getInt("COLLECTION_SIZE", 0),
			Owner:                getEnv("REGISTRY_OWNER", "pipeline"),
			PipelineKeyHash:      os.Getenv("PIPELINE_KEY_HASH"),
			CapabilitySigningKey: os.Getenv("CAPABILITY_SIGNING_KEY"),
			CapabilityIssuer:     getEnv("CAPABILITY_ISSUER", "objectmap"),
			CapabilityID:         os.Getenv("CAPABILITY_ID"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Driver:          getEnv("DATABASE_DRIVER", "postgres"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     getDuration("REDIS_CACHE_TTL", DefaultCacheTTL),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:        getEnv("KAFKA_TOPIC", "objectmap.registry.events"),
			Partitions:   int32(getInt("KAFKA_TOPIC_PARTITIONS", 1)),
			Replication:  int16(getInt("KAFKA_TOPIC_REPLICATION", 1)),
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getInt("OUTBOX_BATCH_SIZE", 100),
		},
		Snapshot: SnapshotConfig{
			Target:      os.Getenv("SNAPSHOT_TARGET"),
			S3Region:    getEnv("SNAPSHOT_S3_REGION", "us-east-1"),
			S3Endpoint:  os.Getenv("SNAPSHOT_S3_ENDPOINT"),
			S3AccessKey: os.Getenv("SNAPSHOT_S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("SNAPSHOT_S3_SECRET_KEY"),
		},
		RateLimit: RateLimitConfig{
			Disabled:   os.Getenv("RATE_LIMIT_DISABLED") == "true",
			Read:       getInt("RATE_LIMIT_READ", 600),
			Privileged: getInt("RATE_LIMIT_PRIVILEGED", 120),
			Window:     getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		DrainDuration:   getDuration("DRAIN_DURATION", 5*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (s Server) Validate() error {
	var errs []error
	if s.Registry.CollectionSize <= 0 {
		errs = append(errs, errors.New("COLLECTION_SIZE must be a positive integer"))
	}
	if s.Registry.Owner == "" {
		errs = append(errs, errors.New("REGISTRY_OWNER cannot be empty"))
	}
	if s.Registry.PipelineKeyHash == "" {
		errs = append(errs, errors.New("PIPELINE_KEY_HASH is required"))
	}
	if len(s.Registry.CapabilitySigningKey) < 32 {
		errs = append(errs, errors.New("CAPABILITY_SIGNING_KEY must be at least 32 bytes"))
	}
	if s.Registry.CapabilityID == "" {
		errs = append(errs, errors.New("CAPABILITY_ID is required"))
	}
	switch s.Database.Driver {
	case "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", s.Database.Driver))
	}
	if len(s.Kafka.Brokers) > 0 && s.Database.URL == "" {
		errs = append(errs, errors.New("KAFKA_BROKERS requires DATABASE_URL for the outbox"))
	}
	if !s.RateLimit.Disabled && s.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or text", s.Log.Format))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
