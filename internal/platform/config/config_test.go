package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnv(t *testing.T) {
	t.Setenv("COLLECTION_SIZE", "10000")
	t.Setenv("PIPELINE_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("CAPABILITY_SIGNING_KEY", strings.Repeat("k", 32))
	t.Setenv("CAPABILITY_ID", "cap-1")
}

func TestFromEnvDefaults(t *testing.T) {
	validEnv(t)
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 10000, cfg.Registry.CollectionSize)
	assert.Equal(t, "pipeline", cfg.Registry.Owner)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, DefaultCacheTTL, cfg.Redis.CacheTTL)
	assert.Equal(t, "objectmap.registry.events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 120, cfg.RateLimit.Privileged)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	validEnv(t)
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("DATABASE_URL", "postgres://localhost/objectmap")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Kafka.PollInterval)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	require.NoError(t, cfg.Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Setenv("COLLECTION_SIZE", "0")
	t.Setenv("KAFKA_BROKERS", "a:9092")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("RATE_LIMIT_WINDOW", "-1s")

	err := FromEnv().Validate()
	require.Error(t, err)
	for _, want := range []string{"COLLECTION_SIZE", "PIPELINE_KEY_HASH", "CAPABILITY_SIGNING_KEY", "CAPABILITY_ID", "DATABASE_URL", "LOG_FORMAT", "RATE_LIMIT_WINDOW"} {
		assert.Contains(t, err.Error(), want)
	}
}
