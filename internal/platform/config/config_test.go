package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CAREBASE_ADMIN_JWT_SECRET", "secret")
	t.Setenv("CAREBASE_PROVIDER_URL", "http://idp.local")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StorageMemory, cfg.Server.Storage)
	assert.Equal(t, 100*time.Millisecond, cfg.Router.SlowThreshold)
	assert.Equal(t, 3, cfg.Bootstrap.BreakerThreshold)
	assert.Equal(t, 300*time.Second, cfg.Bootstrap.BreakerCooldown)
	assert.Equal(t, 4, cfg.Bootstrap.Attempts)
	assert.Equal(t, 8*time.Second, cfg.Bootstrap.MaxBackoff)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Kafka(t *testing.T) {
	t.Setenv("CAREBASE_ADMIN_JWT_SECRET", "secret")
	t.Setenv("CAREBASE_PROVIDER_URL", "http://idp.local")
	t.Setenv("CAREBASE_BUS", BusKafka)
	t.Setenv("CAREBASE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	t.Setenv("CAREBASE_STORAGE", StoragePostgres)
	t.Setenv("CAREBASE_BUS", "nats")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "CAREBASE_DATABASE_URL")
	assert.ErrorContains(t, err, `unknown event bus "nats"`)
	assert.ErrorContains(t, err, "CAREBASE_ADMIN_JWT_SECRET")
	assert.ErrorContains(t, err, "CAREBASE_PROVIDER_URL")
}
