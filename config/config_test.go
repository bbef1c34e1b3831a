package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_Defaults(t *testing.T) {
	cfg, err := ParseEnv()
	require.NoError(t, err)

	assert.Equal(t, "policykit", cfg.ServiceName)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Pool.ReservationTTL)
	assert.Equal(t, 3, cfg.Pool.AddMaxAttempts)
	assert.Equal(t, time.Minute, cfg.Pool.ReapInterval)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, 10000, cfg.Pool.LedgerCacheSize)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "numberpool:", cfg.Redis.KeyPrefix)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "policykit.events", cfg.NATS.SubjectPrefix)
}

func TestParseEnv_Overrides(t *testing.T) {
	t.Setenv("POLICYKIT_BACKEND", "sql")
	t.Setenv("POLICYKIT_DB_DRIVER", "pgx")
	t.Setenv("POLICYKIT_DB_DSN", "postgres://pk@localhost/pk")
	t.Setenv("POLICYKIT_POOL_RESERVATION_TTL", "2m")
	t.Setenv("POLICYKIT_NATS_URL", "nats://localhost:4222")
	t.Setenv("POLICYKIT_NATS_JETSTREAM", "true")

	cfg, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendSQL, cfg.Backend)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://pk@localhost/pk", cfg.Database.DSN)
	assert.Equal(t, 2*time.Minute, cfg.Pool.ReservationTTL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.JetStream)
}

func TestParseEnv_Invalid(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("POLICYKIT_BACKEND", "mongo")
		_, err := ParseEnv()
		assert.ErrorContains(t, err, "unknown backend")
	})
	t.Run("unsupported driver", func(t *testing.T) {
		t.Setenv("POLICYKIT_BACKEND", "sql")
		t.Setenv("POLICYKIT_DB_DRIVER", "mysql")
		_, err := ParseEnv()
		assert.ErrorContains(t, err, "unsupported database driver")
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("POLICYKIT_POOL_RESERVATION_TTL", "soon")
		_, err := ParseEnv()
		assert.ErrorContains(t, err, "parse env")
	})
	t.Run("attempts", func(t *testing.T) {
		t.Setenv("POLICYKIT_POOL_ADD_MAX_ATTEMPTS", "0")
		_, err := ParseEnv()
		assert.ErrorContains(t, err, "max attempts")
	})
	t.Run("reap interval", func(t *testing.T) {
		t.Setenv("POLICYKIT_POOL_REAP_INTERVAL", "0s")
		_, err := ParseEnv()
		assert.ErrorContains(t, err, "reap interval")
	})
	t.Run("ttl disabled needs no reaper", func(t *testing.T) {
		t.Setenv("POLICYKIT_POOL_RESERVATION_TTL", "0s")
		t.Setenv("POLICYKIT_POOL_REAP_INTERVAL", "0s")
		_, err := ParseEnv()
		assert.NoError(t, err)
	})
	t.Run("ledger cache", func(t *testing.T) {
		t.Setenv("POLICYKIT_POOL_LEDGER_CACHE_SIZE", "-1")
		_, err := ParseEnv()
		assert.ErrorContains(t, err, "ledger cache")
	})
}
