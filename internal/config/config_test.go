package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	requirex "github.com/stretchr/testify/require"

	"replica/internal/core/apperror"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	requirex.NoError(t, err)

	assert.Equal(t, StateBackendPostgres, cfg.State.Backend)
	assert.Equal(t, TargetClickHouse, cfg.Target.Driver)
	assert.Equal(t, 3, cfg.MaxRestarts)
	assert.Equal(t, 60*time.Second, cfg.MinUpTime)
	assert.Equal(t, 10*time.Second, cfg.RestartDelay)
	assert.Equal(t, 1<<20, cfg.Arango.ChunkSize)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SYNC_COLLECTIONS", "items, orders ,,users")
	t.Setenv("CONSUMER_EXCLUDE", "users")
	t.Setenv("MAX_RESTARTS", "5")
	t.Setenv("MIN_UP_TIME", "2m")
	t.Setenv("WAL_RATE_LIMIT", "2.5")
	t.Setenv("STATE_BACKEND", "memory")
	t.Setenv("TARGET_DRIVER", "duckdb")
	t.Setenv("LOG_DIR", "/var/log/replica")
	t.Setenv("KAFKA_POLL_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	requirex.NoError(t, err)

	assert.Equal(t, []string{"items", "orders", "users"}, cfg.SyncCollections)
	assert.Equal(t, []string{"users"}, cfg.ConsumerExclude)
	assert.Equal(t, 5, cfg.MaxRestarts)
	assert.Equal(t, 2*time.Minute, cfg.MinUpTime)
	assert.Equal(t, 2.5, cfg.Arango.RateLimit)
	assert.Equal(t, time.Second, cfg.Kafka.PollTimeout)
	assert.Equal(t, "/var/log/replica/error-document.log", cfg.DocumentErrorLog())
	assert.NoError(t, cfg.RequireState())
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("STATE_BACKEND", "redis")
	_, err := Load()
	assert.True(t, apperror.HasCode(err, apperror.CodeConfig))

	t.Setenv("STATE_BACKEND", "memory")
	t.Setenv("TARGET_DRIVER", "mysql")
	_, err = Load()
	assert.True(t, apperror.HasCode(err, apperror.CodeConfig))
}

func TestRequire(t *testing.T) {
	cfg, err := Load()
	requirex.NoError(t, err)

	err = cfg.RequireTarget()
	requirex.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	requirex.True(t, ok)
	assert.Equal(t, []string{"TARGET_DSN"}, appErr.Details["missing"])

	err = cfg.RequireSource()
	assert.ErrorContains(t, err, "WAL_SERVER_ID")

	assert.Error(t, cfg.RequireCollections())
	cfg.SyncCollections = []string{"items"}
	assert.NoError(t, cfg.RequireCollections())
}
