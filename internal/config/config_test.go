package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/salescrm/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://crm@localhost/crm")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int32(50), cfg.Postgres.MinConns)
	assert.Equal(t, int32(100), cfg.Postgres.MaxConns)
	assert.Zero(t, cfg.Postgres.MaxWaiters)
	assert.Zero(t, cfg.Postgres.AcquireTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialInterval)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0)
	assert.Equal(t, 20, cfg.Pagination.DefaultPageSize)
	assert.Equal(t, 5000, cfg.Pagination.RoleCaps[domain.RoleManager])
	assert.Equal(t, 1000, cfg.Pagination.RoleCaps[domain.RoleTeamLeader])
	assert.Equal(t, 200, cfg.Pagination.RoleCaps[domain.RoleSalesman])
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, AppConfig{Name: "salescrm", Env: "development", Version: "dev"}, cfg.App)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POSTGRES_MAX_CONNS", "8")
	t.Setenv("POSTGRES_MIN_CONNS", "2")
	t.Setenv("POSTGRES_ACQUIRE_TIMEOUT", "250ms")
	t.Setenv("STORE_RETRY_INITIAL_INTERVAL", "10ms")
	t.Setenv("PAGE_CAP_SALESMAN", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int32(8), cfg.Postgres.MaxConns)
	assert.Equal(t, 250*time.Millisecond, cfg.Postgres.AcquireTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 50, cfg.Pagination.RoleCaps[domain.RoleSalesman])
}

func TestLoadRejectsMinAboveMax(t *testing.T) {
	t.Setenv("POSTGRES_MAX_CONNS", "4")
	t.Setenv("POSTGRES_MIN_CONNS", "50")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_MIN_CONNS")
}

func TestLoadInvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "one")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Postgres:   PostgresConfig{MaxConns: 0, MinConns: 1},
		Retry:      RetryConfig{MaxRetries: -1, Multiplier: 0.5},
		Pagination: PaginationConfig{},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"POSTGRES_MAX_CONNS", "STORE_RETRY_MAX", "STORE_RETRY_MULTIPLIER", "PAGE_SIZE_DEFAULT", "salesman"} {
		assert.Contains(t, err.Error(), want)
	}
}
