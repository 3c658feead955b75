package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/salescrm/internal/domain"
)

// Config aggregates runtime configuration for the data-access layer.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Retry      RetryConfig
	Pagination PaginationConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Metrics    MetricsConfig
}

// AppConfig identifies the process.
type AppConfig struct {
	Name    string
	Env     string
	Version string
}

// PostgresConfig holds DB connection and pool values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	// MaxWaiters caps goroutines blocked in Acquire. Zero waits without limit.
	MaxWaiters int
	// AcquireTimeout caps a single wait for a free connection. Zero waits forever.
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
}

// RetryConfig drives the executor backoff on transient store errors.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// PaginationConfig bounds LIMIT/OFFSET values before they are inlined.
type PaginationConfig struct {
	DefaultPageSize int
	RoleCaps        map[domain.Role]int
	MaxOffset       int
}

// RedisConfig holds Redis connection values for change-event forwarding.
// An empty Addr disables forwarding.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// MetricsConfig controls the prometheus listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr      string
	Namespace string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	multiplier, err := strconv.ParseFloat(getEnv("STORE_RETRY_MULTIPLIER", "2"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_RETRY_MULTIPLIER: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "salescrm"),
			Env:     getEnv("APP_ENV", "development"),
			Version: getEnv("APP_VERSION", "dev"),
		},
		Postgres: PostgresConfig{
			DSN:              os.Getenv("POSTGRES_DSN"),
			MaxConns:         int32(getEnvAsInt("POSTGRES_MAX_CONNS", 100)),
			MinConns:         int32(getEnvAsInt("POSTGRES_MIN_CONNS", 50)),
			ConnMaxIdleSec:   int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec:   int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
			MaxWaiters:       getEnvAsInt("POSTGRES_MAX_WAITERS", 0),
			AcquireTimeout:   getEnvAsDuration("POSTGRES_ACQUIRE_TIMEOUT", 0),
			StatementTimeout: getEnvAsDuration("POSTGRES_STATEMENT_TIMEOUT", 60*time.Second),
		},
		Retry: RetryConfig{
			MaxRetries:      getEnvAsInt("STORE_RETRY_MAX", 3),
			InitialInterval: getEnvAsDuration("STORE_RETRY_INITIAL_INTERVAL", time.Second),
			Multiplier:      multiplier,
			MaxInterval:     getEnvAsDuration("STORE_RETRY_MAX_INTERVAL", 30*time.Second),
		},
		Pagination: PaginationConfig{
			DefaultPageSize: getEnvAsInt("PAGE_SIZE_DEFAULT", 20),
			RoleCaps: map[domain.Role]int{
				domain.RoleManager:    getEnvAsInt("PAGE_CAP_MANAGER", 5000),
				domain.RoleTeamLeader: getEnvAsInt("PAGE_CAP_TEAM_LEADER", 1000),
				domain.RoleSalesman:   getEnvAsInt("PAGE_CAP_SALESMAN", 200),
			},
			MaxOffset: getEnvAsInt("PAGE_MAX_OFFSET", 1_000_000),
		},
		Redis: RedisConfig{
			Addr:          os.Getenv("REDIS_ADDR"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "salescrm.records"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Addr:      os.Getenv("METRICS_ADDR"),
			Namespace: getEnv("METRICS_NAMESPACE", "salescrm"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pool or paginator cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.MaxConns <= 0 {
		errs = append(errs, errors.New("POSTGRES_MAX_CONNS must be positive"))
	}
	if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("POSTGRES_MIN_CONNS %d outside [0, %d]", c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.Postgres.MaxWaiters < 0 {
		errs = append(errs, errors.New("POSTGRES_MAX_WAITERS must not be negative"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("STORE_RETRY_MAX must not be negative"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("STORE_RETRY_MULTIPLIER must be at least 1"))
	}
	if c.Pagination.DefaultPageSize <= 0 {
		errs = append(errs, errors.New("PAGE_SIZE_DEFAULT must be positive"))
	}
	for _, role := range domain.Roles {
		if c.Pagination.RoleCaps[role] <= 0 {
			errs = append(errs, fmt.Errorf("page cap for %s must be positive", role))
		}
	}
	if c.Pagination.MaxOffset < 0 {
		errs = append(errs, errors.New("PAGE_MAX_OFFSET must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}
