package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/observability"
)

// Driver is the raw connection source behind a Pool. The pgx pool
// implements it in production; tests substitute fakes.
type Driver interface {
	Acquire(ctx context.Context) (DriverConn, error)
	// Idle reports how many connections can be handed out without waiting:
	// idle ones plus room left under the size limit. The value is advisory.
	Idle() int
	// Reset closes idle connections now and in-use ones when released.
	Reset()
	Ping(ctx context.Context) error
	Close()
}

// DriverConn is one live store handle as handed out by a Driver.
type DriverConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Release()
}

// startupPingWindow bounds how long NewPostgres waits for the database.
var startupPingWindow = 30 * time.Second

// Postgres wraps access to a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

var _ Driver = (*Postgres)(nil)

// NewPostgres establishes a connection pool and waits for the database to answer.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("POSTGRES_DSN not provided")
	}
	logger = observability.OrNop(logger)

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxIdleSec > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleSec) * time.Second
	}
	if cfg.ConnMaxLifeSec > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifeSec) * time.Second
	}
	poolCfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		logger.Debug("connection created", zap.Uint32("pid", conn.PgConn().PID()))
		return nil
	}
	poolCfg.BeforeClose = func(conn *pgx.Conn) {
		logger.Debug("connection closed", zap.Uint32("pid", conn.PgConn().PID()))
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(startupPingWindow))
	attempt := 1
	err = backoff.Retry(func() error {
		if err := pool.Ping(ctx); err != nil {
			logger.Info("waiting for database", zap.Int("attempt", attempt), zap.Error(err))
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to postgres",
		zap.Int32("min_conns", poolCfg.MinConns),
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &Postgres{Pool: pool}, nil
}

// Acquire checks a connection out of the pgx pool.
func (p *Postgres) Acquire(ctx context.Context) (DriverConn, error) {
	conn, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Idle counts idle connections plus unopened capacity.
func (p *Postgres) Idle() int {
	st := p.Pool.Stat()
	return int(st.IdleConns() + st.MaxConns() - st.TotalConns())
}

// Reset drops every pooled connection; pgx recreates them lazily.
func (p *Postgres) Reset() {
	p.Pool.Reset()
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return errors.New("postgres pool not configured")
	}
	return p.Pool.Ping(ctx)
}

// Close releases pool resources.
func (p *Postgres) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}
