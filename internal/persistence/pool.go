package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/observability"
)

// PoolOptions bounds how long and how many callers may wait in Acquire.
// The zero value waits without limit.
type PoolOptions struct {
	MaxWaiters     int
	AcquireTimeout time.Duration
}

// PoolOptionsFromConfig extracts the waiting policy from the postgres config.
func PoolOptionsFromConfig(cfg config.PostgresConfig) PoolOptions {
	return PoolOptions{MaxWaiters: cfg.MaxWaiters, AcquireTimeout: cfg.AcquireTimeout}
}

// Pool hands out one connection per operation and recovers from
// connection loss. It is safe for concurrent use.
type Pool struct {
	driver  Driver
	opts    PoolOptions
	logger  *zap.Logger
	metrics *observability.Metrics

	waiters atomic.Int64
	claims  atomic.Int64
	seq     atomic.Uint64
	resets  atomic.Uint64
}

// NewPool wraps driver with acquisition bookkeeping.
func NewPool(driver Driver, opts PoolOptions, logger *zap.Logger, metrics *observability.Metrics) *Pool {
	return &Pool{
		driver:  driver,
		opts:    opts,
		logger:  observability.OrNop(logger),
		metrics: metrics,
	}
}

// Acquire blocks until a connection is free, ctx is done, or the
// configured waiting limits are hit. Callers served from spare capacity
// never count as waiters; MaxWaiters caps only the ones that must block.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if p.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}

	if p.claims.Add(1) <= int64(p.driver.Idle()) {
		defer p.claims.Add(-1)
		return p.acquire(ctx, waitCtx)
	}
	p.claims.Add(-1)

	n := p.waiters.Add(1)
	defer p.waiters.Add(-1)
	if p.opts.MaxWaiters > 0 && n > int64(p.opts.MaxWaiters) {
		p.metrics.RecordAcquire("exhausted")
		return nil, fmt.Errorf("%w: %d callers already waiting", ErrPoolExhausted, p.opts.MaxWaiters)
	}
	p.metrics.AddWaiters(1)
	defer p.metrics.AddWaiters(-1)
	return p.acquire(ctx, waitCtx)
}

func (p *Pool) acquire(ctx, waitCtx context.Context) (*Conn, error) {
	start := time.Now()
	dc, err := p.driver.Acquire(waitCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			p.metrics.RecordAcquire("cancelled")
			return nil, ctx.Err()
		case waitCtx.Err() != nil:
			p.metrics.RecordAcquire("timeout")
			return nil, fmt.Errorf("%w: no connection within %s", ErrPoolExhausted, p.opts.AcquireTimeout)
		default:
			p.metrics.RecordAcquire("error")
			return nil, err
		}
	}

	conn := &Conn{conn: dc, id: p.seq.Add(1), pool: p}
	p.metrics.RecordAcquire("ok")
	p.logger.Debug("connection acquired",
		zap.Uint64("conn_id", conn.id),
		zap.Duration("wait", time.Since(start)))
	return conn, nil
}

// Reset discards every pooled connection. New ones are created lazily.
func (p *Pool) Reset() {
	p.driver.Reset()
	n := p.resets.Add(1)
	p.metrics.RecordReset()
	p.logger.Warn("connection pool reset", zap.Uint64("resets", n))
}

// Waiters reports how many callers are currently blocked in Acquire.
func (p *Pool) Waiters() int64 {
	return p.waiters.Load()
}

// Resets reports how many times the pool has been reset.
func (p *Pool) Resets() uint64 {
	return p.resets.Load()
}

// PoolStats is a point-in-time snapshot of pool bookkeeping.
type PoolStats struct {
	Acquired uint64 `json:"acquired"`
	Waiters  int64  `json:"waiters"`
	Resets   uint64 `json:"resets"`
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Acquired: p.seq.Load(),
		Waiters:  p.waiters.Load(),
		Resets:   p.resets.Load(),
	}
}

// Ping verifies store connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.driver.Ping(ctx)
}

// Close shuts the underlying driver down.
func (p *Pool) Close() {
	p.driver.Close()
}

// Conn is a pooled connection owned by exactly one operation until Release.
type Conn struct {
	conn     DriverConn
	id       uint64
	pool     *Pool
	released atomic.Bool
}

// ID is a process-local sequence number for log correlation.
func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

func (c *Conn) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.conn.Begin(ctx)
}

// Release returns the connection to the pool. Only the first call has effect.
func (c *Conn) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.conn.Release()
	c.pool.logger.Debug("connection released", zap.Uint64("conn_id", c.id))
}
