package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// ErrNestedTransaction is returned when Run is called from inside a
// transaction body. The outer transaction is never reused.
var ErrNestedTransaction = errors.New("nested transaction not supported")

// Tx is a transaction handle bound to a single connection. Statements use
// ? placeholders and run strictly in the order issued; they are not retried.
// Pass the ctx handed to the body along with the Tx: it marks the call
// chain as inside a transaction.
type Tx interface {
	Querier
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

type txKey struct{}

// InTransaction reports whether ctx belongs to a transaction body.
func InTransaction(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// Coordinator runs function bodies inside a transaction on one pooled
// connection and always gives the connection back.
type Coordinator struct {
	retrier
}

// NewCoordinator builds a coordinator over pool.
func NewCoordinator(pool *Pool, opts ...Option) *Coordinator {
	return &Coordinator{retrier{pool: pool, options: newOptions(opts)}}
}

// Run commits when fn returns nil and rolls back otherwise, returning fn's
// error unchanged. A panic in fn rolls back and keeps unwinding.
//
// Nesting is detected through ctx only. fn must use the ctx it receives for
// everything it calls; a body that calls Run with a captured outer context
// opens a second, independent transaction on another connection.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if InTransaction(ctx) {
		c.logger.Error("nested transaction rejected", zap.Stack("stack"))
		return ErrNestedTransaction
	}

	conn, pgTx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := pgTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			c.logger.Warn("rollback failed", zap.Uint64("conn_id", conn.ID()), zap.Error(rbErr))
		}
		c.metrics.RecordTransaction("rolled_back")
	}()

	txCtx := context.WithValue(ctx, txKey{}, conn.ID())
	if err := fn(txCtx, &txHandle{tx: pgTx, timeout: c.statementTimeout}); err != nil {
		return err
	}

	if err := pgTx.Commit(context.WithoutCancel(ctx)); err != nil {
		return mapStoreError(ctx, err, 1)
	}
	committed = true
	c.metrics.RecordTransaction("committed")
	return nil
}

// begin acquires a connection and opens a transaction. Nothing has run yet,
// so transient failures here are retried under the policy.
func (c *Coordinator) begin(ctx context.Context) (*Conn, pgx.Tx, error) {
	var (
		conn *Conn
		pgTx pgx.Tx
	)
	err := c.do(ctx, "begin", func() error {
		cn, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		t, err := cn.Begin(context.WithoutCancel(ctx))
		if err != nil {
			cn.Release()
			return err
		}
		conn, pgTx = cn, t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, pgTx, nil
}

// RunTransaction is Run for bodies that produce a value.
func RunTransaction[T any](ctx context.Context, c *Coordinator, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := c.Run(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

type txHandle struct {
	tx      pgx.Tx
	timeout time.Duration
}

func (t *txHandle) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sql, err := bind(query, args)
	if err != nil {
		return nil, errorutil.NewStatementError(err, map[string]any{"message": err.Error()})
	}

	stmtCtx, cancel := statementContext(ctx, t.timeout)
	defer cancel()

	rows, err := t.tx.Query(stmtCtx, sql, args...)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	res, err := collect(rows)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	return res, nil
}

func (t *txHandle) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sql, err := bind(query, args)
	if err != nil {
		return 0, errorutil.NewStatementError(err, map[string]any{"message": err.Error()})
	}

	stmtCtx, cancel := statementContext(ctx, t.timeout)
	defer cancel()

	tag, err := t.tx.Exec(stmtCtx, sql, args...)
	if err != nil {
		return 0, t.fail(ctx, err)
	}
	return tag.RowsAffected(), nil
}

// fail maps a body statement error. Nothing is retried inside a body, so a
// lost connection does not reset the pool; pgx drops the broken one on release.
func (t *txHandle) fail(ctx context.Context, err error) error {
	return mapStoreError(ctx, err, 1)
}
