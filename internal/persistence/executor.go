package persistence

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// Result is the outcome of one statement.
type Result struct {
	Rows         []domain.Record
	Fields       []pgconn.FieldDescription
	RowsAffected int64
}

// Querier runs parameterized statements written with ? placeholders.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*Result, error)
}

// Executor runs statements on pool connections with bounded retries.
// It has no knowledge of roles or scoping.
type Executor struct {
	retrier
}

var _ Querier = (*Executor)(nil)

// NewExecutor builds an executor over pool.
func NewExecutor(pool *Pool, opts ...Option) *Executor {
	return &Executor{retrier{pool: pool, options: newOptions(opts)}}
}

// Execute runs query with args, retrying transient failures. Transient
// failures that outlive the policy surface as STORE_UNAVAILABLE, everything
// else as STATEMENT_ERROR on the first occurrence.
func (e *Executor) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	sql, err := bind(query, args)
	if err != nil {
		return nil, errorutil.NewStatementError(err, map[string]any{"message": err.Error()})
	}

	var result *Result
	err = e.do(ctx, "execute", func() error {
		res, err := e.executeOnce(ctx, sql, args)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		e.metrics.RecordStatement("failed")
		e.logger.Debug("statement failed", zap.String("sql", sql), zap.Error(err))
		return nil, err
	}
	e.metrics.RecordStatement("ok")
	return result, nil
}

// Query is Execute under the Querier name.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	return e.Execute(ctx, query, args...)
}

func (e *Executor) executeOnce(ctx context.Context, sql string, args []any) (*Result, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	stmtCtx, cancel := statementContext(ctx, e.statementTimeout)
	defer cancel()

	rows, err := conn.Query(stmtCtx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) (*Result, error) {
	fields := append([]pgconn.FieldDescription(nil), rows.FieldDescriptions()...)
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Record, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		rec := make(domain.Record, len(values))
		for i, fd := range row.FieldDescriptions() {
			rec[fd.Name] = values[i]
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Rows:         records,
		Fields:       fields,
		RowsAffected: rows.CommandTag().RowsAffected(),
	}, nil
}

// bind checks ?/argument parity and rewrites the statement to $N form.
func bind(query string, args []any) (string, error) {
	if n := countPlaceholders(query); n != len(args) {
		return "", fmt.Errorf("%w: %d placeholders, %d args", ErrPlaceholderMismatch, n, len(args))
	}
	return sq.Dollar.ReplacePlaceholders(query)
}

// countPlaceholders counts ? markers; ?? is squirrel's escape for a literal ?.
func countPlaceholders(query string) int {
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			continue
		}
		if i+1 < len(query) && query[i+1] == '?' {
			i++
			continue
		}
		n++
	}
	return n
}
