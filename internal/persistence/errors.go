package persistence

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// ErrorClass is the machine-readable category of a store failure.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	// ClassConnectionLost means the transport died under the statement.
	// The pool is reset before retrying.
	ClassConnectionLost
	ClassTimeout
	ClassLimitExceeded
	ClassCancelled
	// ClassStatement covers syntax, constraint, type and permission errors.
	ClassStatement
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassConnectionLost:
		return "connection_lost"
	case ClassTimeout:
		return "timeout"
	case ClassLimitExceeded:
		return "limit_exceeded"
	case ClassCancelled:
		return "cancelled"
	default:
		return "statement"
	}
}

// Transient reports whether the class is safe to retry.
func (c ErrorClass) Transient() bool {
	return c == ClassConnectionLost || c == ClassTimeout || c == ClassLimitExceeded
}

var (
	// ErrPoolExhausted is returned when the waiter cap or acquire timeout is hit.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPlaceholderMismatch flags a statement whose ? count differs from its args.
	ErrPlaceholderMismatch = errors.New("placeholder count does not match argument count")
)

// Classify maps a store error to its ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, ErrPoolExhausted) {
		return ClassLimitExceeded
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return ClassConnectionLost
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return ClassTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return ClassConnectionLost
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassConnectionLost
	}
	if pgconn.SafeToRetry(err) || strings.Contains(err.Error(), "conn closed") {
		return ClassConnectionLost
	}
	return ClassStatement
}

func classifySQLState(code string) ErrorClass {
	switch {
	case code == "53300": // too_many_connections
		return ClassLimitExceeded
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03":
		return ClassConnectionLost
	case code == "57014": // query_canceled, raised by statement_timeout
		return ClassTimeout
	default:
		return ClassStatement
	}
}

// StatementDetails extracts the store's diagnostics for StatementError.
func StatementDetails(err error) map[string]any {
	details := map[string]any{"message": err.Error()}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		details["sqlstate"] = pgErr.Code
		details["message"] = pgErr.Message
		if pgErr.Detail != "" {
			details["detail"] = pgErr.Detail
		}
		if pgErr.ConstraintName != "" {
			details["constraint"] = pgErr.ConstraintName
		}
		if pgErr.TableName != "" {
			details["table"] = pgErr.TableName
		}
		if pgErr.ColumnName != "" {
			details["column"] = pgErr.ColumnName
		}
	}
	return details
}

// mapStoreError turns a terminal store failure into the caller-facing taxonomy.
// Cancellation of ctx passes through untouched.
func mapStoreError(ctx context.Context, err error, attempts int) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	class := Classify(err)
	switch {
	case class.Transient():
		return errorutil.NewStoreUnavailable(attempts, err)
	case class == ClassCancelled:
		return err
	default:
		return errorutil.NewStatementError(err, StatementDetails(err))
	}
}
