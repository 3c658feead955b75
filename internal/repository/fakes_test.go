package repository

import (
	"context"
	"sync"

	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/persistence"
)

type statement struct {
	sql  string
	args []any
}

// fakeStore answers Query with canned rows and records every statement.
type fakeStore struct {
	mu      sync.Mutex
	stmts   []statement
	respond func(sql string, args []any) (*persistence.Result, error)
}

func (s *fakeStore) Query(_ context.Context, sql string, args ...any) (*persistence.Result, error) {
	s.mu.Lock()
	s.stmts = append(s.stmts, statement{sql: sql, args: args})
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return &persistence.Result{Rows: []domain.Record{}}, nil
	}
	return respond(sql, args)
}

func (s *fakeStore) statements() []statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statement(nil), s.stmts...)
}

// fakeTransactor runs the body against a Tx backed by the same store and
// tracks commit or rollback.
type fakeTransactor struct {
	store     *fakeStore
	affected  int64
	execErr   error
	runs      int
	commits   int
	rollbacks int
}

func (f *fakeTransactor) Run(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	f.runs++
	if err := fn(ctx, &fakeTx{f: f}); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}

type fakeTx struct {
	f *fakeTransactor
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (*persistence.Result, error) {
	return t.f.store.Query(ctx, sql, args...)
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if _, err := t.f.store.Query(ctx, sql, args...); err != nil {
		return 0, err
	}
	if t.f.execErr != nil {
		return 0, t.f.execErr
	}
	return t.f.affected, nil
}
