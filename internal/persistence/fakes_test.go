package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDriver hands out at most cap(slots) connections at a time.
type fakeDriver struct {
	slots chan struct{}
	// delay is how long each Acquire takes before it claims a slot.
	delay time.Duration

	mu       sync.Mutex
	acquired int
	released int
	resets   int
	queries  []string
	args     [][]any

	query func(ctx context.Context, sql string, args []any) (pgx.Rows, error)
	begin func() (pgx.Tx, error)
}

func newFakeDriver(size int) *fakeDriver {
	return &fakeDriver{slots: make(chan struct{}, size)}
}

func (d *fakeDriver) Acquire(ctx context.Context) (DriverConn, error) {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d.mu.Lock()
	d.acquired++
	d.mu.Unlock()
	return &fakeConn{d: d}, nil
}

func (d *fakeDriver) Idle() int {
	return cap(d.slots) - len(d.slots)
}

func (d *fakeDriver) Reset() {
	d.mu.Lock()
	d.resets++
	d.mu.Unlock()
}

func (d *fakeDriver) Ping(context.Context) error {
	return nil
}

func (d *fakeDriver) Close() {}

func (d *fakeDriver) counts() (acquired, released, resets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired, d.released, d.resets
}

type fakeConn struct {
	d *fakeDriver
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	rows.Close()
	return rows.CommandTag(), rows.Err()
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.d.mu.Lock()
	c.d.queries = append(c.d.queries, sql)
	c.d.args = append(c.d.args, args)
	fn := c.d.query
	c.d.mu.Unlock()
	if fn == nil {
		return newFakeRows(nil, nil, "SELECT 0"), nil
	}
	return fn(ctx, sql, args)
}

func (c *fakeConn) Begin(context.Context) (pgx.Tx, error) {
	if c.d.begin == nil {
		return newFakeTx(nil), nil
	}
	return c.d.begin()
}

func (c *fakeConn) Release() {
	c.d.mu.Lock()
	c.d.released++
	c.d.mu.Unlock()
	<-c.d.slots
}

// fakeRows is an in-memory pgx.Rows.
type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	idx    int
	tag    pgconn.CommandTag
	err    error
	closed bool
}

func newFakeRows(columns []string, data [][]any, tag string) *fakeRows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, c := range columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return &fakeRows{fields: fields, data: data, idx: -1, tag: pgconn.NewCommandTag(tag)}
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	if r.idx >= len(r.data) {
		r.closed = true
		return false
	}
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	for i := range dest {
		if p, ok := dest[i].(*any); ok {
			*p = r.data[r.idx][i]
		}
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.idx], nil
}

// fakeTx buffers Exec effects and applies them to committed on Commit.
type fakeTx struct {
	pgx.Tx

	mu         sync.Mutex
	committed  *[]string
	pending    []string
	fail       map[int]error
	stmts      int
	commits    int
	rollbacks  int
	commitErr  error
	closedOnce bool
}

func newFakeTx(committed *[]string) *fakeTx {
	if committed == nil {
		committed = &[]string{}
	}
	return &fakeTx{committed: committed, fail: map[int]error{}}
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stmts++
	if err, ok := t.fail[t.stmts]; ok {
		return pgconn.CommandTag{}, err
	}
	t.pending = append(t.pending, sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if _, err := t.Exec(ctx, sql, args...); err != nil {
		return nil, err
	}
	return newFakeRows([]string{"id"}, [][]any{{"r1"}}, "SELECT 1"), nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closedOnce {
		return pgx.ErrTxClosed
	}
	t.closedOnce = true
	t.commits++
	if t.commitErr != nil {
		return t.commitErr
	}
	*t.committed = append(*t.committed, t.pending...)
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closedOnce {
		return pgx.ErrTxClosed
	}
	t.closedOnce = true
	t.rollbacks++
	t.pending = nil
	return nil
}

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu      sync.Mutex
	waits   []time.Duration
	ch      chan time.Time
	onStart func()
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{ch: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	hook := t.onStart
	t.mu.Unlock()
	if hook != nil {
		hook()
		return
	}
	t.ch <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.ch
}

func (t *recordingTimer) recorded() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
