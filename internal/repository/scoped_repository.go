package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/spec-kit/salescrm/internal/config"
	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/events"
	"github.com/spec-kit/salescrm/internal/observability"
	"github.com/spec-kit/salescrm/internal/permission"
	"github.com/spec-kit/salescrm/internal/persistence"
	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// Outcome reports what a mutation did.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	// OutcomeNotFoundOrForbidden deliberately does not say which, so callers
	// cannot discover records outside their scope.
	OutcomeNotFoundOrForbidden Outcome = "not_found_or_forbidden"
)

// Mutation is either a delete or an update of the given columns.
type Mutation struct {
	Delete  bool
	Changes map[string]any
}

// MutationResult carries the affected row count and the outcome.
type MutationResult struct {
	Affected int64
	Outcome  Outcome
}

// Transactor runs fn inside one store transaction.
type Transactor interface {
	Run(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error
}

// ScopedRepository reads and writes CRM records within the caller's role scope.
type ScopedRepository interface {
	List(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filters Filters, page Pagination) (domain.Page, error)
	Count(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filters Filters) (int64, error)
	Get(ctx context.Context, actor domain.Actor, kind domain.EntityKind, id string) (domain.Record, bool, error)
	Mutate(ctx context.Context, actor domain.Actor, kind domain.EntityKind, id string, m Mutation) (MutationResult, error)
	Create(ctx context.Context, actor domain.Actor, kind domain.EntityKind, values map[string]any) (string, error)
	Export(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filters Filters) ([]domain.Record, error)
}

// Deps wires a ScopedRepository. Dispatcher, Logger and Metrics are optional.
type Deps struct {
	Engine     *permission.Engine
	Querier    persistence.Querier
	Transactor Transactor
	Pagination config.PaginationConfig
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

type scopedRepository struct {
	engine     *permission.Engine
	q          persistence.Querier
	tx         Transactor
	pages      config.PaginationConfig
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewScopedRepository instantiates repository.
func NewScopedRepository(deps Deps) ScopedRepository {
	return &scopedRepository{
		engine:     deps.Engine,
		q:          deps.Querier,
		tx:         deps.Transactor,
		pages:      deps.Pagination,
		dispatcher: deps.Dispatcher,
		logger:     observability.OrNop(deps.Logger),
		metrics:    deps.Metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// scope resolves the descriptor and role predicate for one call.
func (r *scopedRepository) scope(actor domain.Actor, kind domain.EntityKind) (permission.Descriptor, permission.Predicate, error) {
	pred, err := r.engine.ScopeFor(actor, kind)
	if err != nil {
		return permission.Descriptor{}, permission.Predicate{}, err
	}
	d, err := r.engine.Describe(kind)
	if err != nil {
		return permission.Descriptor{}, permission.Predicate{}, err
	}
	return d, pred, nil
}

func where(b sq.SelectBuilder, pred permission.Predicate, conds []sq.Sqlizer) sq.SelectBuilder {
	if !pred.Empty() {
		b = b.Where(pred)
	}
	for _, c := range conds {
		b = b.Where(c)
	}
	return b
}

func (r *scopedRepository) List(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filters Filters, page Pagination) (domain.Page, error) {
	d, pred, err := r.scope(actor, kind)
	if err != nil {
		return domain.Page{}, err
	}
	conds, err := filters.conditions(d)
	if err != nil {
		return domain.Page{}, err
	}
	limit, offset, err := r.window(actor, page)
	if err != nil {
		return domain.Page{}, err
	}

	query, args, err := where(sq.Select("*").From(d.Table), pred, conds).
		OrderBy(d.UpdatedColumn+" DESC NULLS LAST", d.IDColumn+" DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return domain.Page{}, errorutil.NewInternalError(err)
	}

	res, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{Rows: res.Rows, Limit: limit, Offset: offset}, nil
}

func (r *scopedRepository) Count(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filters Filters) (int64, error) {
	d, pred, err := r.scope(actor, kind)
	if err != nil {
		return 0, err
	}
	conds, err := filters.conditions(d)
	if err != nil {
		return 0, err
	}

	query, args, err := where(sq.Select("COUNT(*) AS total").From(d.Table), pred, conds).ToSql()
	if err != nil {
		return 0, errorutil.NewInternalError(err)
	}
	res, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	switch n := res.Rows[0]["total"].(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	default:
		return 0, errorutil.NewInternalError(fmt.Errorf("unexpected count type %T", n))
	}
}

func (r *scopedRepository) Get(ctx context.Context, actor domain.Actor, kind domain.EntityKind, id string) (domain.Record, bool, error) {
	d, pred, err := r.scope(actor, kind)
	if err != nil {
		return nil, false, err
	}

	query, args, err := where(sq.Select("*").From(d.Table), pred, []sq.Sqlizer{sq.Eq{d.IDColumn: id}}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, false, errorutil.NewInternalError(err)
	}
	res, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	if len(res.Rows) == 0 {
		return nil, false, nil
	}
	return res.Rows[0], true, nil
}

// Mutate updates or deletes one record. The action check runs before any
// statement; the record is then locked and re-checked against its stored
// ownership inside the same transaction as the write.
func (r *scopedRepository) Mutate(ctx context.Context, actor domain.Actor, kind domain.EntityKind, id string, m Mutation) (MutationResult, error) {
	d, pred, err := r.scope(actor, kind)
	if err != nil {
		return MutationResult{}, err
	}
	if d.MutateAction != "" && !r.engine.IsAllowed(actor, d.MutateAction) {
		r.metrics.RecordMutation(string(kind), "denied")
		return MutationResult{}, errorutil.NewPermissionDenied(string(d.MutateAction), string(actor.Role))
	}

	var write sq.Sqlizer
	var changed []string
	if m.Delete {
		write = sq.Delete(d.Table).Where(sq.Eq{d.IDColumn: id})
	} else {
		changes, err := r.updateSet(d, m.Changes)
		if err != nil {
			return MutationResult{}, err
		}
		changed = slices.Sorted(maps.Keys(m.Changes))
		write = sq.Update(d.Table).SetMap(changes).Where(sq.Eq{d.IDColumn: id})
	}
	writeSQL, writeArgs, err := write.ToSql()
	if err != nil {
		return MutationResult{}, errorutil.NewInternalError(err)
	}

	lockSQL, lockArgs, err := where(sq.Select("*").From(d.Table), pred, []sq.Sqlizer{sq.Eq{d.IDColumn: id}}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return MutationResult{}, errorutil.NewInternalError(err)
	}

	result := MutationResult{Outcome: OutcomeNotFoundOrForbidden}
	err = r.tx.Run(ctx, func(ctx context.Context, tx persistence.Tx) error {
		res, err := tx.Query(ctx, lockSQL, lockArgs...)
		if err != nil {
			return err
		}
		if len(res.Rows) == 0 || !r.engine.CanAccessRecord(actor, kind, res.Rows[0]) {
			return nil
		}
		n, err := tx.Exec(ctx, writeSQL, writeArgs...)
		if err != nil {
			return err
		}
		result = MutationResult{Affected: n, Outcome: OutcomeApplied}
		return nil
	})
	if err != nil {
		r.metrics.RecordMutation(string(kind), "failed")
		return MutationResult{}, err
	}
	r.metrics.RecordMutation(string(kind), string(result.Outcome))

	if result.Outcome == OutcomeApplied {
		if m.Delete {
			r.publish(ctx, events.NewEvent(events.EventRecordDeleted, kind, id, actor, nil))
		} else {
			r.publish(ctx, events.NewEvent(events.EventRecordUpdated, kind, id, actor, events.RecordChangedPayload{Columns: changed}))
		}
	}
	return result, nil
}

// updateSet validates changes against the allow-list and stamps the
// updated-at column.
func (r *scopedRepository) updateSet(d permission.Descriptor, changes map[string]any) (map[string]any, error) {
	if len(changes) == 0 {
		return nil, errorutil.NewValidationError("no columns to update", map[string]any{"entity": string(d.Kind)})
	}
	set := make(map[string]any, len(changes)+1)
	for col, v := range changes {
		if !d.IsMutable(col) {
			return nil, errorutil.NewValidationError(
				fmt.Sprintf("column %q is not writable on %s", col, d.Kind),
				map[string]any{"entity": string(d.Kind), "column": col},
			)
		}
		set[col] = v
	}
	if d.UpdatedColumn != "" {
		set[d.UpdatedColumn] = r.now()
	}
	return set, nil
}

// Create inserts a record owned by the actor unless an owner is given.
// The new row must fall inside the actor's own scope.
func (r *scopedRepository) Create(ctx context.Context, actor domain.Actor, kind domain.EntityKind, values map[string]any) (string, error) {
	d, _, err := r.scope(actor, kind)
	if err != nil {
		return "", err
	}
	if d.CreateAction != "" && !r.engine.IsAllowed(actor, d.CreateAction) {
		r.metrics.RecordMutation(string(kind), "denied")
		return "", errorutil.NewPermissionDenied(string(d.CreateAction), string(actor.Role))
	}

	row := make(map[string]any, len(values)+4)
	for col, v := range values {
		if !d.IsMutable(col) && col != d.AgentColumn && col != d.TeamColumn {
			return "", errorutil.NewValidationError(
				fmt.Sprintf("column %q is not writable on %s", col, d.Kind),
				map[string]any{"entity": string(d.Kind), "column": col},
			)
		}
		row[col] = v
	}
	if owner := d.OwnerColumn(); owner != "" {
		if _, ok := row[owner]; !ok {
			row[owner] = actor.ID
		}
	}
	if d.CreatorColumn != "" {
		row[d.CreatorColumn] = actor.ID
	}
	if !r.engine.CanAccessRecord(actor, kind, domain.Record(row)) {
		r.metrics.RecordMutation(string(kind), "denied")
		return "", errorutil.NewPermissionDenied("create "+string(kind)+" outside own scope", string(actor.Role))
	}
	now := r.now()
	if d.DateColumn != "" {
		row[d.DateColumn] = now
	}
	if d.UpdatedColumn != "" {
		row[d.UpdatedColumn] = now
	}

	query, args, err := sq.Insert(d.Table).SetMap(row).Suffix("RETURNING " + d.IDColumn).ToSql()
	if err != nil {
		return "", errorutil.NewInternalError(err)
	}
	res, err := r.q.Query(ctx, query, args...)
	if err != nil {
		r.metrics.RecordMutation(string(kind), "failed")
		return "", err
	}
	if len(res.Rows) == 0 {
		return "", errorutil.NewInternalError(fmt.Errorf("insert into %s returned no id", d.Table))
	}
	id := res.Rows[0].String(d.IDColumn)
	r.metrics.RecordMutation(string(kind), "created")

	r.publish(ctx, events.NewEvent(events.EventRecordCreated, kind, id, actor,
		events.RecordChangedPayload{Columns: slices.Sorted(maps.Keys(values))}))
	return id, nil
}

// Export returns the complete scoped result, fetched one capped page at a time.
func (r *scopedRepository) Export(ctx context.Context, actor domain.Actor, kind domain.EntityKind, filters Filters) ([]domain.Record, error) {
	if err := actor.Validate(); err != nil {
		return nil, errorutil.NewValidationError(err.Error(), nil)
	}
	if !r.engine.IsAllowed(actor, domain.ActionExport) {
		return nil, errorutil.NewPermissionDenied(string(domain.ActionExport), string(actor.Role))
	}

	size := r.pages.RoleCaps[actor.Role]
	if size <= 0 {
		size = r.pages.DefaultPageSize
	}
	var out []domain.Record
	for offset := 0; offset <= r.pages.MaxOffset; offset += size {
		page, err := r.List(ctx, actor, kind, filters, Pagination{Limit: size, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page.Rows...)
		if len(page.Rows) < size {
			return out, nil
		}
	}
	return nil, errorutil.NewValidationError("export exceeds the maximum offset", map[string]any{"max_offset": r.pages.MaxOffset})
}

// window validates the requested page against the role's cap. Oversized
// limits are clamped; a bad offset is rejected.
func (r *scopedRepository) window(actor domain.Actor, p Pagination) (int, int, error) {
	if p.Offset < 0 || p.Offset > r.pages.MaxOffset {
		return 0, 0, errorutil.NewValidationError(
			fmt.Sprintf("offset must be within [0, %d]", r.pages.MaxOffset),
			map[string]any{"offset": p.Offset},
		)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = r.pages.DefaultPageSize
	}
	if maxLimit := r.pages.RoleCaps[actor.Role]; maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit, p.Offset, nil
}

func (r *scopedRepository) publish(ctx context.Context, event events.Event) {
	if r.dispatcher == nil {
		return
	}
	if err := r.dispatcher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish change event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("record_id", event.RecordID),
			zap.Error(err))
	}
}
