package permission

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// Engine derives row scoping and action grants from an actor's role. It
// holds no per-request state and is safe for concurrent use.
type Engine struct {
	catalog Catalog
	grants  map[domain.Role]map[domain.Action]struct{}
}

// DefaultGrants is the static role to action matrix.
func DefaultGrants() map[domain.Role][]domain.Action {
	return map[domain.Role][]domain.Action{
		domain.RoleManager: {
			domain.ActionExport,
			domain.ActionCreateNotification,
			domain.ActionManageUsers,
			domain.ActionAssignTarget,
			domain.ActionRespondToFeedback,
		},
		domain.RoleTeamLeader: {domain.ActionSubmitFeedback},
		domain.RoleSalesman:   {domain.ActionSubmitFeedback},
	}
}

// NewEngine builds an engine over the default catalog and grants.
func NewEngine() *Engine {
	return NewEngineWith(DefaultCatalog(), DefaultGrants())
}

// NewEngineWith builds an engine over a custom catalog and matrix.
func NewEngineWith(catalog Catalog, grants map[domain.Role][]domain.Action) *Engine {
	sets := make(map[domain.Role]map[domain.Action]struct{}, len(grants))
	for role, actions := range grants {
		set := make(map[domain.Action]struct{}, len(actions))
		for _, a := range actions {
			set[a] = struct{}{}
		}
		sets[role] = set
	}
	return &Engine{catalog: catalog, grants: sets}
}

// Describe returns the catalog entry for kind.
func (e *Engine) Describe(kind domain.EntityKind) (Descriptor, error) {
	return e.catalog.Lookup(kind)
}

// ScopeFor returns the predicate restricting kind to what actor may see.
//
//	manager      unrestricted
//	team_leader  own rows or rows of the managed team
//	salesman     own rows
//
// Kinds without a team column, or team leaders without a managed team,
// fall back to own rows.
func (e *Engine) ScopeFor(actor domain.Actor, kind domain.EntityKind) (Predicate, error) {
	if err := actor.Validate(); err != nil {
		return Predicate{}, errorutil.NewValidationError(err.Error(), map[string]any{"role": string(actor.Role)})
	}
	d, err := e.catalog.Lookup(kind)
	if err != nil {
		return Predicate{}, err
	}

	own := sq.Eq{d.OwnerColumn(): actor.ID}
	switch actor.Role {
	case domain.RoleManager:
		return Predicate{}, nil
	case domain.RoleTeamLeader:
		if d.HasTeam() && actor.ManagedTeam != "" {
			return newPredicate(sq.Or{own, sq.Eq{d.TeamColumn: actor.ManagedTeam}})
		}
	}
	return newPredicate(own)
}

// IsAllowed looks action up in the static matrix. Unknown roles hold nothing.
func (e *Engine) IsAllowed(actor domain.Actor, action domain.Action) bool {
	_, ok := e.grants[actor.Role][action]
	return ok
}

// AllowedActions lists the actions granted to actor's role in matrix order.
func (e *Engine) AllowedActions(actor domain.Actor) []domain.Action {
	var out []domain.Action
	for _, a := range domain.Actions {
		if e.IsAllowed(actor, a) {
			out = append(out, a)
		}
	}
	return out
}

// CanAccessRecord applies the scoping rule to one fetched row. It must agree
// with ScopeFor: a row passes here exactly when the predicate selects it.
func (e *Engine) CanAccessRecord(actor domain.Actor, kind domain.EntityKind, rec domain.Record) bool {
	if actor.Validate() != nil {
		return false
	}
	d, err := e.catalog.Lookup(kind)
	if err != nil {
		return false
	}

	switch actor.Role {
	case domain.RoleManager:
		return true
	case domain.RoleTeamLeader:
		if d.HasTeam() && actor.ManagedTeam != "" && rec.String(d.TeamColumn) == actor.ManagedTeam {
			return true
		}
	}
	return rec.String(d.OwnerColumn()) == actor.ID
}
