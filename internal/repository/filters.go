package repository

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/permission"
	"github.com/spec-kit/salescrm/pkg/util/errorutil"
)

// Filters narrow a scoped listing. They are ANDed with the role predicate
// and can never widen it.
type Filters struct {
	Statuses    []string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SearchTerm  string
	AgentID     string
	Team        string
}

// Pagination is the requested window. A zero Limit means the default page size.
type Pagination struct {
	Limit  int
	Offset int
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// conditions renders f against d's columns.
func (f Filters) conditions(d permission.Descriptor) ([]sq.Sqlizer, error) {
	var conds []sq.Sqlizer

	if len(f.Statuses) > 0 {
		if d.StatusColumn == "" {
			return nil, unsupportedFilter(d.Kind, "statuses")
		}
		conds = append(conds, sq.Eq{d.StatusColumn: f.Statuses})
	}
	if f.CreatedFrom != nil {
		conds = append(conds, sq.GtOrEq{d.DateColumn: *f.CreatedFrom})
	}
	if f.CreatedTo != nil {
		conds = append(conds, sq.LtOrEq{d.DateColumn: *f.CreatedTo})
	}
	if term := strings.TrimSpace(f.SearchTerm); term != "" {
		if len(d.SearchColumns) == 0 {
			return nil, unsupportedFilter(d.Kind, "search")
		}
		pattern := "%" + likeEscaper.Replace(term) + "%"
		or := make(sq.Or, 0, len(d.SearchColumns))
		for _, col := range d.SearchColumns {
			or = append(or, sq.ILike{col: pattern})
		}
		conds = append(conds, or)
	}
	if f.AgentID != "" {
		conds = append(conds, sq.Eq{d.OwnerColumn(): f.AgentID})
	}
	if f.Team != "" {
		if !d.HasTeam() {
			return nil, unsupportedFilter(d.Kind, "team")
		}
		conds = append(conds, sq.Eq{d.TeamColumn: f.Team})
	}
	return conds, nil
}

func unsupportedFilter(kind domain.EntityKind, name string) error {
	return errorutil.NewValidationError(
		fmt.Sprintf("%s does not support the %s filter", kind, name),
		map[string]any{"entity": string(kind), "filter": name},
	)
}
