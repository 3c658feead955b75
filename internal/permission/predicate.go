package permission

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Predicate is a WHERE fragment written with ? placeholders and the values
// bound to them in order. The zero value matches every row.
type Predicate struct {
	Fragment string
	Params   []any
}

var _ sq.Sqlizer = Predicate{}

func newPredicate(s sq.Sqlizer) (Predicate, error) {
	sql, args, err := s.ToSql()
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{Fragment: sql, Params: args}, nil
}

// ToSql lets a Predicate be passed straight to squirrel's Where.
func (p Predicate) ToSql() (string, []any, error) {
	return p.Fragment, p.Params, nil
}

// Empty reports whether the predicate is unrestricted.
func (p Predicate) Empty() bool {
	return p.Fragment == ""
}

// Placeholders counts the ? markers in the fragment.
func (p Predicate) Placeholders() int {
	return strings.Count(p.Fragment, "?")
}

func (p Predicate) String() string {
	if p.Empty() {
		return "TRUE"
	}
	return p.Fragment
}
