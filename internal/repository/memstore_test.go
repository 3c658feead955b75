package repository

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/salescrm/internal/domain"
	"github.com/spec-kit/salescrm/internal/persistence"
)

var selectStmt = regexp.MustCompile(`^SELECT (\*|COUNT\(\*\) AS total) FROM (\w+)(?: WHERE (.+?))?( ORDER BY .+?)?(?: LIMIT (\d+))?(?: OFFSET (\d+))?$`)

// memStore evaluates the SELECT statements the repository builds against
// in-memory tables. It understands conjunctions of `col = ?`, `col IN (?,...)`
// and parenthesised OR groups of those, which is all scoping and filtering emit.
type memStore struct {
	t      *testing.T
	tables map[string][]domain.Record
}

func (m *memStore) Query(_ context.Context, sql string, args ...any) (*persistence.Result, error) {
	m.t.Helper()
	parts := selectStmt.FindStringSubmatch(sql)
	if parts == nil {
		m.t.Fatalf("unsupported statement: %s", sql)
	}
	count, table, cond, ordered := parts[1] != "*", parts[2], parts[3], parts[4] != ""

	var out []domain.Record
	for _, rec := range m.tables[table] {
		if cond == "" || m.matches(cond, args, rec) {
			out = append(out, rec)
		}
	}
	if count {
		return &persistence.Result{Rows: []domain.Record{{"total": int64(len(out))}}}, nil
	}

	if ordered {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i]["updated_at"].(time.Time), out[j]["updated_at"].(time.Time)
			if !a.Equal(b) {
				return a.After(b)
			}
			return out[i].String("id") > out[j].String("id")
		})
	}
	offset := atoiOr(parts[6], 0)
	limit := atoiOr(parts[5], len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:min(offset+limit, len(out))]
	return &persistence.Result{Rows: out, RowsAffected: int64(len(out))}, nil
}

func (m *memStore) matches(cond string, args []any, rec domain.Record) bool {
	m.t.Helper()
	next := 0
	ok := true
	for _, term := range splitTopLevel(cond, " AND ") {
		term = strings.TrimSpace(term)
		if strings.HasPrefix(term, "(") && strings.HasSuffix(term, ")") {
			term = term[1 : len(term)-1]
		}
		matched := false
		for _, atom := range splitTopLevel(term, " OR ") {
			hit, used := m.atom(strings.TrimSpace(atom), args[next:], rec)
			next += used
			matched = matched || hit
		}
		ok = ok && matched
	}
	if next != len(args) {
		m.t.Fatalf("%q consumed %d of %d args", cond, next, len(args))
	}
	return ok
}

func (m *memStore) atom(atom string, args []any, rec domain.Record) (hit bool, used int) {
	m.t.Helper()
	switch {
	case strings.HasSuffix(atom, " = ?"):
		return equal(rec[strings.TrimSuffix(atom, " = ?")], args[0]), 1
	case strings.Contains(atom, " IN ("):
		col := atom[:strings.Index(atom, " IN (")]
		n := strings.Count(atom, "?")
		for _, v := range args[:n] {
			hit = hit || equal(rec[col], v)
		}
		return hit, n
	default:
		m.t.Fatalf("unsupported condition %q", atom)
		return false, 0
	}
}

func equal(stored, param any) bool {
	return stored != nil && fmt.Sprint(stored) == fmt.Sprint(param)
}

func splitTopLevel(s, sep string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			out = append(out, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}
	return append(out, s[start:])
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// callbackFixture is ten pending callbacks: three owned by U1, four more in
// team ALPHA and three unrelated. Later rows were updated more recently.
func callbackFixture() []domain.Record {
	seed := []struct{ id, agent, team string }{
		{"c01", "U1", "BETA"}, {"c02", "U1", "BETA"}, {"c03", "U1", ""},
		{"c04", "U5", "ALPHA"}, {"c05", "U6", "ALPHA"}, {"c06", "U7", "ALPHA"}, {"c07", "U8", "ALPHA"},
		{"c08", "U2", "BETA"}, {"c09", "U3", "GAMMA"}, {"c10", "U4", ""},
	}
	out := make([]domain.Record, 0, len(seed))
	for i, s := range seed {
		rec := domain.Record{
			"id":             s.id,
			"status":         "pending",
			"sales_agent_id": s.agent,
			"team_name":      nil,
			"updated_at":     time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		}
		if s.team != "" {
			rec["team_name"] = s.team
		}
		out = append(out, rec)
	}
	return out
}
