package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityKind names a role-scoped CRM resource.
type EntityKind string

const (
	EntityDeal            EntityKind = "deal"
	EntityCallback        EntityKind = "callback"
	EntityTarget          EntityKind = "target"
	EntityNotification    EntityKind = "notification"
	EntityFeedback        EntityKind = "feedback"
	EntityDataCenterEntry EntityKind = "data_center_entry"
)

// EntityKinds lists every known kind.
var EntityKinds = []EntityKind{
	EntityDeal,
	EntityCallback,
	EntityTarget,
	EntityNotification,
	EntityFeedback,
	EntityDataCenterEntry,
}

// ParseEntityKind accepts the canonical names case-insensitively.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EntityKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// Record is one row keyed by column name.
type Record map[string]any

// String returns the column value rendered as a string, "" when absent or NULL.
func (r Record) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case [16]byte:
		// pgx decodes uuid columns to raw bytes
		return uuid.UUID(t).String()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Page is one window of a scoped listing.
type Page struct {
	Rows   []Record
	Limit  int
	Offset int
}
