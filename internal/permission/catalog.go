package permission

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spec-kit/salescrm/internal/domain"
)

// ErrUnknownEntity is returned for an entity kind missing from the catalog.
var ErrUnknownEntity = errors.New("unknown entity kind")

// Descriptor names the columns the scoping rules and the repository need
// for one entity kind. Empty optional columns mean the concept is absent.
type Descriptor struct {
	Kind     domain.EntityKind
	Table    string
	IDColumn string
	// AgentColumn holds the owning agent, or the owning user for kinds
	// without a team concept.
	AgentColumn   string
	TeamColumn    string
	CreatorColumn string
	UpdatedColumn string
	StatusColumn  string
	DateColumn    string
	SearchColumns []string
	// Mutable is the allow-list of columns an update may touch.
	Mutable      []string
	CreateAction domain.Action
	MutateAction domain.Action
}

// OwnerColumn is the column compared against the actor id. The creator
// stands in when the kind has no agent column.
func (d Descriptor) OwnerColumn() string {
	if d.AgentColumn != "" {
		return d.AgentColumn
	}
	return d.CreatorColumn
}

// HasTeam reports whether rows of this kind belong to a team.
func (d Descriptor) HasTeam() bool {
	return d.TeamColumn != ""
}

// IsMutable reports whether column is on the update allow-list.
func (d Descriptor) IsMutable(column string) bool {
	return slices.Contains(d.Mutable, column)
}

// Catalog maps entity kinds to their descriptors.
type Catalog map[domain.EntityKind]Descriptor

// Lookup returns the descriptor for kind.
func (c Catalog) Lookup(kind domain.EntityKind) (Descriptor, error) {
	d, ok := c[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownEntity, kind)
	}
	return d, nil
}

var customerSearch = []string{"customer_name", "phone_number", "email"}

// DefaultCatalog describes the CRM tables.
func DefaultCatalog() Catalog {
	return Catalog{
		domain.EntityDeal: {
			Kind:          domain.EntityDeal,
			Table:         "deals",
			IDColumn:      "id",
			AgentColumn:   "sales_agent_id",
			TeamColumn:    "team_name",
			CreatorColumn: "created_by",
			UpdatedColumn: "updated_at",
			StatusColumn:  "status",
			DateColumn:    "created_at",
			SearchColumns: customerSearch,
			Mutable:       []string{"customer_name", "phone_number", "email", "status", "amount", "notes", "closing_date"},
		},
		domain.EntityCallback: {
			Kind:          domain.EntityCallback,
			Table:         "callbacks",
			IDColumn:      "id",
			AgentColumn:   "sales_agent_id",
			TeamColumn:    "team_name",
			CreatorColumn: "created_by",
			UpdatedColumn: "updated_at",
			StatusColumn:  "status",
			DateColumn:    "created_at",
			SearchColumns: customerSearch,
			Mutable:       []string{"customer_name", "phone_number", "email", "status", "notes", "callback_date"},
		},
		domain.EntityTarget: {
			Kind:          domain.EntityTarget,
			Table:         "targets",
			IDColumn:      "id",
			AgentColumn:   "agent_id",
			TeamColumn:    "team_name",
			CreatorColumn: "created_by",
			UpdatedColumn: "updated_at",
			DateColumn:    "created_at",
			Mutable:       []string{"agent_id", "team_name", "amount", "period_start", "period_end"},
			CreateAction:  domain.ActionAssignTarget,
			MutateAction:  domain.ActionAssignTarget,
		},
		domain.EntityNotification: {
			Kind:          domain.EntityNotification,
			Table:         "notifications",
			IDColumn:      "id",
			AgentColumn:   "user_id",
			CreatorColumn: "sender_id",
			UpdatedColumn: "updated_at",
			DateColumn:    "created_at",
			SearchColumns: []string{"title", "message"},
			Mutable:       []string{"is_read"},
			CreateAction:  domain.ActionCreateNotification,
		},
		domain.EntityFeedback: {
			Kind:          domain.EntityFeedback,
			Table:         "feedback",
			IDColumn:      "id",
			AgentColumn:   "user_id",
			UpdatedColumn: "updated_at",
			StatusColumn:  "status",
			DateColumn:    "created_at",
			SearchColumns: []string{"message"},
			Mutable:       []string{"status", "response"},
			CreateAction:  domain.ActionSubmitFeedback,
			MutateAction:  domain.ActionRespondToFeedback,
		},
		domain.EntityDataCenterEntry: {
			Kind:          domain.EntityDataCenterEntry,
			Table:         "data_center",
			IDColumn:      "id",
			AgentColumn:   "sales_agent_id",
			TeamColumn:    "team_name",
			CreatorColumn: "uploaded_by",
			UpdatedColumn: "updated_at",
			DateColumn:    "created_at",
			SearchColumns: customerSearch,
			Mutable:       []string{"customer_name", "phone_number", "email", "notes"},
		},
	}
}
