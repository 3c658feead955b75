package domain

import (
	"fmt"
	"strings"
)

// Role enumerates CRM user roles. Visibility is ordered
// manager ⊇ team_leader ⊇ salesman.
type Role string

const (
	RoleManager    Role = "manager"
	RoleTeamLeader Role = "team_leader"
	RoleSalesman   Role = "salesman"
)

// Roles lists every role from widest to narrowest visibility.
var Roles = []Role{RoleManager, RoleTeamLeader, RoleSalesman}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleManager, RoleTeamLeader, RoleSalesman:
		return true
	}
	return false
}

// ParseRole accepts the canonical names case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Action is a role-gated operation that is not expressed as row scoping.
type Action string

const (
	ActionExport             Action = "export"
	ActionCreateNotification Action = "create_notification"
	ActionManageUsers        Action = "manage_users"
	ActionAssignTarget       Action = "assign_target"
	ActionRespondToFeedback  Action = "respond_to_feedback"
	ActionSubmitFeedback     Action = "submit_feedback"
)

// Actions lists every known action.
var Actions = []Action{
	ActionExport,
	ActionCreateNotification,
	ActionManageUsers,
	ActionAssignTarget,
	ActionRespondToFeedback,
	ActionSubmitFeedback,
}
