package domain

import "errors"

// Actor is the identity a caller presents for one operation. It is built
// per request and never persisted.
type Actor struct {
	ID   string
	Role Role
	// ManagedTeam is the team a team_leader may see besides their own
	// records. Empty means none.
	ManagedTeam string
}

// Validate rejects actors that cannot be scoped.
func (a Actor) Validate() error {
	if a.ID == "" {
		return errors.New("actor id required")
	}
	if !a.Role.Valid() {
		return errors.New("actor role invalid")
	}
	return nil
}
