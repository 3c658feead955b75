package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/salescrm/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRecordCreated EventType = "record.created"
	EventRecordUpdated EventType = "record.updated"
	EventRecordDeleted EventType = "record.deleted"
)

// EventTypes lists every type a subscriber may register for.
var EventTypes = []EventType{EventRecordCreated, EventRecordUpdated, EventRecordDeleted}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID          string      `json:"id"`
	Role        domain.Role `json:"role"`
	ManagedTeam string      `json:"managed_team,omitempty"`
}

// Event represents a committed change to a scoped record.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Entity    domain.EntityKind `json:"entity"`
	RecordID  string            `json:"record_id"`
	Actor     Actor             `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
}

// RecordChangedPayload lists the columns written by a create or update.
type RecordChangedPayload struct {
	Columns []string `json:"columns"`
}

// NewEvent stamps a fresh id and the current time.
func NewEvent(t EventType, kind domain.EntityKind, recordID string, actor domain.Actor, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Entity:    kind,
		RecordID:  recordID,
		Actor:     Actor{ID: actor.ID, Role: actor.Role, ManagedTeam: actor.ManagedTeam},
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
