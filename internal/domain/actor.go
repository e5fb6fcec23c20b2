package domain

import "github.com/google/uuid"

// SystemActorID identifies automated changes (total recalculation, placeholder
// creation, chain verification). It is stable so system activity can be queried.
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-00000000c0de") //nolint:gochecknoglobals // well-known actor

// Actor describes who performed a mutation and from where.
type Actor struct {
	ID        uuid.UUID
	IPAddress string
	UserAgent string
	SessionID string
}

// SystemActor returns the Actor used for automated changes.
func SystemActor() Actor {
	return Actor{ID: SystemActorID}
}

// IsSystem reports whether the actor is the system sentinel or unset.
func (a Actor) IsSystem() bool {
	return a.ID == SystemActorID || a.ID == uuid.Nil
}
