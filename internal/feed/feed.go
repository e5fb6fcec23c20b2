// Package feed publishes live change events for project and tenant channels.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Publisher abstracts the Redis pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

const (
	BreakdownCreated  = "breakdown_created"
	BreakdownUpdated  = "breakdown_updated"
	BreakdownMoved    = "breakdown_moved"
	BreakdownDeleted  = "breakdown_deleted"
	BreakdownRestored = "breakdown_restored"
	VarianceAlert     = "variance_alert"
	ImportFinished    = "import_finished"
	IntegrityBreach   = "integrity_breach"
)

// Event is the JSON payload delivered to feed subscribers.
type Event struct {
	Type      string    `json:"type"`
	TenantID  uuid.UUID `json:"tenant_id"`
	ProjectID uuid.UUID `json:"project_id,omitzero"`
	EntityID  uuid.UUID `json:"entity_id,omitzero"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// ProjectChannel returns the Redis channel name for a project's change feed.
func ProjectChannel(tenantID, projectID uuid.UUID) string {
	return "project:" + tenantID.String() + ":" + projectID.String()
}

// TenantChannel returns the Redis channel name for tenant-wide events.
func TenantChannel(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

// Emitter serializes events and publishes them. A nil Emitter, or one
// without a publisher, drops events.
type Emitter struct {
	pub Publisher
	now func() time.Time
}

func NewEmitter(pub Publisher) *Emitter {
	return &Emitter{pub: pub, now: time.Now}
}

// Emit publishes ev on its project channel, or on the tenant channel when the
// event has no project. Delivery failures are logged; the feed is advisory.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.pub == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("feed.Emit: marshal event")
		return
	}

	channel := TenantChannel(ev.TenantID)
	if ev.ProjectID != uuid.Nil {
		channel = ProjectChannel(ev.TenantID, ev.ProjectID)
	}

	if err := e.pub.Publish(ctx, channel, payload); err != nil {
		log.Warn().Err(err).Str("channel", channel).Str("type", ev.Type).Msg("feed.Emit: publish failed")
	}
}
