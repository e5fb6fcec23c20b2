package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeleteVersionNumber marks version records written for hard deletes and
// administrative actions; it sits outside the per-node version sequence.
const DeleteVersionNumber = -1

type ChangeType string

const (
	ChangeCreate            ChangeType = "create"
	ChangeUpdate            ChangeType = "update"
	ChangeDelete            ChangeType = "delete"
	ChangeMove              ChangeType = "move"
	ChangeRestore           ChangeType = "restore"
	ChangeCustomFieldUpdate ChangeType = "custom_field_update"
	ChangeTagUpdate         ChangeType = "tag_update"
	ChangeFinancialUpdate   ChangeType = "financial_update"
)

// VersionRecord captures one mutation of an entity with complete before and
// after snapshots. BeforeValues is nil for creations, AfterValues for hard deletes.
type VersionRecord struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ProjectID     uuid.UUID
	EntityType    string
	EntityID      uuid.UUID
	VersionNumber int
	ChangeType    ChangeType
	ChangeSummary string
	Changes       map[string]FieldChange
	BeforeValues  map[string]any
	AfterValues   map[string]any
	ChangedBy     uuid.UUID
	ChangedAt     time.Time
	Reason        string
	ImportBatchID *uuid.UUID
	IPAddress     string
	UserAgent     string
}

type VersionRepository interface {
	Create(ctx context.Context, v *VersionRecord) error
	// ListByEntity returns records ordered by changed_at, then version number.
	ListByEntity(ctx context.Context, tenantID, entityID uuid.UUID) ([]*VersionRecord, error)
	GetByNumber(ctx context.Context, tenantID, entityID uuid.UUID, version int) (*VersionRecord, error)
	ListByProject(ctx context.Context, tenantID, projectID uuid.UUID, from, to time.Time) ([]*VersionRecord, error)
}
