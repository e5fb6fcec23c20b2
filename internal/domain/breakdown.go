package domain

import (
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxHierarchyDepth is the deepest level a breakdown node may occupy (root = 0).
const MaxHierarchyDepth = 10

const (
	DefaultCurrency   = "USD"
	EntityPOBreakdown = "po_breakdown"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`) //nolint:gochecknoglobals // compiled once

type BreakdownType string

const (
	BreakdownSAPStandard     BreakdownType = "sap_standard"
	BreakdownCustomHierarchy BreakdownType = "custom_hierarchy"
	BreakdownCostCenter      BreakdownType = "cost_center"
	BreakdownWorkPackage     BreakdownType = "work_package"
)

// POBreakdown is one node of a project's cost-breakdown tree. A node refers to
// its parent by ID only; children are discovered through the repository.
type POBreakdown struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	ParentID  *uuid.UUID

	Name  string
	Code  string // optional, unique among active nodes of a project
	Type  BreakdownType
	Level int

	SAPPONumber      string
	SAPLineItem      string
	OriginalParentID *uuid.UUID
	HierarchyPath    []string
	HasCustomParent  bool

	PlannedAmount   decimal.Decimal
	CommittedAmount decimal.Decimal
	ActualAmount    decimal.Decimal
	RemainingAmount decimal.Decimal
	Currency        string
	ExchangeRate    decimal.Decimal

	Category      string
	Subcategory   string
	CustomFields  map[string]any
	Tags          []string
	Notes         string
	DisplayOrder  int
	ImportBatchID *uuid.UUID

	Version   int
	IsActive  bool
	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateCode reports whether code is an acceptable business code.
// The empty code is allowed (code is optional).
func ValidateCode(code string) error {
	if code == "" {
		return nil
	}
	if len(code) > 100 || !codePattern.MatchString(code) {
		return NewValidationError("code", "only letters, digits, hyphen and underscore are allowed", ErrInvalidCode)
	}
	return nil
}

// RecalculateRemaining restores the remaining = planned - actual invariant.
func (b *POBreakdown) RecalculateRemaining() {
	b.RemainingAmount = b.PlannedAmount.Sub(b.ActualAmount)
}

func (b *POBreakdown) IsRoot() bool {
	return b.ParentID == nil
}

// Clone returns a deep copy of the node.
func (b *POBreakdown) Clone() *POBreakdown {
	c := *b
	c.ParentID = cloneUUIDPtr(b.ParentID)
	c.OriginalParentID = cloneUUIDPtr(b.OriginalParentID)
	c.ImportBatchID = cloneUUIDPtr(b.ImportBatchID)
	c.HierarchyPath = slices.Clone(b.HierarchyPath)
	c.Tags = slices.Clone(b.Tags)
	c.CustomFields = CloneMap(b.CustomFields)
	return &c
}

// BreakdownSnapshot is the serialized state of a node stored in version records.
type BreakdownSnapshot struct {
	ID               uuid.UUID       `json:"id"`
	ProjectID        uuid.UUID       `json:"project_id"`
	ParentID         *uuid.UUID      `json:"parent_id"`
	Name             string          `json:"name"`
	Code             string          `json:"code"`
	Type             BreakdownType   `json:"breakdown_type"`
	Level            int             `json:"hierarchy_level"`
	SAPPONumber      string          `json:"sap_po_number"`
	SAPLineItem      string          `json:"sap_line_item"`
	OriginalParentID *uuid.UUID      `json:"original_parent_id"`
	HierarchyPath    []string        `json:"hierarchy_path"`
	HasCustomParent  bool            `json:"has_custom_parent"`
	PlannedAmount    decimal.Decimal `json:"planned_amount"`
	CommittedAmount  decimal.Decimal `json:"committed_amount"`
	ActualAmount     decimal.Decimal `json:"actual_amount"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount"`
	Currency         string          `json:"currency"`
	ExchangeRate     decimal.Decimal `json:"exchange_rate"`
	Category         string          `json:"category"`
	Subcategory      string          `json:"subcategory"`
	CustomFields     map[string]any  `json:"custom_fields"`
	Tags             []string        `json:"tags"`
	Notes            string          `json:"notes"`
	DisplayOrder     int             `json:"display_order"`
	Version          int             `json:"version"`
	IsActive         bool            `json:"is_active"`
}

// Snapshot returns the node state as a JSON-normalized map, so snapshots compare
// equal whether they were just built or read back from storage. Nil and empty
// collections both serialize as empty.
func (b *POBreakdown) Snapshot() map[string]any {
	path := b.HierarchyPath
	if path == nil {
		path = []string{}
	}
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	fields := b.CustomFields
	if fields == nil {
		fields = map[string]any{}
	}
	return ToMap(BreakdownSnapshot{
		ID:               b.ID,
		ProjectID:        b.ProjectID,
		ParentID:         b.ParentID,
		Name:             b.Name,
		Code:             b.Code,
		Type:             b.Type,
		Level:            b.Level,
		SAPPONumber:      b.SAPPONumber,
		SAPLineItem:      b.SAPLineItem,
		OriginalParentID: b.OriginalParentID,
		HierarchyPath:    path,
		HasCustomParent:  b.HasCustomParent,
		PlannedAmount:    b.PlannedAmount,
		CommittedAmount:  b.CommittedAmount,
		ActualAmount:     b.ActualAmount,
		RemainingAmount:  b.RemainingAmount,
		Currency:         b.Currency,
		ExchangeRate:     b.ExchangeRate,
		Category:         b.Category,
		Subcategory:      b.Subcategory,
		CustomFields:     fields,
		Tags:             tags,
		Notes:            b.Notes,
		DisplayOrder:     b.DisplayOrder,
		Version:          b.Version,
		IsActive:         b.IsActive,
	})
}

// ParseSnapshot decodes a snapshot map produced by Snapshot.
func ParseSnapshot(m map[string]any) (*BreakdownSnapshot, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var s BreakdownSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ToMap converts a JSON-serializable value into a generic map.
func ToMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// CloneMap returns a deep copy of a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneUUIDPtr(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// SameParent reports whether two optional parent references point to the same node.
func SameParent(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type BreakdownRepository interface {
	Create(ctx context.Context, b *POBreakdown) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*POBreakdown, error)
	// GetByCode returns the active node with the given code in a project.
	GetByCode(ctx context.Context, tenantID, projectID uuid.UUID, code string) (*POBreakdown, error)
	Update(ctx context.Context, b *POBreakdown) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	ListByProject(ctx context.Context, tenantID, projectID uuid.UUID, includeInactive bool) ([]*POBreakdown, error)
}
