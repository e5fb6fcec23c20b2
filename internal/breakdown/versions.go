package breakdown

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

// FieldDiff is one before/after pair in a change log entry.
type FieldDiff struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// ChangeLogEntry is a version record annotated with its per-field changes.
type ChangeLogEntry struct {
	VersionNumber int               `json:"version_number"`
	ChangeType    domain.ChangeType `json:"change_type"`
	Summary       string            `json:"summary"`
	Reason        string            `json:"reason,omitempty"`
	ChangedBy     uuid.UUID         `json:"changed_by"`
	ChangedAt     time.Time         `json:"changed_at"`
	Fields        []FieldDiff       `json:"fields"`
	BeforeValues  map[string]any    `json:"before_values"`
	AfterValues   map[string]any    `json:"after_values"`
}

// Versions returns the version records of a node in chronological order.
func (s *Service) Versions(ctx context.Context, tenantID, id uuid.UUID) ([]*domain.VersionRecord, error) {
	recs, err := s.versions.ListByEntity(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.Versions: %w", err)
	}
	return recs, nil
}

// ChangeLog returns the history of a node newest-first, with the stored
// field changes flattened into sorted before/after pairs.
func (s *Service) ChangeLog(ctx context.Context, tenantID, id uuid.UUID) ([]ChangeLogEntry, error) {
	recs, err := s.versions.ListByEntity(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("breakdown.Service.ChangeLog: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("breakdown.Service.ChangeLog: %w", domain.ErrNotFound)
	}

	slices.SortStableFunc(recs, func(a, b *domain.VersionRecord) int {
		return cmp.Or(
			b.ChangedAt.Compare(a.ChangedAt),
			cmp.Compare(versionOrder(b.VersionNumber), versionOrder(a.VersionNumber)),
		)
	})

	out := make([]ChangeLogEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, ChangeLogEntry{
			VersionNumber: r.VersionNumber,
			ChangeType:    r.ChangeType,
			Summary:       r.ChangeSummary,
			Reason:        r.Reason,
			ChangedBy:     r.ChangedBy,
			ChangedAt:     r.ChangedAt,
			Fields:        flattenChanges(r.Changes),
			BeforeValues:  r.BeforeValues,
			AfterValues:   r.AfterValues,
		})
	}
	return out, nil
}

// versionOrder sorts the delete marker after every regular version.
func versionOrder(v int) int {
	if v == domain.DeleteVersionNumber {
		return math.MaxInt
	}
	return v
}

func flattenChanges(changes map[string]domain.FieldChange) []FieldDiff {
	out := make([]FieldDiff, 0, len(changes))
	for f, c := range changes {
		out = append(out, FieldDiff{Field: f, Old: c.Old, New: c.New})
	}
	slices.SortFunc(out, func(a, b FieldDiff) int { return cmp.Compare(a.Field, b.Field) })
	return out
}
