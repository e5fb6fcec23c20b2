package breakdown

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gosuda/costtrail/internal/domain"
)

// Rollup is the aggregated amount of a node and everything below it.
type Rollup struct {
	Planned   decimal.Decimal `json:"planned"`
	Committed decimal.Decimal `json:"committed"`
	Actual    decimal.Decimal `json:"actual"`
	Remaining decimal.Decimal `json:"remaining"`
}

func (r Rollup) add(o Rollup) Rollup {
	return Rollup{
		Planned:   r.Planned.Add(o.Planned),
		Committed: r.Committed.Add(o.Committed),
		Actual:    r.Actual.Add(o.Actual),
		Remaining: r.Remaining.Add(o.Remaining),
	}
}

func ownAmounts(n *domain.POBreakdown) Rollup {
	return Rollup{
		Planned:   n.PlannedAmount,
		Committed: n.CommittedAmount,
		Actual:    n.ActualAmount,
		Remaining: n.PlannedAmount.Sub(n.ActualAmount),
	}
}

// CalculateCostRollups aggregates amounts bottom-up. Each node's rollup is its
// own amounts plus the rollups of its direct children within nodes; children
// outside the set contribute nothing. The input slice is not modified.
func CalculateCostRollups(nodes []*domain.POBreakdown) map[uuid.UUID]Rollup {
	sorted := slices.Clone(nodes)
	slices.SortStableFunc(sorted, func(a, b *domain.POBreakdown) int {
		return cmp.Compare(b.Level, a.Level)
	})

	present := make(map[uuid.UUID]bool, len(sorted))
	for _, n := range sorted {
		present[n.ID] = true
	}

	childSums := make(map[uuid.UUID]Rollup, len(sorted))
	out := make(map[uuid.UUID]Rollup, len(sorted))
	for _, n := range sorted {
		r := ownAmounts(n).add(childSums[n.ID])
		out[n.ID] = r
		if n.ParentID != nil && present[*n.ParentID] {
			childSums[*n.ParentID] = childSums[*n.ParentID].add(r)
		}
	}
	return out
}

// HierarchyIssue describes one problem found by ValidateHierarchy.
type HierarchyIssue struct {
	NodeID  uuid.UUID `json:"node_id"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// HierarchyReport separates structural errors from warnings.
type HierarchyReport struct {
	Valid    bool             `json:"valid"`
	Errors   []HierarchyIssue `json:"errors"`
	Warnings []HierarchyIssue `json:"warnings"`
}

// ValidateHierarchy checks a candidate node set: every non-root node's parent
// must be in the set and exactly one level above. A parentless node that does
// not sit at level 0 is only a warning.
func ValidateHierarchy(nodes []*domain.POBreakdown) HierarchyReport {
	byID := make(map[uuid.UUID]*domain.POBreakdown, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	report := HierarchyReport{Errors: []HierarchyIssue{}, Warnings: []HierarchyIssue{}}
	for _, n := range nodes {
		if n.ParentID == nil {
			if n.Level != 0 {
				report.Warnings = append(report.Warnings, HierarchyIssue{
					NodeID:  n.ID,
					Code:    n.Code,
					Message: fmt.Sprintf("node at level %d has no parent", n.Level),
				})
			}
			continue
		}

		parent, ok := byID[*n.ParentID]
		if !ok {
			report.Errors = append(report.Errors, HierarchyIssue{
				NodeID:  n.ID,
				Code:    n.Code,
				Message: fmt.Sprintf("parent %s not found", *n.ParentID),
			})
			continue
		}
		if parent.Level != n.Level-1 {
			report.Errors = append(report.Errors, HierarchyIssue{
				NodeID:  n.ID,
				Code:    n.Code,
				Message: fmt.Sprintf("level %d does not follow parent level %d", n.Level, parent.Level),
			})
		}
	}

	report.Valid = len(report.Errors) == 0
	return report
}
