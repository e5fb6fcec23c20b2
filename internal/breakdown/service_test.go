package breakdown_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/audit"
	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/domain"
	"github.com/gosuda/costtrail/internal/store/memory"
)

type fixture struct {
	svc       *breakdown.Service
	store     *memory.Store
	audit     *audit.Logger
	tenantID  uuid.UUID
	projectID uuid.UUID
	actor     domain.Actor
}

type mockRecalculator struct {
	calls          atomic.Int32
	recalculateErr error
}

func (m *mockRecalculator) Recalculate(context.Context, uuid.UUID, uuid.UUID) error {
	m.calls.Add(1)
	return m.recalculateErr
}

func ticking() func() time.Time {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time { return base.Add(time.Duration(n.Add(1)) * time.Second) }
}

func newFixture(t *testing.T, opts ...breakdown.Option) *fixture {
	t.Helper()

	st := memory.New()
	clock := ticking()
	logger := audit.NewLogger(st.Audit(), st.IntegrityAlerts(), audit.WithClock(clock))
	opts = append([]breakdown.Option{breakdown.WithClock(clock)}, opts...)
	return &fixture{
		svc:       breakdown.NewService(st.Breakdowns(), st.Versions(), logger, opts...),
		store:     st,
		audit:     logger,
		tenantID:  uuid.New(),
		projectID: uuid.New(),
		actor:     domain.Actor{ID: uuid.New(), IPAddress: "192.0.2.7"},
	}
}

func (f *fixture) input(name, code string, parent *domain.POBreakdown, planned, actual int64) breakdown.CreateInput {
	in := breakdown.CreateInput{
		TenantID:      f.tenantID,
		ProjectID:     f.projectID,
		Name:          name,
		Code:          code,
		PlannedAmount: decimal.NewFromInt(planned),
		ActualAmount:  decimal.NewFromInt(actual),
		Actor:         f.actor,
	}
	if parent != nil {
		in.ParentID = &parent.ID
	}
	return in
}

func (f *fixture) create(t *testing.T, name, code string, parent *domain.POBreakdown, planned, actual int64) *domain.POBreakdown {
	t.Helper()
	n, err := f.svc.Create(context.Background(), f.input(name, code, parent, planned, actual))
	require.NoError(t, err)
	return n
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *domain.POBreakdown {
	t.Helper()
	n, err := f.svc.Get(context.Background(), f.tenantID, id)
	require.NoError(t, err)
	return n
}

func (f *fixture) versionNumbers(t *testing.T, id uuid.UUID) []int {
	t.Helper()
	recs, err := f.svc.Versions(context.Background(), f.tenantID, id)
	require.NoError(t, err)
	out := make([]int, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.VersionNumber)
	}
	return out
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreate(t *testing.T) {
	t.Parallel()

	t.Run("root_defaults", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		n := f.create(t, "Site works", "SW", nil, 1000, 250)

		assert.Equal(t, 0, n.Level)
		assert.Equal(t, 1, n.Version)
		assert.True(t, n.IsActive)
		assert.Equal(t, domain.BreakdownCustomHierarchy, n.Type)
		assert.Equal(t, domain.DefaultCurrency, n.Currency)
		assert.True(t, n.ExchangeRate.Equal(dec(1)))
		assert.True(t, n.RemainingAmount.Equal(dec(750)))
		assert.Empty(t, n.HierarchyPath)
		assert.Equal(t, f.actor.ID, n.CreatedBy)

		recs, err := f.svc.Versions(context.Background(), f.tenantID, n.ID)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, domain.ChangeCreate, recs[0].ChangeType)
		assert.Nil(t, recs[0].BeforeValues)
		assert.Equal(t, "Site works", recs[0].AfterValues["name"])
		assert.Equal(t, "192.0.2.7", recs[0].IPAddress)
	})

	t.Run("child_placement", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		in := f.input("Line 10", "R-10", root, 100, 0)
		in.Type = domain.BreakdownSAPStandard
		child, err := f.svc.Create(context.Background(), in)
		require.NoError(t, err)
		grandchild := f.create(t, "Line 10.1", "R-10-1", child, 40, 0)

		assert.Equal(t, 1, child.Level)
		assert.Equal(t, []string{root.ID.String()}, child.HierarchyPath)
		require.NotNil(t, child.OriginalParentID)
		assert.Equal(t, root.ID, *child.OriginalParentID)
		assert.False(t, child.HasCustomParent)

		assert.Equal(t, 2, grandchild.Level)
		assert.Equal(t, []string{root.ID.String(), child.ID.String()}, grandchild.HierarchyPath)
		assert.Nil(t, grandchild.OriginalParentID, "only SAP nodes keep their original parent")
	})

	t.Run("parent_totals_follow_children", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 1000, 0)
		f.create(t, "A", "A", root, 400, 100)
		f.create(t, "B", "B", root, 250, 50)

		got := f.get(t, root.ID)
		assert.True(t, got.PlannedAmount.Equal(dec(650)))
		assert.True(t, got.ActualAmount.Equal(dec(150)))
		assert.True(t, got.RemainingAmount.Equal(dec(500)))
		assert.Equal(t, []int{1, 2, 3}, f.versionNumbers(t, root.ID))

		recs, err := f.svc.Versions(context.Background(), f.tenantID, root.ID)
		require.NoError(t, err)
		last := recs[len(recs)-1]
		assert.Equal(t, domain.ChangeFinancialUpdate, last.ChangeType)
		assert.Equal(t, domain.SystemActorID, last.ChangedBy)
	})

	t.Run("errors", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		inactive := f.create(t, "Gone", "G", nil, 0, 0)
		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, inactive.ID, false, f.actor, ""))

		other := f.input("Other project", "OP", nil, 0, 0)
		other.ProjectID = uuid.New()
		foreign, err := f.svc.Create(context.Background(), other)
		require.NoError(t, err)

		missing := uuid.New()
		tests := []struct {
			name  string
			in    breakdown.CreateInput
			cause error
		}{
			{"duplicate_code", f.input("Again", "R", nil, 0, 0), domain.ErrDuplicateCode},
			{"invalid_code", f.input("Bad", "bad code!", nil, 0, 0), domain.ErrInvalidCode},
			{"negative_amount", f.input("Neg", "", nil, -1, 0), domain.ErrNegativeAmount},
			{"inactive_parent", f.input("Child", "", inactive, 0, 0), domain.ErrInactiveNode},
			{"foreign_parent", f.input("Child", "", foreign, 0, 0), domain.ErrParentMismatch},
			{"missing_parent", func() breakdown.CreateInput {
				in := f.input("Child", "", nil, 0, 0)
				in.ParentID = &missing
				return in
			}(), domain.ErrNotFound},
			{"empty_name", f.input("  ", "", root, 0, 0), nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.Create(context.Background(), tt.in)
				require.ErrorIs(t, err, domain.ErrValidation)
				if tt.cause != nil {
					assert.ErrorIs(t, err, tt.cause)
				}
			})
		}
	})
}

func TestDepthLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	var chain []*domain.POBreakdown
	var parent *domain.POBreakdown
	for range domain.MaxHierarchyDepth + 1 {
		parent = f.create(t, "Level", "", parent, 0, 0)
		chain = append(chain, parent)
	}
	assert.Equal(t, domain.MaxHierarchyDepth, parent.Level)

	_, err := f.svc.Create(context.Background(), f.input("Too deep", "", parent, 0, 0))
	require.ErrorIs(t, err, domain.ErrMaxDepthExceeded)

	sub := f.create(t, "Subtree", "", nil, 0, 0)
	f.create(t, "Subtree child", "", sub, 0, 0)

	_, err = f.svc.Move(context.Background(), f.tenantID, sub.ID, &chain[9].ID, f.actor, true)
	require.ErrorIs(t, err, domain.ErrMaxDepthExceeded, "child would land on level 11")

	res, err := f.svc.Move(context.Background(), f.tenantID, sub.ID, &chain[8].ID, f.actor, false)
	require.NoError(t, err)
	assert.Equal(t, 9, res.NewLevel)
}

func TestMove(t *testing.T) {
	t.Parallel()

	type tree struct {
		f            *fixture
		root1, root2 *domain.POBreakdown
		a, a1, b     *domain.POBreakdown
	}
	build := func(t *testing.T) tree {
		t.Helper()
		f := newFixture(t)
		root1 := f.create(t, "Root 1", "R1", nil, 0, 0)
		root2 := f.create(t, "Root 2", "R2", nil, 0, 0)
		in := f.input("A", "A", root1, 0, 0)
		in.Type = domain.BreakdownSAPStandard
		a, err := f.svc.Create(context.Background(), in)
		require.NoError(t, err)
		a1 := f.create(t, "A1", "A1", a, 300, 100)
		b := f.create(t, "B", "B", root2, 200, 0)
		return tree{f: f, root1: root1, root2: root2, a: a, a1: a1, b: b}
	}

	t.Run("reparents_and_relevels", func(t *testing.T) {
		t.Parallel()

		tr := build(t)
		f := tr.f
		res, err := f.svc.Move(context.Background(), f.tenantID, tr.a.ID, &tr.root2.ID, f.actor, false)
		require.NoError(t, err)
		assert.Equal(t, 1, res.OldLevel)
		assert.Equal(t, 1, res.NewLevel)
		assert.Equal(t, 1, res.AffectedDescendants)
		assert.False(t, res.ValidateOnly)

		a := f.get(t, tr.a.ID)
		require.NotNil(t, a.ParentID)
		assert.Equal(t, tr.root2.ID, *a.ParentID)
		assert.Equal(t, []string{tr.root2.ID.String()}, a.HierarchyPath)
		assert.True(t, a.HasCustomParent)
		assert.Equal(t, tr.root1.ID, *a.OriginalParentID)

		a1 := f.get(t, tr.a1.ID)
		assert.Equal(t, []string{tr.root2.ID.String(), tr.a.ID.String()}, a1.HierarchyPath)

		root2 := f.get(t, tr.root2.ID)
		assert.True(t, root2.PlannedAmount.Equal(dec(500)))
		assert.True(t, root2.ActualAmount.Equal(dec(100)))

		recs, err := f.svc.Versions(context.Background(), f.tenantID, tr.a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ChangeMove, recs[len(recs)-1].ChangeType)
	})

	t.Run("to_root_relevels_subtree", func(t *testing.T) {
		t.Parallel()

		tr := build(t)
		f := tr.f
		res, err := f.svc.Move(context.Background(), f.tenantID, tr.a.ID, nil, f.actor, false)
		require.NoError(t, err)
		assert.Equal(t, 0, res.NewLevel)

		a := f.get(t, tr.a.ID)
		assert.Nil(t, a.ParentID)
		assert.Equal(t, 0, a.Level)
		a1 := f.get(t, tr.a1.ID)
		assert.Equal(t, 1, a1.Level)
		assert.Equal(t, []string{tr.a.ID.String()}, a1.HierarchyPath)

		recs, err := f.svc.Versions(context.Background(), f.tenantID, tr.a1.ID)
		require.NoError(t, err)
		last := recs[len(recs)-1]
		assert.Equal(t, domain.ChangeMove, last.ChangeType)
		assert.Equal(t, domain.SystemActorID, last.ChangedBy)

		report, err := f.svc.Validate(context.Background(), f.tenantID, f.projectID)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		assert.Empty(t, report.Warnings)
	})

	t.Run("rejects_cycles", func(t *testing.T) {
		t.Parallel()

		tr := build(t)
		f := tr.f
		cases := []struct {
			name         string
			node, target uuid.UUID
		}{
			{"self", tr.a.ID, tr.a.ID},
			{"under_child", tr.root1.ID, tr.a.ID},
			{"under_grandchild", tr.root1.ID, tr.a1.ID},
		}
		for _, c := range cases {
			_, err := f.svc.Move(context.Background(), f.tenantID, c.node, &c.target, f.actor, false)
			require.ErrorIs(t, err, domain.ErrCircularReference, c.name)
		}
		assert.Nil(t, f.get(t, tr.root1.ID).ParentID)
	})

	t.Run("validate_only_writes_nothing", func(t *testing.T) {
		t.Parallel()

		tr := build(t)
		f := tr.f
		before := f.versionNumbers(t, tr.a.ID)

		res, err := f.svc.Move(context.Background(), f.tenantID, tr.a.ID, &tr.b.ID, f.actor, true)
		require.NoError(t, err)
		assert.True(t, res.ValidateOnly)
		assert.Equal(t, 2, res.NewLevel)
		assert.Equal(t, 2, res.Node.Level)

		a := f.get(t, tr.a.ID)
		assert.Equal(t, tr.root1.ID, *a.ParentID)
		assert.Equal(t, 1, a.Level)
		assert.Equal(t, before, f.versionNumbers(t, tr.a.ID))
	})

	t.Run("same_parent_is_a_no_op", func(t *testing.T) {
		t.Parallel()

		tr := build(t)
		f := tr.f
		before := f.get(t, tr.a.ID)
		res, err := f.svc.Move(context.Background(), f.tenantID, tr.a.ID, &tr.root1.ID, f.actor, false)
		require.NoError(t, err)
		assert.Equal(t, before.Version, res.Node.Version)
		assert.Equal(t, before.Version, f.get(t, tr.a.ID).Version)
	})

	t.Run("foreign_parent", func(t *testing.T) {
		t.Parallel()

		tr := build(t)
		f := tr.f
		other := f.input("Elsewhere", "", nil, 0, 0)
		other.ProjectID = uuid.New()
		foreign, err := f.svc.Create(context.Background(), other)
		require.NoError(t, err)

		_, err = f.svc.Move(context.Background(), f.tenantID, tr.a.ID, &foreign.ID, f.actor, false)
		require.ErrorIs(t, err, domain.ErrParentMismatch)

		missing := uuid.New()
		_, err = f.svc.Move(context.Background(), f.tenantID, tr.a.ID, &missing, f.actor, false)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("financial_update_rolls_up", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		leaf := f.create(t, "Leaf", "L", root, 100, 20)

		planned := dec(500)
		got, err := f.svc.Update(context.Background(), f.tenantID, leaf.ID,
			domain.BreakdownPatch{PlannedAmount: &planned}, f.actor, "budget revision")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.True(t, got.RemainingAmount.Equal(dec(480)))

		recs, err := f.svc.Versions(context.Background(), f.tenantID, leaf.ID)
		require.NoError(t, err)
		last := recs[len(recs)-1]
		assert.Equal(t, domain.ChangeFinancialUpdate, last.ChangeType)
		assert.Equal(t, "budget revision", last.Reason)
		assert.Contains(t, last.Changes, "planned_amount")
		assert.Contains(t, last.Changes, "remaining_amount")
		assert.NotContains(t, last.Changes, "version")

		assert.True(t, f.get(t, root.ID).PlannedAmount.Equal(dec(500)))
	})

	t.Run("change_types", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		n := f.create(t, "Node", "N", nil, 0, 0)
		name := "Renamed"
		tests := []struct {
			patch domain.BreakdownPatch
			want  domain.ChangeType
		}{
			{domain.BreakdownPatch{Name: &name}, domain.ChangeUpdate},
			{domain.BreakdownPatch{Tags: []string{"capex", "capex", "q3"}}, domain.ChangeTagUpdate},
			{domain.BreakdownPatch{CustomFields: map[string]any{"wbs": "1.2"}}, domain.ChangeCustomFieldUpdate},
		}
		for _, tt := range tests {
			_, err := f.svc.Update(context.Background(), f.tenantID, n.ID, tt.patch, f.actor, "")
			require.NoError(t, err)
			recs, err := f.svc.Versions(context.Background(), f.tenantID, n.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, recs[len(recs)-1].ChangeType)
		}
		assert.Equal(t, []string{"capex", "q3"}, f.get(t, n.ID).Tags)
	})

	t.Run("no_op_keeps_version", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		n := f.create(t, "Node", "N", nil, 10, 0)
		same := dec(10)
		got, err := f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{PlannedAmount: &same}, f.actor, "")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, []int{1}, f.versionNumbers(t, n.ID))
	})

	t.Run("rejections", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.create(t, "Taken", "T", nil, 0, 0)
		n := f.create(t, "Node", "N", nil, 0, 0)

		taken := "T"
		_, err := f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{Code: &taken}, f.actor, "")
		require.ErrorIs(t, err, domain.ErrDuplicateCode)

		neg := dec(-5)
		_, err = f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{ActualAmount: &neg}, f.actor, "")
		require.ErrorIs(t, err, domain.ErrNegativeAmount)

		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, n.ID, false, f.actor, ""))
		name := "x"
		_, err = f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{Name: &name}, f.actor, "")
		require.ErrorIs(t, err, domain.ErrInactiveNode)

		_, err = f.svc.Update(context.Background(), uuid.New(), n.ID, domain.BreakdownPatch{Name: &name}, f.actor, "")
		require.ErrorIs(t, err, domain.ErrNotFound, "other tenants cannot see the node")
	})

	t.Run("parent_amounts_are_derived", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		parent := f.create(t, "Parent", "P", nil, 0, 0)
		f.create(t, "Child", "C", parent, 100, 30)

		planned := dec(999)
		committed := dec(5)
		tests := []struct {
			patch domain.BreakdownPatch
			field string
		}{
			{domain.BreakdownPatch{PlannedAmount: &planned}, "planned_amount"},
			{domain.BreakdownPatch{CommittedAmount: &committed}, "committed_amount"},
			{domain.BreakdownPatch{ActualAmount: &planned}, "actual_amount"},
		}
		for _, tt := range tests {
			_, err := f.svc.Update(context.Background(), f.tenantID, parent.ID, tt.patch, f.actor, "")
			require.ErrorIs(t, err, domain.ErrValidation)
			require.ErrorIs(t, err, domain.ErrHasActiveChildren)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		}

		got := f.get(t, parent.ID)
		assert.True(t, got.PlannedAmount.Equal(dec(100)))
		assert.True(t, got.ActualAmount.Equal(dec(30)))
		assert.Equal(t, []int{1, 2}, f.versionNumbers(t, parent.ID))

		name := "Parent renamed"
		_, err := f.svc.Update(context.Background(), f.tenantID, parent.ID, domain.BreakdownPatch{Name: &name}, f.actor, "")
		require.NoError(t, err, "non-financial fields stay editable")
	})
}

func TestDeleteAndRestore(t *testing.T) {
	t.Parallel()

	t.Run("soft_delete_blocked_by_active_children", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		f.create(t, "Child", "C", root, 0, 0)

		err := f.svc.Delete(context.Background(), f.tenantID, root.ID, false, f.actor, "")
		require.ErrorIs(t, err, domain.ErrHasActiveChildren)
		err = f.svc.Delete(context.Background(), f.tenantID, root.ID, true, f.actor, "")
		require.ErrorIs(t, err, domain.ErrHasActiveChildren)
		assert.True(t, f.get(t, root.ID).IsActive)
	})

	t.Run("soft_delete_then_restore", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		keep := f.create(t, "Keep", "K", root, 100, 0)
		drop := f.create(t, "Drop", "D", root, 50, 0)
		assert.True(t, f.get(t, root.ID).PlannedAmount.Equal(dec(150)))

		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, drop.ID, false, f.actor, "duplicate line"))
		deleted := f.get(t, drop.ID)
		assert.False(t, deleted.IsActive)
		assert.Equal(t, 2, deleted.Version)
		assert.True(t, f.get(t, root.ID).PlannedAmount.Equal(dec(100)))

		active, err := f.svc.List(context.Background(), f.tenantID, f.projectID, false)
		require.NoError(t, err)
		assert.Len(t, active, 2)

		restored, err := f.svc.RestoreSoftDeleted(context.Background(), f.tenantID, drop.ID, f.actor, "")
		require.NoError(t, err)
		assert.True(t, restored.IsActive)
		assert.Equal(t, 3, restored.Version)
		assert.True(t, f.get(t, root.ID).PlannedAmount.Equal(dec(150)))
		assert.True(t, f.get(t, keep.ID).IsActive)

		recs, err := f.svc.Versions(context.Background(), f.tenantID, drop.ID)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, domain.ChangeDelete, recs[1].ChangeType)
		assert.Equal(t, domain.ChangeUpdate, recs[2].ChangeType)
		assert.Equal(t, "Restored from soft delete", recs[2].Reason)

		_, err = f.svc.RestoreSoftDeleted(context.Background(), f.tenantID, drop.ID, f.actor, "")
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("parent_keeps_totals_after_last_child_leaves", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		parent := f.create(t, "Parent", "P", nil, 0, 0)
		child := f.create(t, "Child", "C", parent, 100, 40)
		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, child.ID, false, f.actor, ""))

		got := f.get(t, parent.ID)
		assert.True(t, got.PlannedAmount.Equal(dec(100)))
		assert.True(t, got.ActualAmount.Equal(dec(40)))
		assert.True(t, got.RemainingAmount.Equal(dec(60)))

		planned := dec(80)
		got, err := f.svc.Update(context.Background(), f.tenantID, parent.ID, domain.BreakdownPatch{PlannedAmount: &planned}, f.actor, "")
		require.NoError(t, err, "a former parent is edited as a leaf")
		assert.True(t, got.RemainingAmount.Equal(dec(40)))
	})

	t.Run("code_is_freed_by_soft_delete", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		old := f.create(t, "Old", "X", nil, 0, 0)
		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, old.ID, false, f.actor, ""))
		f.create(t, "New", "X", nil, 0, 0)

		_, err := f.svc.RestoreSoftDeleted(context.Background(), f.tenantID, old.ID, f.actor, "")
		require.ErrorIs(t, err, domain.ErrDuplicateCode)
	})

	t.Run("restore_needs_active_parent", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		child := f.create(t, "Child", "C", root, 0, 0)
		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, child.ID, false, f.actor, ""))
		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, root.ID, false, f.actor, ""))

		_, err := f.svc.RestoreSoftDeleted(context.Background(), f.tenantID, child.ID, f.actor, "")
		require.ErrorIs(t, err, domain.ErrInactiveNode)
	})

	t.Run("hard_delete", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		root := f.create(t, "Root", "R", nil, 0, 0)
		child := f.create(t, "Child", "C", root, 0, 0)
		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, child.ID, false, f.actor, ""))

		err := f.svc.Delete(context.Background(), f.tenantID, root.ID, true, f.actor, "")
		require.ErrorIs(t, err, domain.ErrHasActiveChildren, "soft-deleted children block a hard delete")

		require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, child.ID, true, f.actor, "cleanup"))
		_, err = f.svc.Get(context.Background(), f.tenantID, child.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)

		assert.Equal(t, []int{1, 2, domain.DeleteVersionNumber}, f.versionNumbers(t, child.ID))
		log, err := f.svc.ChangeLog(context.Background(), f.tenantID, child.ID)
		require.NoError(t, err)
		require.Len(t, log, 3)
		assert.Equal(t, domain.DeleteVersionNumber, log[0].VersionNumber)
		assert.Nil(t, log[0].AfterValues)
		assert.Equal(t, "cleanup", log[0].Reason)
		assert.Equal(t, 1, log[2].VersionNumber)
	})
}

func TestRestoreToVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	n := f.create(t, "Original", "O", nil, 100, 0)

	name := "Renamed"
	planned := dec(200)
	_, err := f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{Name: &name, PlannedAmount: &planned}, f.actor, "")
	require.NoError(t, err)
	planned = dec(300)
	_, err = f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{PlannedAmount: &planned}, f.actor, "")
	require.NoError(t, err)

	got, err := f.svc.RestoreToVersion(context.Background(), f.tenantID, n.ID, 2, f.actor, "")
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Name)
	assert.True(t, got.PlannedAmount.Equal(dec(100)))
	assert.True(t, got.RemainingAmount.Equal(dec(100)))
	assert.Equal(t, 4, got.Version)

	recs, err := f.svc.Versions(context.Background(), f.tenantID, n.ID)
	require.NoError(t, err)
	last := recs[len(recs)-1]
	assert.Equal(t, domain.ChangeUpdate, last.ChangeType)
	assert.Equal(t, "Restored to version 2", last.Reason)
	assert.Equal(t, []int{1, 2, 3, 4}, f.versionNumbers(t, n.ID))

	_, err = f.svc.RestoreToVersion(context.Background(), f.tenantID, n.ID, 1, f.actor, "")
	require.ErrorIs(t, err, domain.ErrValidation, "creation has no prior state")

	_, err = f.svc.RestoreToVersion(context.Background(), f.tenantID, n.ID, 42, f.actor, "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRestoreToVersionMovesBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	r1 := f.create(t, "R1", "R1", nil, 0, 0)
	r2 := f.create(t, "R2", "R2", nil, 0, 0)
	n := f.create(t, "N", "N", r1, 10, 0)

	_, err := f.svc.Move(context.Background(), f.tenantID, n.ID, &r2.ID, f.actor, false)
	require.NoError(t, err)
	assert.True(t, f.get(t, r2.ID).PlannedAmount.Equal(dec(10)))

	got, err := f.svc.RestoreToVersion(context.Background(), f.tenantID, n.ID, 2, f.actor, "undo move")
	require.NoError(t, err)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, r1.ID, *got.ParentID)
	assert.Equal(t, []string{r1.ID.String()}, got.HierarchyPath)
}

func TestRestoreToVersionOfParent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	parent := f.create(t, "Parent", "P", nil, 500, 0)
	f.create(t, "Child", "C", parent, 100, 0)
	require.True(t, f.get(t, parent.ID).PlannedAmount.Equal(dec(100)))

	// Version 2 is the roll-up; its before-snapshot carries the old 500.
	got, err := f.svc.RestoreToVersion(context.Background(), f.tenantID, parent.ID, 2, f.actor, "")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Version)
	assert.True(t, f.get(t, parent.ID).PlannedAmount.Equal(dec(100)))
	assert.Equal(t, []int{1, 2, 3, 4}, f.versionNumbers(t, parent.ID))
}

func TestAuditTrailOfMutations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	root := f.create(t, "Root", "R", nil, 0, 0)
	child := f.create(t, "Child", "C", root, 10, 0)
	require.NoError(t, f.svc.Delete(context.Background(), f.tenantID, child.ID, false, f.actor, ""))

	trail, err := f.audit.GetTrail(context.Background(), f.tenantID, child.ID, nil, nil)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, domain.AuditEventCreation, trail[0].EventType)
	assert.Equal(t, domain.AuditEventDeletion, trail[1].EventType)
	assert.Equal(t, f.actor.ID, trail[1].ActorID)
	assert.Equal(t, true, trail[0].NewValues["is_active"])
	assert.Equal(t, false, trail[1].NewValues["is_active"])

	res, err := f.audit.VerifyTenantChain(context.Background(), f.tenantID)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestVarianceSideEffect(t *testing.T) {
	t.Parallel()

	rec := &mockRecalculator{recalculateErr: errors.New("engine down")}
	f := newFixture(t, breakdown.WithVariance(rec))

	n := f.create(t, "Node", "N", nil, 100, 0)
	actual := dec(90)
	_, err := f.svc.Update(context.Background(), f.tenantID, n.ID, domain.BreakdownPatch{ActualAmount: &actual}, f.actor, "")
	require.NoError(t, err, "variance failures never fail the mutation")
	assert.Equal(t, int32(2), rec.calls.Load())
}

func TestRollupsOfStoredProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	root := f.create(t, "Root", "R", nil, 0, 0)
	a := f.create(t, "A", "A", root, 100, 40)
	f.create(t, "A1", "A1", a, 60, 10)

	rollups, err := f.svc.Rollups(context.Background(), f.tenantID, f.projectID)
	require.NoError(t, err)

	// A takes its child's totals, then adds them again in the rollup.
	assert.True(t, rollups[a.ID].Planned.Equal(dec(120)))
	assert.True(t, rollups[root.ID].Planned.Equal(dec(180)))
	for id, r := range rollups {
		assert.True(t, r.Remaining.Equal(r.Planned.Sub(r.Actual)), id)
	}
}
