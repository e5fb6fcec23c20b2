package breakdown_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/costtrail/internal/breakdown"
	"github.com/gosuda/costtrail/internal/domain"
)

func newImporter(t *testing.T) (*fixture, *breakdown.Importer) {
	t.Helper()
	f := newFixture(t)
	return f, breakdown.NewImporter(f.svc, f.store.ImportBatches())
}

func (f *fixture) importRequest(rows []breakdown.ImportRow, opts breakdown.ImportOptions) breakdown.ImportRequest {
	return breakdown.ImportRequest{
		TenantID:  f.tenantID,
		ProjectID: f.projectID,
		FileName:  "po_export.csv",
		Rows:      rows,
		Options:   opts,
		Actor:     f.actor,
	}
}

func row(n int, name, code, parent string, planned int64) breakdown.ImportRow {
	return breakdown.ImportRow{RowNumber: n, Name: name, Code: code, ParentCode: parent, PlannedAmount: dec(planned)}
}

func TestImport(t *testing.T) {
	t.Parallel()

	t.Run("children_before_parents_in_file", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "Line 10.1", "PO-10-1", "PO-10", 40),
			row(2, "Line 10", "PO-10", "PO", 0),
			row(3, "Purchase order", "PO", "", 0),
			row(4, "Line 20", "PO-20", "PO", 60),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)

		assert.Equal(t, domain.ImportCompleted, batch.Status)
		assert.Equal(t, 4, batch.TotalRows)
		assert.Equal(t, 4, batch.ProcessedRows)
		assert.Equal(t, 4, batch.SuccessfulRows)
		assert.Equal(t, 2, batch.MaxHierarchyDepth)
		assert.Equal(t, 1, batch.HierarchiesCreated)
		assert.True(t, batch.CanRollback)
		assert.Len(t, batch.CreatedNodeIDs, 4)

		nodes, err := f.svc.List(context.Background(), f.tenantID, f.projectID, false)
		require.NoError(t, err)
		require.Len(t, nodes, 4)
		root := nodes[0]
		assert.Equal(t, "PO", root.Code)
		assert.True(t, root.PlannedAmount.Equal(dec(100)))
		for _, n := range nodes {
			assert.Equal(t, domain.BreakdownSAPStandard, n.Type)
			require.NotNil(t, n.ImportBatchID)
			assert.Equal(t, batch.ID, *n.ImportBatchID)
		}

		report, err := f.svc.Validate(context.Background(), f.tenantID, f.projectID)
		require.NoError(t, err)
		assert.True(t, report.Valid)
	})

	t.Run("parent_from_existing_project", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		existing := f.create(t, "Existing", "EX", nil, 0, 0)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "New line", "NL", "EX", 10),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)
		assert.Equal(t, domain.ImportCompleted, batch.Status)
		assert.Zero(t, batch.HierarchiesCreated)
		assert.True(t, f.get(t, existing.ID).PlannedAmount.Equal(dec(10)))
	})

	t.Run("missing_parent_fails_row", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "Root", "R", "", 0),
			row(2, "Orphan", "O", "NOPE", 5),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)
		assert.Equal(t, domain.ImportPartiallyCompleted, batch.Status)
		assert.Equal(t, 1, batch.FailedRows)
		errs := batch.IssuesOf(domain.IssueError)
		require.Len(t, errs, 1)
		assert.Equal(t, 2, errs[0].RowNumber)
		assert.Equal(t, "NOPE", errs[0].Value)
	})

	t.Run("missing_parent_placeholder", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "Orphan", "O", "NOPE", 5),
		}, breakdown.ImportOptions{CreateMissingParents: true}))
		require.NoError(t, err)
		assert.Equal(t, domain.ImportCompleted, batch.Status)
		assert.Len(t, batch.CreatedNodeIDs, 2)
		assert.Len(t, batch.IssuesOf(domain.IssueWarning), 1)

		nodes, err := f.svc.List(context.Background(), f.tenantID, f.projectID, false)
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, "Auto-created: NOPE", nodes[0].Name)
		assert.Equal(t, domain.SystemActorID, nodes[0].CreatedBy)
	})

	t.Run("duplicates", func(t *testing.T) {
		t.Parallel()

		for _, skip := range []bool{false, true} {
			f, im := newImporter(t)
			f.create(t, "Existing", "DUP", nil, 0, 0)
			batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
				row(1, "Again", "DUP", "", 0),
				row(2, "Twice", "NEW", "", 0),
				row(3, "Twice again", "NEW", "", 0),
			}, breakdown.ImportOptions{SkipDuplicates: skip}))
			require.NoError(t, err)

			assert.Equal(t, 1, batch.SuccessfulRows)
			assert.Len(t, batch.IssuesOf(domain.IssueConflict), 2)
			if skip {
				assert.Equal(t, 2, batch.SkippedRows)
				assert.Equal(t, domain.ImportCompleted, batch.Status)
			} else {
				assert.Equal(t, 2, batch.FailedRows)
				assert.Equal(t, domain.ImportPartiallyCompleted, batch.Status)
			}
		}
	})

	t.Run("cycles_and_self_parents", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "A", "A", "B", 0),
			row(2, "B", "B", "A", 0),
			row(3, "Self", "S", "S", 0),
		}, breakdown.ImportOptions{CreateMissingParents: true}))
		require.NoError(t, err)
		assert.Equal(t, domain.ImportFailed, batch.Status)
		assert.Equal(t, 3, batch.FailedRows)
		assert.Equal(t, 3, batch.ProcessedRows)
		assert.False(t, batch.CanRollback)
	})

	t.Run("children_of_failed_rows_fail", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "", "BAD", "", 0),
			row(2, "Child", "C", "BAD", 0),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)
		assert.Equal(t, domain.ImportFailed, batch.Status)
		assert.Equal(t, 2, batch.FailedRows)
	})

	t.Run("batch_is_audited", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "Root", "R", "", 0),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)

		trail, err := f.audit.GetTrail(context.Background(), f.tenantID, batch.ID, nil, nil)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, domain.AuditEventImport, trail[0].EventType)
		assert.Equal(t, "po_import_batch", trail[0].EntityType)
	})
}

func TestImportRollback(t *testing.T) {
	t.Parallel()

	t.Run("removes_created_nodes", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		existing := f.create(t, "Existing", "EX", nil, 0, 0)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "Line", "L", "EX", 10),
			row(2, "Sub line", "L-1", "L", 10),
			row(3, "Other root", "OR", "", 5),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)

		rolled, err := im.Rollback(context.Background(), f.tenantID, batch.ID, f.actor)
		require.NoError(t, err)
		assert.Equal(t, domain.ImportRolledBack, rolled.Status)
		assert.False(t, rolled.CanRollback)

		nodes, err := f.svc.List(context.Background(), f.tenantID, f.projectID, true)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, existing.ID, nodes[0].ID)

		stored, err := im.Get(context.Background(), f.tenantID, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ImportRolledBack, stored.Status)

		_, err = im.Rollback(context.Background(), f.tenantID, batch.ID, f.actor)
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("blocked_by_later_children", func(t *testing.T) {
		t.Parallel()

		f, im := newImporter(t)
		batch, err := im.Import(context.Background(), f.importRequest([]breakdown.ImportRow{
			row(1, "Imported", "IMP", "", 0),
		}, breakdown.ImportOptions{}))
		require.NoError(t, err)

		imported := f.get(t, batch.CreatedNodeIDs[0])
		f.create(t, "Added by hand", "HAND", imported, 0, 0)

		_, err = im.Rollback(context.Background(), f.tenantID, batch.ID, f.actor)
		require.ErrorIs(t, err, domain.ErrConflict)

		stored, err := im.Get(context.Background(), f.tenantID, batch.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ImportCompleted, stored.Status)
		assert.True(t, stored.CanRollback)
	})
}
