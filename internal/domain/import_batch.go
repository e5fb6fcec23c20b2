package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ImportStatus string

const (
	ImportPending            ImportStatus = "pending"
	ImportCompleted          ImportStatus = "completed"
	ImportPartiallyCompleted ImportStatus = "partially_completed"
	ImportFailed             ImportStatus = "failed"
	ImportRolledBack         ImportStatus = "rolled_back"
)

// IsTerminal reports whether no further processing happens for the batch.
// A completed batch may still be rolled back.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportFailed || s == ImportRolledBack
}

type ImportIssueKind string

const (
	IssueError    ImportIssueKind = "error"
	IssueWarning  ImportIssueKind = "warning"
	IssueConflict ImportIssueKind = "conflict"
)

// ImportIssue is a per-row error, warning or conflict retained after the batch finishes.
type ImportIssue struct {
	ID        uuid.UUID
	BatchID   uuid.UUID
	RowNumber int
	Kind      ImportIssueKind
	Field     string
	Value     string
	Message   string
	CreatedAt time.Time
}

// ImportBatch tracks one bulk import into a project's breakdown tree.
type ImportBatch struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	FileName  string
	Status    ImportStatus

	TotalRows      int
	ProcessedRows  int
	SuccessfulRows int
	FailedRows     int
	SkippedRows    int

	MaxHierarchyDepth  int
	HierarchiesCreated int
	CanRollback        bool
	CreatedNodeIDs     []uuid.UUID
	Issues             []ImportIssue

	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// AddIssue appends an issue for a row.
func (b *ImportBatch) AddIssue(row int, kind ImportIssueKind, field, value, message string, at time.Time) {
	b.Issues = append(b.Issues, ImportIssue{
		ID:        uuid.New(),
		BatchID:   b.ID,
		RowNumber: row,
		Kind:      kind,
		Field:     field,
		Value:     value,
		Message:   message,
		CreatedAt: at,
	})
}

// IssuesOf returns the issues of one kind.
func (b *ImportBatch) IssuesOf(kind ImportIssueKind) []ImportIssue {
	var out []ImportIssue
	for _, is := range b.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// Finalize derives the terminal status from the row counters. Skipped rows
// count as neither success nor failure.
func (b *ImportBatch) Finalize(at time.Time) {
	switch {
	case b.SuccessfulRows == 0 && b.FailedRows > 0:
		b.Status = ImportFailed
	case b.FailedRows > 0:
		b.Status = ImportPartiallyCompleted
	default:
		b.Status = ImportCompleted
	}
	b.CanRollback = len(b.CreatedNodeIDs) > 0
	b.CompletedAt = &at
}

type ImportBatchRepository interface {
	Create(ctx context.Context, b *ImportBatch) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*ImportBatch, error)
	// Update persists counters and status, and appends issues not stored yet.
	Update(ctx context.Context, b *ImportBatch) error
}
