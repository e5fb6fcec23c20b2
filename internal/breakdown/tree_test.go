package breakdown

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/costtrail/internal/domain"
)

func treeNode(parent *domain.POBreakdown, active bool) *domain.POBreakdown {
	n := &domain.POBreakdown{ID: uuid.New(), IsActive: active}
	if parent != nil {
		n.ParentID = &parent.ID
		n.Level = parent.Level + 1
	}
	return n
}

func TestTree(t *testing.T) {
	t.Parallel()

	root := treeNode(nil, true)
	a := treeNode(root, true)
	b := treeNode(root, false)
	a1 := treeNode(a, true)
	a11 := treeNode(a1, true)
	tr := newTree([]*domain.POBreakdown{root, a, b, a1, a11})

	assert.Len(t, tr.activeChildren(root.ID), 1)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID, a1.ID, a11.ID}, tr.descendants(root.ID))
	assert.True(t, tr.isDescendant(root.ID, a11.ID))
	assert.False(t, tr.isDescendant(a1.ID, a.ID))
	assert.Equal(t, 3, tr.maxRelativeDepth(root.ID))
	assert.Equal(t, 0, tr.maxRelativeDepth(a11.ID))
	assert.Equal(t, []uuid.UUID{a1.ID, a.ID, root.ID}, tr.ancestors(a11.ID))
	assert.Equal(t, []string{root.ID.String(), a.ID.String()}, tr.pathTo(&a.ID))
	assert.Equal(t, []string{}, tr.pathTo(nil))

	t.Run("replace_moves_child_index", func(t *testing.T) {
		t.Parallel()

		tr := newTree([]*domain.POBreakdown{root, a, b, a1})
		moved := a1.Clone()
		moved.ParentID = &b.ID
		tr.replace(moved)

		assert.Empty(t, tr.children[a.ID])
		assert.Equal(t, []uuid.UUID{a1.ID}, tr.children[b.ID])
		assert.Equal(t, []uuid.UUID{b.ID, root.ID}, tr.ancestors(a1.ID))
	})

	t.Run("corrupt_cycle_terminates", func(t *testing.T) {
		t.Parallel()

		x := treeNode(nil, true)
		y := treeNode(x, true)
		x.ParentID = &y.ID
		tr := newTree([]*domain.POBreakdown{x, y})

		assert.Equal(t, []uuid.UUID{y.ID}, tr.ancestors(x.ID))
		assert.Equal(t, 1, tr.maxRelativeDepth(x.ID))
	})
}
