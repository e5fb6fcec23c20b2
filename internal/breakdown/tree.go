package breakdown

import (
	"github.com/google/uuid"

	"github.com/gosuda/costtrail/internal/domain"
)

// tree is an adjacency index over one project's nodes, built once per
// operation so walks never rescan the node list.
type tree struct {
	byID     map[uuid.UUID]*domain.POBreakdown
	children map[uuid.UUID][]uuid.UUID
}

func newTree(nodes []*domain.POBreakdown) *tree {
	t := &tree{
		byID:     make(map[uuid.UUID]*domain.POBreakdown, len(nodes)),
		children: make(map[uuid.UUID][]uuid.UUID),
	}
	for _, n := range nodes {
		t.byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID != nil {
			t.children[*n.ParentID] = append(t.children[*n.ParentID], n.ID)
		}
	}
	return t
}

func (t *tree) get(id uuid.UUID) (*domain.POBreakdown, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// activeChildren returns the direct children that are not soft-deleted.
func (t *tree) activeChildren(id uuid.UUID) []*domain.POBreakdown {
	var out []*domain.POBreakdown
	for _, cid := range t.children[id] {
		if c := t.byID[cid]; c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

// descendants returns every node below id in breadth-first order.
func (t *tree) descendants(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	queue := append([]uuid.UUID(nil), t.children[id]...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		queue = append(queue, t.children[cur]...)
	}
	return out
}

// isDescendant reports whether candidate sits anywhere below id.
func (t *tree) isDescendant(id, candidate uuid.UUID) bool {
	for _, d := range t.descendants(id) {
		if d == candidate {
			return true
		}
	}
	return false
}

// maxRelativeDepth returns how many levels the subtree under id spans
// (0 for a leaf).
func (t *tree) maxRelativeDepth(id uuid.UUID) int {
	type item struct {
		id    uuid.UUID
		depth int
	}
	deepest := 0
	seen := map[uuid.UUID]bool{id: true}
	stack := []item{{id, 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		deepest = max(deepest, cur.depth)
		for _, c := range t.children[cur.id] {
			if !seen[c] {
				seen[c] = true
				stack = append(stack, item{c, cur.depth + 1})
			}
		}
	}
	return deepest
}

// ancestors returns the chain above id, nearest first. A corrupt cycle in
// stored data terminates the walk instead of looping.
func (t *tree) ancestors(id uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	seen := map[uuid.UUID]bool{id: true}
	n, ok := t.byID[id]
	for ok && n.ParentID != nil {
		pid := *n.ParentID
		if seen[pid] {
			break
		}
		seen[pid] = true
		out = append(out, pid)
		n, ok = t.byID[pid]
	}
	return out
}

// pathTo returns the hierarchy path of a node placed under parentID: the
// ancestor IDs from the root down to the parent itself.
func (t *tree) pathTo(parentID *uuid.UUID) []string {
	if parentID == nil {
		return []string{}
	}
	chain := append([]uuid.UUID{*parentID}, t.ancestors(*parentID)...)
	path := make([]string, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		path = append(path, chain[i].String())
	}
	return path
}

// replace swaps in an updated copy of a node, keeping the child index in step.
func (t *tree) replace(n *domain.POBreakdown) {
	old, ok := t.byID[n.ID]
	if !ok {
		if n.ParentID != nil {
			t.children[*n.ParentID] = append(t.children[*n.ParentID], n.ID)
		}
	} else if !domain.SameParent(old.ParentID, n.ParentID) {
		if old.ParentID != nil {
			t.children[*old.ParentID] = removeID(t.children[*old.ParentID], n.ID)
		}
		if n.ParentID != nil {
			t.children[*n.ParentID] = append(t.children[*n.ParentID], n.ID)
		}
	}
	t.byID[n.ID] = n
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
