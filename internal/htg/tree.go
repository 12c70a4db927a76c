package htg

import (
	"errors"
	"fmt"
)

var (
	ErrNotLeaf           = errors.New("htg: node is not a leaf")
	ErrNodeRange         = errors.New("htg: node index out of range")
	ErrTreeNotEmpty      = errors.New("htg: tree already refined")
	ErrDescriptorOverrun = errors.New("htg: descriptor window past end of buffer")
	ErrDescriptorExtra   = errors.New("htg: descriptor has bits for missing nodes")
)

const noChildren = -1

// Tree is a single rooted tree. Nodes live in an arena indexed by local
// (native) index; the root is node 0 and a refined node's children occupy
// a contiguous run starting at firstChild.
type Tree struct {
	index            int
	numChildren      int
	firstChild       []int
	globalIndexStart int
}

// NewTree returns a root-only tree for slot index.
func NewTree(index, numChildren int) *Tree {
	return &Tree{
		index:       index,
		numChildren: numChildren,
		firstChild:  []int{noChildren},
	}
}

func (t *Tree) Index() int { return t.index }
func (t *Tree) NumberOfChildren() int { return t.numChildren }
func (t *Tree) NumberOfVertices() int { return len(t.firstChild) }
func (t *Tree) GlobalIndexStart() int { return t.globalIndexStart }
func (t *Tree) SetGlobalIndexStart(start int) { t.globalIndexStart = start }

// GlobalIndex maps a local node index into the forest cell table.
func (t *Tree) GlobalIndex(local int) int {
	return t.globalIndexStart + local
}

func (t *Tree) IsLeaf(node int) bool {
	return t.firstChild[node] == noChildren
}

// Child returns the local index of child i of a refined node.
func (t *Tree) Child(node, i int) int {
	return t.firstChild[node] + i
}

// SubdivideLeaf refines a leaf, appending its children to the arena.
func (t *Tree) SubdivideLeaf(node int) error {
	if node < 0 || node >= len(t.firstChild) {
		return fmt.Errorf("%w: %d of %d", ErrNodeRange, node, len(t.firstChild))
	}
	if !t.IsLeaf(node) {
		return fmt.Errorf("%w: %d", ErrNotLeaf, node)
	}
	t.firstChild[node] = len(t.firstChild)
	for i := 0; i < t.numChildren; i++ {
		t.firstChild = append(t.firstChild, noChildren)
	}
	return nil
}

// NumberOfLevels returns the depth of the deepest node plus one.
func (t *Tree) NumberOfLevels() int {
	levels := 0
	t.WalkBreadthFirst(func(_ int, depth int) bool {
		levels = max(levels, depth+1)
		return true
	})
	return levels
}

// Clone copies the tree structure; the global index start is reset.
func (t *Tree) Clone() *Tree {
	return &Tree{
		index:       t.index,
		numChildren: t.numChildren,
		firstChild:  append([]int(nil), t.firstChild...),
	}
}

// WalkBreadthFirst visits nodes level by level. fn returns whether the
// children of a refined node should be visited.
func (t *Tree) WalkBreadthFirst(fn func(local, depth int) bool) {
	type item struct{ node, depth int }
	queue := []item{{0, 0}}
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		if !fn(cur.node, cur.depth) || t.IsLeaf(cur.node) {
			continue
		}
		for i := 0; i < t.numChildren; i++ {
			queue = append(queue, item{t.Child(cur.node, i), cur.depth + 1})
		}
	}
}

// WalkDepthFirst visits nodes in pre-order using an explicit stack. fn
// returns whether the children of a refined node should be visited.
func (t *Tree) WalkDepthFirst(fn func(local, depth int) bool) {
	type item struct{ node, depth int }
	stack := []item{{0, 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur.node, cur.depth) || t.IsLeaf(cur.node) {
			continue
		}
		for i := t.numChildren - 1; i >= 0; i-- {
			stack = append(stack, item{t.Child(cur.node, i), cur.depth + 1})
		}
	}
}

// SameTopology reports whether a and b have identical shape, comparing
// children position by position regardless of native numbering.
func SameTopology(a, b *Tree) bool {
	if a.numChildren != b.numChildren {
		return false
	}
	qa, qb := []int{0}, []int{0}
	for head := 0; head < len(qa); head++ {
		if head >= len(qb) {
			return false
		}
		na, nb := qa[head], qb[head]
		if a.IsLeaf(na) != b.IsLeaf(nb) {
			return false
		}
		if a.IsLeaf(na) {
			continue
		}
		for i := 0; i < a.numChildren; i++ {
			qa = append(qa, a.Child(na, i))
			qb = append(qb, b.Child(nb, i))
		}
	}
	return len(qa) == len(qb)
}

// RefineWhere subdivides, level by level up to levels deep, every leaf for
// which pick returns true.
func (t *Tree) RefineWhere(levels int, pick func(local, depth int) bool) error {
	level := []int{0}
	for depth := 0; depth < levels-1 && len(level) > 0; depth++ {
		var next []int
		for _, node := range level {
			if t.IsLeaf(node) {
				if !pick(node, depth) {
					continue
				}
				if err := t.SubdivideLeaf(node); err != nil {
					return err
				}
			}
			for i := 0; i < t.numChildren; i++ {
				next = append(next, t.Child(node, i))
			}
		}
		level = next
	}
	return nil
}
