package htg

import (
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/treegrid/internal/bitvec"
	"github.com/danmuck/treegrid/internal/dataset"
)

var (
	ErrTreeIndex    = errors.New("htg: tree index outside the grid")
	ErrTreeExists   = errors.New("htg: tree slot already populated")
	ErrBranchFactor = errors.New("htg: branch factor must be 2 or 3")
	ErrDimension    = errors.New("htg: dimension must be 1, 2 or 3")
)

// Grid is a forest of trees laid out on a coarse grid of tree slots.
type Grid struct {
	// Extent is the inclusive tree slot range on each axis.
	Extent       dataset.Extent
	Dimension    int
	BranchFactor int
	// DepthLimiter caps the number of levels seen by traversals; 0 means
	// no limit.
	DepthLimiter int

	trees  map[int]*Tree
	mask   *bitvec.Vector
	cells  *dataset.Attributes
	points *dataset.Attributes
}

func NewGrid(extent dataset.Extent, dimension, branchFactor int) (*Grid, error) {
	if dimension < 1 || dimension > 3 {
		return nil, fmt.Errorf("%w: %d", ErrDimension, dimension)
	}
	if branchFactor != 2 && branchFactor != 3 {
		return nil, fmt.Errorf("%w: %d", ErrBranchFactor, branchFactor)
	}
	return &Grid{
		Extent:       extent,
		Dimension:    dimension,
		BranchFactor: branchFactor,
		trees:        map[int]*Tree{},
		cells:        dataset.NewAttributes(),
		points:       dataset.NewAttributes(),
	}, nil
}

func (g *Grid) Kind() dataset.Kind { return dataset.KindHyperTreeGrid }

// NumberOfChildren is the fan-out of every refined node.
func (g *Grid) NumberOfChildren() int {
	n := 1
	for i := 0; i < g.Dimension; i++ {
		n *= g.BranchFactor
	}
	return n
}

// MaxTrees is the number of tree slots; 0 when the extent is malformed.
func (g *Grid) MaxTrees() int {
	return g.Extent.Count()
}

func (g *Grid) Tree(index int) *Tree {
	return g.trees[index]
}

// NewTree creates a root-only tree at slot index.
func (g *Grid) NewTree(index int) (*Tree, error) {
	t := NewTree(index, g.NumberOfChildren())
	if err := g.AddTree(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddTree places t at its slot.
func (g *Grid) AddTree(t *Tree) error {
	if t.index < 0 || t.index >= g.MaxTrees() {
		return fmt.Errorf("%w: %d of %d", ErrTreeIndex, t.index, g.MaxTrees())
	}
	if _, ok := g.trees[t.index]; ok {
		return fmt.Errorf("%w: %d", ErrTreeExists, t.index)
	}
	g.trees[t.index] = t
	return nil
}

// TreeIDs returns the populated slots in ascending order.
func (g *Grid) TreeIDs() []int {
	ids := make([]int, 0, len(g.trees))
	for id := range g.trees {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (g *Grid) NumberOfTrees() int {
	return len(g.trees)
}

// NumberOfVertices counts every node of every tree, masked or not.
func (g *Grid) NumberOfVertices() int {
	total := 0
	for _, t := range g.trees {
		total += t.NumberOfVertices()
	}
	return total
}

// InitializeGlobalIndices hands each tree a contiguous range of the cell
// table, in ascending slot order.
func (g *Grid) InitializeGlobalIndices() {
	next := 0
	for _, id := range g.TreeIDs() {
		t := g.trees[id]
		t.SetGlobalIndexStart(next)
		next += t.NumberOfVertices()
	}
}

func (g *Grid) Mask() *bitvec.Vector { return g.mask }
func (g *Grid) SetMask(m *bitvec.Vector) { g.mask = m }
func (g *Grid) HasMask() bool { return g.mask != nil }

func (g *Grid) IsMasked(global int) bool {
	return g.mask.Get(global)
}

func (g *Grid) CellData() *dataset.Attributes { return g.cells }
func (g *Grid) PointData() *dataset.Attributes { return g.points }

// NumberOfCells is the size of the cell table.
func (g *Grid) NumberOfCells() int { return g.NumberOfVertices() }
func (g *Grid) NumberOfPoints() int { return 0 }

// descend reports whether a traversal continues below a node at depth.
func (g *Grid) descend(depth int) bool {
	return g.DepthLimiter <= 0 || depth+1 < g.DepthLimiter
}

// VisitCells walks t breadth first the way cell exchanges do. Masked nodes
// are visited but never descended into, and the depth limiter caps
// refinement.
func (g *Grid) VisitCells(t *Tree, fn func(local, global int, masked bool)) {
	t.WalkBreadthFirst(func(local, depth int) bool {
		global := t.GlobalIndex(local)
		masked := g.IsMasked(global)
		fn(local, global, masked)
		return !masked && g.descend(depth)
	})
}

// CountCells returns the number of unmasked cells and the number of mask
// bits (visited nodes, masked included) for t.
func (g *Grid) CountCells(t *Tree) (cells, maskBits int) {
	g.VisitCells(t, func(_, _ int, masked bool) {
		maskBits++
		if !masked {
			cells++
		}
	})
	return cells, maskBits
}

// ReadMask walks t the way VisitCells does, taking each visited node's mask
// bit from next. It returns the number of bits consumed.
func (g *Grid) ReadMask(t *Tree, next func() bool) int {
	if g.mask == nil {
		g.mask = bitvec.New(g.NumberOfVertices())
	}
	n := 0
	t.WalkBreadthFirst(func(local, depth int) bool {
		masked := next()
		n++
		g.mask.Set(t.GlobalIndex(local), masked)
		return !masked && g.descend(depth)
	})
	return n
}

// NumberOfUnmaskedCells counts unmasked cells across the forest.
func (g *Grid) NumberOfUnmaskedCells() int {
	total := 0
	for _, t := range g.trees {
		cells, _ := g.CountCells(t)
		total += cells
	}
	return total
}

// CopyEmptyStructure returns a grid with the same layout and array names
// but no trees, no mask and no tuples.
func (g *Grid) CopyEmptyStructure() *Grid {
	return &Grid{
		Extent:       g.Extent,
		Dimension:    g.Dimension,
		BranchFactor: g.BranchFactor,
		DepthLimiter: g.DepthLimiter,
		trees:        map[int]*Tree{},
		cells:        g.cells.CopyStructure(),
		points:       dataset.NewAttributes(),
	}
}

func (g *Grid) ShallowCopy() dataset.Object {
	out := *g
	out.trees = make(map[int]*Tree, len(g.trees))
	for id, t := range g.trees {
		out.trees[id] = t
	}
	out.cells = g.cells.ShallowCopy()
	out.points = g.points.ShallowCopy()
	return &out
}

func (g *Grid) DeepCopy() dataset.Object {
	out := *g
	out.trees = make(map[int]*Tree, len(g.trees))
	for id, t := range g.trees {
		c := t.Clone()
		c.SetGlobalIndexStart(t.GlobalIndexStart())
		out.trees[id] = c
	}
	out.mask = g.mask.Clone()
	out.cells = g.cells.Clone()
	out.points = g.points.Clone()
	return &out
}
