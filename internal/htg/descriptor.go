package htg

import (
	"fmt"

	"github.com/danmuck/treegrid/internal/bitvec"
)

// Descriptor is the breadth-first encoding of one tree.
type Descriptor struct {
	// VerticesPerDepth counts the nodes reached at each level.
	VerticesPerDepth []int
	// Bits holds one bit per node in level order, set when the node is
	// refined. The deepest level is all leaves and is not stored.
	Bits *bitvec.Vector
	// BreadthFirstIDMap maps breadth-first position to native index.
	BreadthFirstIDMap []int
}

// ComputeBreadthFirstOrderDescriptor encodes t level by level. A masked
// node and a node on the last level allowed by depthLimiter are written as
// leaves. mask is indexed by global cell index and may be nil.
func (t *Tree) ComputeBreadthFirstOrderDescriptor(depthLimiter int, mask *bitvec.Vector) Descriptor {
	d := Descriptor{Bits: bitvec.New(0)}
	if t == nil || len(t.firstChild) == 0 {
		return d
	}
	level := []int{0}
	for depth := 0; len(level) > 0; depth++ {
		d.VerticesPerDepth = append(d.VerticesPerDepth, len(level))
		levelBits := bitvec.New(0)
		var next []int
		for _, node := range level {
			d.BreadthFirstIDMap = append(d.BreadthFirstIDMap, node)
			refined := !t.IsLeaf(node) &&
				!mask.Get(t.GlobalIndex(node)) &&
				(depthLimiter <= 0 || depth+1 < depthLimiter)
			levelBits.Append(refined)
			if !refined {
				continue
			}
			for i := 0; i < t.numChildren; i++ {
				next = append(next, t.Child(node, i))
			}
		}
		if len(next) > 0 {
			d.Bits.AppendRange(levelBits, 0, levelBits.Len())
		}
		level = next
	}
	return d
}

// BuildFromBreadthFirstOrderDescriptor refines a root-only tree from size
// bits of bits starting at readOffset. Nodes past the end of the window are
// leaves. Native indices of the result follow breadth-first order.
func (t *Tree) BuildFromBreadthFirstOrderDescriptor(bits *bitvec.Vector, size, readOffset int) error {
	if len(t.firstChild) != 1 || !t.IsLeaf(0) {
		return fmt.Errorf("%w: tree %d", ErrTreeNotEmpty, t.index)
	}
	if readOffset < 0 || size < 0 || readOffset+size > bits.Len() {
		return fmt.Errorf("%w: offset=%d size=%d len=%d", ErrDescriptorOverrun, readOffset, size, bits.Len())
	}
	pos := 0
	level := []int{0}
	for pos < size && len(level) > 0 {
		var next []int
		for _, node := range level {
			if pos >= size {
				break
			}
			refined := bits.Get(readOffset + pos)
			pos++
			if !refined {
				continue
			}
			if err := t.SubdivideLeaf(node); err != nil {
				return err
			}
			for i := 0; i < t.numChildren; i++ {
				next = append(next, t.Child(node, i))
			}
		}
		level = next
	}
	if pos < size {
		return fmt.Errorf("%w: tree %d consumed %d of %d bits", ErrDescriptorExtra, t.index, pos, size)
	}
	return nil
}
