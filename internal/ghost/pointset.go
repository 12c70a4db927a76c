package ghost

import (
	"context"
	"fmt"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
)

// pointSetGenerator grows unstructured and polygonal blocks one ring at a
// time. Each ring, every block publishes the global ids of the points it
// gained last ring (all of its points on the first), and every other block
// sends the cells it owns that touch one of them, together with their
// points and tuples.
type pointSetGenerator struct{}

// pointSetBlock is one output block under construction.
type pointSetBlock struct {
	ps      *dataset.PointSet
	owned   []int
	points  map[int64]int
	cells   map[int64]bool
	front   []int64
	sent    map[blockRef]map[int]bool
	cellIDs *dataset.Array
	pointID *dataset.Array
}

func newPointSetBlock(ps *dataset.PointSet) *pointSetBlock {
	cellGhosts := ensureGhostArray(ps.CellData(), ps.NumberOfCells())
	ensureGhostArray(ps.PointData(), ps.NumberOfPoints())
	b := &pointSetBlock{
		ps:      ps,
		points:  make(map[int64]int, ps.NumberOfPoints()),
		cells:   make(map[int64]bool, ps.NumberOfCells()),
		sent:    map[blockRef]map[int]bool{},
		cellIDs: ps.CellData().GlobalIDs(),
		pointID: ps.PointData().GlobalIDs(),
	}
	for i := 0; i < ps.NumberOfPoints(); i++ {
		gid := int64(b.pointID.Value(i))
		b.points[gid] = i
		b.front = append(b.front, gid)
	}
	for i := 0; i < ps.NumberOfCells(); i++ {
		b.cells[int64(b.cellIDs.Value(i))] = true
		if cellGhosts.Value(i) == dataset.GhostNone {
			b.owned = append(b.owned, i)
		}
	}
	return b
}

func (pointSetGenerator) GenerateGhosts(ctx context.Context, c comm.Communicator, inputs []dataset.DataSet, layers int) (Result, error) {
	outs := make([]dataset.DataSet, len(inputs))
	sets := make([]*dataset.PointSet, len(inputs))
	for i, ds := range inputs {
		sets[i] = ds.DeepCopy().(*dataset.PointSet)
		outs[i] = sets[i]
	}
	if err := injectPointSetIDs(ctx, c, sets); err != nil {
		return Result{}, err
	}
	blocks := make([]*pointSetBlock, len(sets))
	for i, ps := range sets {
		blocks[i] = newPointSetBlock(ps)
	}
	if _, err := agreeWidth(ctx, c, outs, func(ds dataset.DataSet) []*dataset.Array { return transferable(ds.CellData()) }); err != nil {
		return Result{}, err
	}
	if _, err := agreeWidth(ctx, c, outs, func(ds dataset.DataSet) []*dataset.Array { return transferable(ds.PointData()) }); err != nil {
		return Result{}, err
	}

	for ring := 0; ring < layers; ring++ {
		fronts, err := shareFronts(ctx, c, blocks)
		if err != nil {
			return Result{}, err
		}
		perPeer := make([][]float64, c.Size())
		for src, b := range blocks {
			for rank, list := range fronts {
				for index, keys := range list {
					dst := blockRef{rank: rank, index: index}
					if dst == (blockRef{rank: c.Rank(), index: src}) || len(keys) == 0 {
						continue
					}
					perPeer[rank] = b.appendTouching(perPeer[rank], dst, keys)
				}
			}
		}
		got, err := comm.Exchange(ctx, c, perPeer)
		if err != nil {
			return Result{}, err
		}
		for _, b := range blocks {
			b.front = b.front[:0]
		}
		for peer, buf := range got {
			if err := receiveCells(blocks, buf); err != nil {
				return Result{}, fmt.Errorf("from rank %d: %w", peer, err)
			}
		}
	}
	for _, ps := range sets {
		ps.MeshModified()
	}
	return Result{Outputs: outs}, nil
}

// shareFronts publishes every block's front and returns every block's
// front as a set, indexed by rank then block. Collective.
func shareFronts(ctx context.Context, c comm.Communicator, blocks []*pointSetBlock) ([][]map[int64]bool, error) {
	mine := []int64{int64(len(blocks))}
	for _, b := range blocks {
		mine = append(mine, int64(len(b.front)))
		mine = append(mine, b.front...)
	}
	all, err := comm.Broadcast(ctx, c, mine)
	if err != nil {
		return nil, err
	}
	out := make([][]map[int64]bool, len(all))
	for rank, flat := range all {
		if len(flat) == 0 {
			continue
		}
		off := 1
		for range flat[0] {
			if off >= len(flat) {
				return nil, fmt.Errorf("%w: front of rank %d truncated", ErrMalformedReply, rank)
			}
			n := int(flat[off])
			off++
			if off+n > len(flat) {
				return nil, fmt.Errorf("%w: front of rank %d truncated", ErrMalformedReply, rank)
			}
			keys := make(map[int64]bool, n)
			for _, k := range flat[off : off+n] {
				keys[k] = true
			}
			out[rank] = append(out[rank], keys)
			off += n
		}
	}
	return out, nil
}

// appendTouching encodes every owned cell of b that touches keys and was
// not yet sent to dst. A record is the destination block, the cell's
// global id, its point count, each point as global id, coordinates and
// tuple, then the cell tuple.
func (b *pointSetBlock) appendTouching(buf []float64, dst blockRef, keys map[int64]bool) []float64 {
	sent := b.sent[dst]
	if sent == nil {
		sent = map[int]bool{}
		b.sent[dst] = sent
	}
	cellArrs := transferable(b.ps.CellData())
	pointArrs := transferable(b.ps.PointData())
	cellTuple := make([]float64, dataset.Components(cellArrs))
	pointTuple := make([]float64, dataset.Components(pointArrs))
	for _, ci := range b.owned {
		if sent[ci] || !b.touches(ci, keys) {
			continue
		}
		sent[ci] = true
		ids := b.ps.Cells[ci]
		buf = append(buf, float64(dst.index), b.cellIDs.Value(ci), float64(len(ids)))
		for _, pi := range ids {
			p := b.ps.Points[pi]
			gatherTuple(pointArrs, pi, pointTuple)
			buf = append(buf, b.pointID.Value(pi), p[0], p[1], p[2])
			buf = append(buf, pointTuple...)
		}
		gatherTuple(cellArrs, ci, cellTuple)
		buf = append(buf, cellTuple...)
	}
	return buf
}

func (b *pointSetBlock) touches(cell int, keys map[int64]bool) bool {
	for _, pi := range b.ps.Cells[cell] {
		if keys[int64(b.pointID.Value(pi))] {
			return true
		}
	}
	return false
}

type incomingPoint struct {
	gid   int64
	pos   [3]float64
	tuple []float64
}

// receiveCells decodes one peer's records and appends every cell the
// destination block does not hold yet as a ghost, reusing points it
// already has by global id.
func receiveCells(blocks []*pointSetBlock, buf []float64) error {
	off := 0
	need := func(n int) error {
		if off+n > len(buf) {
			return fmt.Errorf("%w: record truncated at %d of %d", ErrMalformedReply, off, len(buf))
		}
		return nil
	}
	for off < len(buf) {
		if err := need(3); err != nil {
			return err
		}
		index, cellID, npts := int(buf[off]), int64(buf[off+1]), int(buf[off+2])
		off += 3
		if index < 0 || index >= len(blocks) || npts < 0 {
			return fmt.Errorf("%w: record for block %d with %d points", ErrMalformedReply, index, npts)
		}
		b := blocks[index]
		pointWidth := dataset.Components(transferable(b.ps.PointData()))
		cellWidth := dataset.Components(transferable(b.ps.CellData()))
		if err := need(npts*(4+pointWidth) + cellWidth); err != nil {
			return err
		}
		pts := make([]incomingPoint, npts)
		for i := range pts {
			pts[i] = incomingPoint{
				gid:   int64(buf[off]),
				pos:   [3]float64{buf[off+1], buf[off+2], buf[off+3]},
				tuple: buf[off+4 : off+4+pointWidth],
			}
			off += 4 + pointWidth
		}
		tuple := buf[off : off+cellWidth]
		off += cellWidth
		if b.cells[cellID] {
			continue
		}
		b.addGhostCell(cellID, pts, tuple)
	}
	return nil
}

func (b *pointSetBlock) addGhostCell(cellID int64, pts []incomingPoint, tuple []float64) {
	ids := make([]int, len(pts))
	for i, p := range pts {
		local, ok := b.points[p.gid]
		if !ok {
			local = len(b.ps.Points)
			b.ps.Points = append(b.ps.Points, p.pos)
			appendElement(b.ps.PointData(), p.tuple, dataset.GhostDuplicate)
			b.points[p.gid] = local
			b.front = append(b.front, p.gid)
		}
		ids[i] = local
	}
	b.ps.Cells = append(b.ps.Cells, ids)
	appendElement(b.ps.CellData(), tuple, dataset.GhostDuplicate)
	b.cells[cellID] = true
}

// appendElement grows every array of attrs by one tuple, fills the
// transferable arrays from tuple and marks the ghost array with ghost.
func appendElement(attrs *dataset.Attributes, tuple []float64, ghost float64) int {
	ghosts := attrs.Ghosts()
	n := ghosts.Tuples()
	for _, arr := range attrs.Arrays() {
		arr.Resize(n + 1)
	}
	scatterTuple(transferable(attrs), n, tuple)
	ghosts.SetValue(n, ghost)
	return n
}
