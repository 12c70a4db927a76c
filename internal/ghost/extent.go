package ghost

import (
	"context"
	"fmt"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
)

// extentGenerator grows image, rectilinear and structured blocks by the
// requested layers inside their whole extent and fetches the cells and
// points they gain from the blocks that own them.
type extentGenerator struct{}

const (
	extentCell  = 0
	extentPoint = 1

	extentRequestFields = 5 // block, element type, i, j, k
)

// blockRef names one block in the group: the rank holding it and its
// position in that rank's input list.
type blockRef struct {
	rank, index int
}

type extentRequest struct {
	block int
	point bool
	dst   int
	i     [3]int
}

func (extentGenerator) GenerateGhosts(ctx context.Context, c comm.Communicator, inputs []dataset.DataSet, layers int) (Result, error) {
	blocks := make([]*dataset.Structured, len(inputs))
	mine := make([]int64, 0, 6*len(inputs))
	for i, ds := range inputs {
		blocks[i] = ds.(*dataset.Structured)
		for _, v := range blocks[i].Extent {
			mine = append(mine, int64(v))
		}
	}
	if _, err := agreeWidth(ctx, c, inputs, func(ds dataset.DataSet) []*dataset.Array { return transferable(ds.CellData()) }); err != nil {
		return Result{}, err
	}
	if _, err := agreeWidth(ctx, c, inputs, func(ds dataset.DataSet) []*dataset.Array { return transferable(ds.PointData()) }); err != nil {
		return Result{}, err
	}
	all, err := comm.Broadcast(ctx, c, mine)
	if err != nil {
		return Result{}, err
	}
	extents := make([][]dataset.Extent, len(all))
	for rank, flat := range all {
		for off := 0; off+6 <= len(flat); off += 6 {
			var e dataset.Extent
			for a := range e {
				e[a] = int(flat[off+a])
			}
			extents[rank] = append(extents[rank], e)
		}
	}

	n, me := c.Size(), c.Rank()
	res := Result{Outputs: make([]dataset.DataSet, len(blocks))}
	outs := make([]*dataset.Structured, len(blocks))
	requests := make([][]int64, n)
	pending := make([][]extentRequest, n)
	ask := func(owner blockRef, req extentRequest) {
		kind := int64(extentCell)
		if req.point {
			kind = extentPoint
		}
		requests[owner.rank] = append(requests[owner.rank],
			int64(owner.index), kind, int64(req.i[0]), int64(req.i[1]), int64(req.i[2]))
		pending[owner.rank] = append(pending[owner.rank], req)
	}

	for b, s := range blocks {
		self := blockRef{rank: me, index: b}
		grown := s.Extent.Grow(layers, s.WholeExtent)
		out := s.Regrown(grown)
		outs[b] = out
		res.Outputs[b] = out
		cellGhosts := ensureGhostArray(out.CellData(), out.NumberOfCells())
		pointGhosts := ensureGhostArray(out.PointData(), out.NumberOfPoints())

		own, grownCells := s.Extent.CellExtent(), grown.CellExtent()
		grownCells.Each(func(i, j, k int) {
			if own.Contains(i, j, k) {
				return
			}
			dst := grownCells.Index(i, j, k)
			cellGhosts.SetValue(dst, dataset.GhostDuplicate)
			owner, ok := findBlock(extents, self, func(e dataset.Extent) bool { return e.CellExtent().Contains(i, j, k) })
			if !ok {
				res.Missing++
				return
			}
			ask(owner, extentRequest{block: b, dst: dst, i: [3]int{i, j, k}})
		})
		grown.Each(func(i, j, k int) {
			if s.Extent.Contains(i, j, k) {
				return
			}
			dst := grown.Index(i, j, k)
			pointGhosts.SetValue(dst, dataset.GhostDuplicate)
			owner, ok := findBlock(extents, self, func(e dataset.Extent) bool { return e.Contains(i, j, k) })
			if !ok {
				res.Missing++
				return
			}
			ask(owner, extentRequest{block: b, point: true, dst: dst, i: [3]int{i, j, k}})
		})
	}

	incoming, err := comm.Exchange(ctx, c, requests)
	if err != nil {
		return Result{}, err
	}
	replies := make([][]float64, n)
	for peer, flat := range incoming {
		for off := 0; off+extentRequestFields <= len(flat); off += extentRequestFields {
			replies[peer] = answerExtent(replies[peer], blocks, flat[off:off+extentRequestFields])
		}
	}
	answers, err := comm.Exchange(ctx, c, replies)
	if err != nil {
		return Result{}, err
	}

	for peer, reqs := range pending {
		got, off := answers[peer], 0
		for _, req := range reqs {
			out := outs[req.block]
			if req.point {
				arrs := transferable(out.PointData())
				width := 3 + dataset.Components(arrs)
				if off+width > len(got) {
					return Result{}, fmt.Errorf("%w: rank %d answered %d values", ErrMalformedReply, peer, len(got))
				}
				setPoint(out, req.dst, req.i, [3]float64{got[off], got[off+1], got[off+2]})
				scatterTuple(arrs, req.dst, got[off+3:off+width])
				off += width
				continue
			}
			arrs := transferable(out.CellData())
			width := dataset.Components(arrs)
			if off+width > len(got) {
				return Result{}, fmt.Errorf("%w: rank %d answered %d values", ErrMalformedReply, peer, len(got))
			}
			scatterTuple(arrs, req.dst, got[off:off+width])
			off += width
		}
		if off != len(got) {
			return Result{}, fmt.Errorf("%w: rank %d answered %d values, expected %d", ErrMalformedReply, peer, len(got), off)
		}
	}
	return res, nil
}

// findBlock returns the first block in rank order, other than self, whose
// extent satisfies has.
func findBlock(extents [][]dataset.Extent, self blockRef, has func(dataset.Extent) bool) (blockRef, bool) {
	for rank, list := range extents {
		for index, e := range list {
			ref := blockRef{rank: rank, index: index}
			if ref != self && has(e) {
				return ref, true
			}
		}
	}
	return blockRef{}, false
}

// answerExtent appends the reply to one request to buf: the cell tuple, or
// the point coordinates followed by the point tuple. Requests naming an
// element the block does not hold are answered with zeros of the same size.
func answerExtent(buf []float64, blocks []*dataset.Structured, req []int64) []float64 {
	b := int(req[0])
	i, j, k := int(req[2]), int(req[3]), int(req[4])
	if b < 0 || b >= len(blocks) {
		return buf
	}
	s := blocks[b]
	if req[1] == extentPoint {
		arrs := transferable(s.PointData())
		reply := make([]float64, 3+dataset.Components(arrs))
		if s.Extent.Contains(i, j, k) {
			p := s.PointAt(i, j, k)
			copy(reply, p[:])
			gatherTuple(arrs, s.Extent.Index(i, j, k), reply[3:])
		}
		return append(buf, reply...)
	}
	arrs := transferable(s.CellData())
	reply := make([]float64, dataset.Components(arrs))
	if own := s.Extent.CellExtent(); own.Contains(i, j, k) {
		gatherTuple(arrs, own.Index(i, j, k), reply)
	}
	return append(buf, reply...)
}

// setPoint stores the position of a fetched point. Image data derives
// positions from origin and spacing and stores nothing.
func setPoint(s *dataset.Structured, dst int, ijk [3]int, p [3]float64) {
	switch s.Kind() {
	case dataset.KindRectilinear:
		for a := 0; a < 3; a++ {
			s.Coords[a][ijk[a]-s.Extent[2*a]] = p[a]
		}
	case dataset.KindStructured, dataset.KindExplicitStructured:
		s.Points[dst] = p
	}
}
