package ghost

import (
	"context"
	"fmt"
	"math"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
)

// CanSynchronize reports whether every leaf of in carries a ghost array, a
// global-id array and a process-id array on its cells and on its points.
// ok holds only when both sides do; cell and point report each side. An
// input without leaves can trivially be synchronized.
func CanSynchronize(in dataset.Object) (ok, cell, point bool) {
	return canSynchronizeLeaves(dataset.Leaves(in))
}

func syncable(attrs *dataset.Attributes) bool {
	return attrs != nil &&
		attrs.Ghosts() != nil &&
		attrs.GlobalIDs() != nil &&
		attrs.ProcessIDs() != nil
}

// SynchronizeGhostData refreshes the field values of every ghost cell and
// point of leaves, in place, from the rank named by its process id. Owners
// answer from their non-ghost elements with the same global id. Ghost,
// global-id and process-id arrays are never transferred. It returns the
// number of ghosts whose owner could not supply a value. Collective.
func SynchronizeGhostData(ctx context.Context, c comm.Communicator, leaves []dataset.DataSet) (int, error) {
	missingCells, err := syncElements(ctx, c, leaves, (dataset.DataSet).CellData)
	if err != nil {
		return 0, fmt.Errorf("cells: %w", err)
	}
	missingPoints, err := syncElements(ctx, c, leaves, (dataset.DataSet).PointData)
	if err != nil {
		return 0, fmt.Errorf("points: %w", err)
	}
	return missingCells + missingPoints, nil
}

type elementRef struct {
	leaf, index int
}

func syncElements(ctx context.Context, c comm.Communicator, leaves []dataset.DataSet, side func(dataset.DataSet) *dataset.Attributes) (int, error) {
	width, err := agreeWidth(ctx, c, leaves, func(ds dataset.DataSet) []*dataset.Array {
		return side(ds).FieldArrays()
	})
	if err != nil || width < 0 {
		return 0, err
	}

	n := c.Size()
	requests := make([][]int64, n)
	pending := make([][]elementRef, n)
	owned := map[int64]elementRef{}
	missing := 0
	for l, ds := range leaves {
		attrs := side(ds)
		if !syncable(attrs) {
			continue
		}
		ghosts, gids, pids := attrs.Ghosts(), attrs.GlobalIDs(), attrs.ProcessIDs()
		for e := 0; e < gids.Tuples(); e++ {
			gid := int64(gids.Value(e))
			if ghosts.Value(e) == dataset.GhostNone {
				owned[gid] = elementRef{leaf: l, index: e}
				continue
			}
			owner := int(pids.Value(e))
			if owner < 0 || owner >= n {
				missing++
				continue
			}
			requests[owner] = append(requests[owner], gid)
			pending[owner] = append(pending[owner], elementRef{leaf: l, index: e})
		}
	}

	incoming, err := comm.Exchange(ctx, c, requests)
	if err != nil {
		return 0, err
	}
	stride := width + 1
	replies := make([][]float64, n)
	for peer, gids := range incoming {
		reply := make([]float64, len(gids)*stride)
		for i, gid := range gids {
			ref, ok := owned[gid]
			if !ok {
				continue
			}
			reply[i*stride] = 1
			gatherTuple(side(leaves[ref.leaf]).FieldArrays(), ref.index, reply[i*stride+1:(i+1)*stride])
		}
		replies[peer] = reply
	}
	answers, err := comm.Exchange(ctx, c, replies)
	if err != nil {
		return 0, err
	}

	for peer, refs := range pending {
		got := answers[peer]
		if len(got) != len(refs)*stride {
			return 0, fmt.Errorf("%w: rank %d answered %d values for %d ghosts", ErrMalformedReply, peer, len(got), len(refs))
		}
		for i, ref := range refs {
			if got[i*stride] == 0 {
				missing++
				continue
			}
			scatterTuple(side(leaves[ref.leaf]).FieldArrays(), ref.index, got[i*stride+1:(i+1)*stride])
		}
	}
	return missing, nil
}

// agreeWidth returns the summed component count of the arrays every leaf
// on every rank transfers, or -1 when no rank holds a leaf. Ranks that
// disagree all get ErrFieldMismatch. Collective.
func agreeWidth(ctx context.Context, c comm.Communicator, leaves []dataset.DataSet, arrays func(dataset.DataSet) []*dataset.Array) (int, error) {
	local, bad := -1, false
	for _, ds := range leaves {
		w := dataset.Components(arrays(ds))
		if local >= 0 && w != local {
			bad = true
		}
		local = w
	}
	send := []int64{boolInt(bad), -1, math.MinInt64}
	if local >= 0 {
		send[1], send[2] = int64(local), -int64(local)
	}
	agreed, err := c.AllReduce(ctx, send, comm.OpMax)
	if err != nil {
		return 0, err
	}
	if agreed[1] < 0 {
		return -1, nil
	}
	if agreed[0] != 0 || agreed[1] != -agreed[2] {
		return 0, fmt.Errorf("%w: widths range from %d to %d", ErrFieldMismatch, -agreed[2], agreed[1])
	}
	return int(agreed[1]), nil
}

// gatherTuple writes tuple i of every array in arrs into dst, back to back.
func gatherTuple(arrs []*dataset.Array, i int, dst []float64) {
	off := 0
	for _, arr := range arrs {
		off += copy(dst[off:], arr.Tuple(i))
	}
}

// scatterTuple is the inverse of gatherTuple.
func scatterTuple(arrs []*dataset.Array, i int, src []float64) {
	off := 0
	for _, arr := range arrs {
		arr.SetTuple(i, src[off:off+arr.Components])
		off += arr.Components
	}
}

// detach returns a shallow copy of ds whose field arrays are private, so
// ghost values can be written without touching ds.
func detach(ds dataset.DataSet) dataset.DataSet {
	out := ds.ShallowCopy().(dataset.DataSet)
	for _, attrs := range []*dataset.Attributes{out.CellData(), out.PointData()} {
		for _, arr := range attrs.FieldArrays() {
			attrs.Add(arr.Clone())
		}
	}
	return out
}
