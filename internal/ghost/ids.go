package ghost

import (
	"context"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
)

// injectProcessIDs tags every supported leaf that lacks them with cell and
// point ProcessIds arrays holding rank.
func injectProcessIDs(leaves []dataset.DataSet, rank int) {
	for _, ds := range leaves {
		if _, ok := Table[ds.Kind()]; !ok {
			continue
		}
		if ds.CellData().ProcessIDs() == nil {
			ds.CellData().SetRole(dataset.RoleProcessIDs,
				dataset.NewConstantArray(dataset.ProcessIDsArrayName, ds.NumberOfCells(), float64(rank)))
		}
		if ds.PointData().ProcessIDs() == nil {
			ds.PointData().SetRole(dataset.RoleProcessIDs,
				dataset.NewConstantArray(dataset.ProcessIDsArrayName, ds.NumberOfPoints(), float64(rank)))
		}
	}
}

// injectGlobalIDs adds GlobalIds arrays to supported leaves that lack them.
// Extent-based leaves number cells and points by their linear index in the
// whole extent. Point sets number cells by rank order and points by
// coordinate, so a point shared between ranks gets one id. Collective.
func injectGlobalIDs(ctx context.Context, c comm.Communicator, leaves []dataset.DataSet) error {
	var sets []*dataset.PointSet
	for _, ds := range leaves {
		switch v := ds.(type) {
		case *dataset.Structured:
			if _, ok := Table[v.Kind()]; ok {
				injectStructuredIDs(v)
			}
		case *dataset.PointSet:
			sets = append(sets, v)
		}
	}
	return injectPointSetIDs(ctx, c, sets)
}

func injectStructuredIDs(s *dataset.Structured) {
	whole := s.WholeExtent
	if s.CellData().GlobalIDs() == nil {
		wholeCells, own := whole.CellExtent(), s.Extent.CellExtent()
		ids := dataset.NewArray(dataset.GlobalIDsArrayName, 1, own.Count())
		own.Each(func(i, j, k int) {
			ids.SetValue(own.Index(i, j, k), float64(wholeCells.Index(i, j, k)))
		})
		s.CellData().SetRole(dataset.RoleGlobalIDs, ids)
	}
	if s.PointData().GlobalIDs() == nil {
		ids := dataset.NewArray(dataset.GlobalIDsArrayName, 1, s.Extent.Count())
		s.Extent.Each(func(i, j, k int) {
			ids.SetValue(s.Extent.Index(i, j, k), float64(whole.Index(i, j, k)))
		})
		s.PointData().SetRole(dataset.RoleGlobalIDs, ids)
	}
}

// injectPointSetIDs numbers point-set elements that lack ids. New ids start
// above the largest id any rank already carries. Collective.
func injectPointSetIDs(ctx context.Context, c comm.Communicator, sets []*dataset.PointSet) error {
	var needCells, needPoints []*dataset.PointSet
	var cellCount int64
	maxCell, maxPoint := int64(-1), int64(-1)
	for _, ps := range sets {
		if ids := ps.CellData().GlobalIDs(); ids != nil {
			maxCell = max(maxCell, maxID(ids))
		} else {
			needCells = append(needCells, ps)
			cellCount += int64(ps.NumberOfCells())
		}
		if ids := ps.PointData().GlobalIDs(); ids != nil {
			maxPoint = max(maxPoint, maxID(ids))
		} else {
			needPoints = append(needPoints, ps)
		}
	}
	agreed, err := c.AllReduce(ctx, []int64{
		boolInt(len(needCells) > 0), boolInt(len(needPoints) > 0), maxCell, maxPoint,
	}, comm.OpMax)
	if err != nil {
		return err
	}

	if agreed[0] != 0 {
		counts, err := comm.AllGather(ctx, c, []int64{cellCount})
		if err != nil {
			return err
		}
		next := agreed[2] + 1 + exclusiveScan(counts, c.Rank())
		for _, ps := range needCells {
			ids := dataset.NewArray(dataset.GlobalIDsArrayName, 1, ps.NumberOfCells())
			for i := range ids.Data {
				ids.Data[i] = float64(next)
				next++
			}
			ps.CellData().SetRole(dataset.RoleGlobalIDs, ids)
		}
	}
	if agreed[1] != 0 {
		return assignPointIDs(ctx, c, needPoints, agreed[3]+1)
	}
	return nil
}

// assignPointIDs numbers the distinct coordinates of sets across all ranks.
// Every rank sees every rank's coordinate list and numbers them the same
// way: in rank order, first occurrence wins, so the lowest rank holding a
// coordinate owns its id. Collective.
func assignPointIDs(ctx context.Context, c comm.Communicator, sets []*dataset.PointSet, base int64) error {
	seen := map[[3]float64]bool{}
	var mine []float64
	for _, ps := range sets {
		for _, p := range ps.Points {
			if !seen[p] {
				seen[p] = true
				mine = append(mine, p[0], p[1], p[2])
			}
		}
	}
	all, err := comm.Broadcast(ctx, c, mine)
	if err != nil {
		return err
	}
	ids := make(map[[3]float64]int64)
	next := base
	for _, coords := range all {
		for i := 0; i+3 <= len(coords); i += 3 {
			key := [3]float64{coords[i], coords[i+1], coords[i+2]}
			if _, ok := ids[key]; !ok {
				ids[key] = next
				next++
			}
		}
	}
	for _, ps := range sets {
		arr := dataset.NewArray(dataset.GlobalIDsArrayName, 1, ps.NumberOfPoints())
		for i, p := range ps.Points {
			arr.Data[i] = float64(ids[p])
		}
		ps.PointData().SetRole(dataset.RoleGlobalIDs, arr)
	}
	return nil
}

// exclusiveScan sums counts below rank.
func exclusiveScan(counts []int64, rank int) int64 {
	var total int64
	for _, n := range counts[:rank] {
		total += n
	}
	return total
}

func maxID(a *dataset.Array) int64 {
	out := int64(-1)
	for i := 0; i < a.Tuples(); i++ {
		out = max(out, int64(a.Value(i)))
	}
	return out
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
