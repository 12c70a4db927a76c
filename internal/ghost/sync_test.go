package ghost

import (
	"context"
	"testing"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
	"github.com/danmuck/treegrid/internal/testutil/ranktest"
	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

// segments returns a polyline of n segments with every sync array in
// place and nothing marked as ghost.
func segments(t ranktest.TB, n int) *dataset.PointSet {
	t.Helper()
	points := make([][3]float64, n+1)
	cells := make([][]int, n)
	for i := range points {
		points[i] = [3]float64{float64(i), 0, 0}
	}
	for i := range cells {
		cells[i] = []int{i, i + 1}
	}
	ps, err := dataset.NewPolygonal(points, cells)
	require.NoError(t, err)
	for _, side := range []struct {
		attrs *dataset.Attributes
		n     int
	}{{ps.CellData(), n}, {ps.PointData(), n + 1}} {
		ids := dataset.NewArray(dataset.GlobalIDsArrayName, 1, side.n)
		for i := range ids.Data {
			ids.Data[i] = float64(i)
		}
		side.attrs.SetRole(dataset.RoleGhost, dataset.NewArray(dataset.GhostArrayName, 1, side.n))
		side.attrs.SetRole(dataset.RoleGlobalIDs, ids)
		side.attrs.SetRole(dataset.RoleProcessIDs, dataset.NewArray(dataset.ProcessIDsArrayName, 1, side.n))
	}
	return ps
}

func TestCanSynchronizeNeedsPointGlobalIDs(t *testing.T) {
	testlog.Start(t)
	ps := segments(t, 2)
	ps.PointData().Remove(dataset.GlobalIDsArrayName)

	ok, cell, point := CanSynchronize(ps)
	require.False(t, ok)
	require.True(t, cell)
	require.False(t, point)

	ps = segments(t, 2)
	ok, cell, point = CanSynchronize(dataset.NewPartitioned(ps))
	require.True(t, ok)
	require.True(t, cell)
	require.True(t, point)

	for _, name := range []string{dataset.GhostArrayName, dataset.ProcessIDsArrayName} {
		ps = segments(t, 2)
		ps.CellData().Remove(name)
		ok, cell, point = CanSynchronize(ps)
		require.False(t, ok, name)
		require.False(t, cell, name)
		require.True(t, point, name)
	}
}

func TestCanSynchronizeEmptyInput(t *testing.T) {
	testlog.Start(t)
	ok, cell, point := CanSynchronize(dataset.NewPartitioned())
	require.True(t, ok)
	require.True(t, cell)
	require.True(t, point)
}

func TestSynchronizeCountsMissingOwners(t *testing.T) {
	testlog.Start(t)
	ps := segments(t, 3)
	temp := dataset.NewArray("temp", 1, 3)
	temp.Data[0] = 7
	ps.CellData().Add(temp)
	// Cell 1 duplicates cell 0; cell 2 names a rank outside the group.
	cells := ps.CellData()
	cells.Ghosts().Data = []float64{0, 1, 1}
	cells.GlobalIDs().Data = []float64{0, 0, 5}
	cells.ProcessIDs().Data = []float64{0, 0, 3}

	missing, err := SynchronizeGhostData(context.Background(), comm.Self(), []dataset.DataSet{ps})
	require.NoError(t, err)
	require.Equal(t, 1, missing)
	require.Equal(t, []float64{7, 7, 0}, temp.Data)
}

func TestSynchronizeAcrossRanks(t *testing.T) {
	testlog.Start(t)
	temps := make([][]float64, 3)
	ranktest.Run(t, 3, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		// Every rank owns cell gid == rank and holds ghosts of the other two.
		ps := segments(t, 3)
		cells := ps.CellData()
		temp := dataset.NewArray("temp", 1, 3)
		for i := 0; i < 3; i++ {
			owner := (c.Rank() + i) % 3
			cells.GlobalIDs().Data[i] = float64(owner)
			cells.ProcessIDs().Data[i] = float64(owner)
			if i > 0 {
				cells.Ghosts().Data[i] = dataset.GhostDuplicate
			} else {
				temp.Data[i] = float64(10 * (owner + 1))
			}
		}
		cells.Add(temp)
		_, err := SynchronizeGhostData(ctx, c, []dataset.DataSet{ps})
		temps[c.Rank()] = temp.Data
		return err
	})
	require.Equal(t, []float64{10, 20, 30}, temps[0])
	require.Equal(t, []float64{20, 30, 10}, temps[1])
	require.Equal(t, []float64{30, 10, 20}, temps[2])
}

func TestSynchronizeRejectsWidthMismatch(t *testing.T) {
	testlog.Start(t)
	errs := make([]error, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		ps := segments(t, 2)
		ps.CellData().Add(dataset.NewArray("temp", 1+c.Rank(), 2))
		_, errs[c.Rank()] = SynchronizeGhostData(ctx, c, []dataset.DataSet{ps})
		return nil
	})
	for _, err := range errs {
		require.ErrorIs(t, err, ErrFieldMismatch)
	}
}

func TestDetachLeavesInputUntouched(t *testing.T) {
	testlog.Start(t)
	ps := segments(t, 2)
	temp := dataset.NewConstantArray("temp", 2, 1)
	ps.CellData().Add(temp)

	out := detach(ps)
	out.CellData().Get("temp").SetValue(0, 9)
	require.Equal(t, 1.0, temp.Value(0))
	require.Same(t, ps.CellData().GlobalIDs(), out.CellData().GlobalIDs())
}
