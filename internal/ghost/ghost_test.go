package ghost

import (
	"context"
	"fmt"
	"testing"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
	"github.com/danmuck/treegrid/internal/htg"
	"github.com/danmuck/treegrid/internal/testutil/ranktest"
	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func idOptions() Options {
	opts := DefaultOptions()
	opts.GenerateProcessIDs = true
	opts.GenerateGlobalIDs = true
	return opts
}

// imageBlock returns an image over ext whose "temp" cell values and
// "height" point values are their linear index in whole.
func imageBlock(ext, whole dataset.Extent) *dataset.Structured {
	s := dataset.NewImage(ext, whole, [3]float64{}, [3]float64{1, 1, 1})
	cells, wholeCells := ext.CellExtent(), whole.CellExtent()
	temp := dataset.NewArray("temp", 1, cells.Count())
	cells.Each(func(i, j, k int) {
		temp.SetValue(cells.Index(i, j, k), float64(wholeCells.Index(i, j, k)))
	})
	height := dataset.NewArray("height", 1, ext.Count())
	ext.Each(func(i, j, k int) {
		height.SetValue(ext.Index(i, j, k), float64(whole.Index(i, j, k)))
	})
	s.CellData().Add(temp)
	s.PointData().Add(height)
	return s
}

// chain returns rank's share of a polyline along x: three segments from
// x=3*rank, with "temp" holding each segment's start and "x" each point's
// coordinate.
func chain(t ranktest.TB, rank int) *dataset.PointSet {
	t.Helper()
	base := 3 * rank
	points := make([][3]float64, 4)
	for i := range points {
		points[i] = [3]float64{float64(base + i), 0, 0}
	}
	ps, err := dataset.NewPolygonal(points, [][]int{{0, 1}, {1, 2}, {2, 3}})
	require.NoError(t, err)
	temp := dataset.NewArray("temp", 1, 3)
	for i := range temp.Data {
		temp.Data[i] = float64(base + i)
	}
	x := dataset.NewArray("x", 1, 4)
	for i, p := range points {
		x.Data[i] = p[0]
	}
	ps.CellData().Add(temp)
	ps.PointData().Add(x)
	return ps
}

func TestLayersResolution(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name      string
		opts      Options
		requested int
		want      int
	}{
		{"build if required uses request", Options{NumberOfGhostLayers: 3, BuildIfRequired: true}, 1, 1},
		{"build if required allows zero", Options{NumberOfGhostLayers: 3, BuildIfRequired: true}, 0, 0},
		{"minimum applies", Options{NumberOfGhostLayers: 3}, 1, 3},
		{"request above minimum", Options{NumberOfGhostLayers: 2}, 4, 4},
		{"negative request", Options{BuildIfRequired: true}, -2, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.opts.Layers(tc.requested))
		})
	}
}

func TestImageGhostsAcrossTwoRanks(t *testing.T) {
	testlog.Start(t)
	whole := dataset.Extent{0, 4, 0, 2, 0, 0}
	extents := []dataset.Extent{{0, 2, 0, 2, 0, 0}, {2, 4, 0, 2, 0, 0}}
	ins := make([]*dataset.Structured, 2)
	outs := make([]*dataset.Structured, 2)
	reps := make([]*Report, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		in := imageBlock(extents[c.Rank()], whole)
		ins[c.Rank()] = in
		out, rep, err := New(c, idOptions()).Execute(ctx, in, 1)
		if err != nil {
			return err
		}
		outs[c.Rank()], reps[c.Rank()] = out.(*dataset.Structured), rep
		return nil
	})

	require.Equal(t, dataset.Extent{0, 3, 0, 2, 0, 0}, outs[0].Extent)
	require.Equal(t, dataset.Extent{1, 4, 0, 2, 0, 0}, outs[1].Extent)
	require.Equal(t, reps[0].PassID, reps[1].PassID)
	wholeCells := whole.CellExtent()
	ghostColumn := []int{2, 1}
	for rank, out := range outs {
		require.True(t, reps[rank].OK())
		require.Equal(t, ModeGenerate, reps[rank].Mode)
		require.Equal(t, 6, out.NumberOfCells())

		cells := out.Extent.CellExtent()
		temp, gids := out.CellData().Get("temp"), out.CellData().GlobalIDs()
		ghosts, pids := out.CellData().Ghosts(), out.CellData().ProcessIDs()
		cells.Each(func(i, j, k int) {
			idx := cells.Index(i, j, k)
			require.Equal(t, float64(wholeCells.Index(i, j, k)), temp.Value(idx), "rank %d cell %d,%d", rank, i, j)
			require.Equal(t, float64(wholeCells.Index(i, j, k)), gids.Value(idx))
			if i == ghostColumn[rank] {
				require.Equal(t, float64(dataset.GhostDuplicate), ghosts.Value(idx))
				require.Equal(t, float64(1-rank), pids.Value(idx))
			} else {
				require.Equal(t, float64(dataset.GhostNone), ghosts.Value(idx))
				require.Equal(t, float64(rank), pids.Value(idx))
			}
		})

		height, pointGhosts := out.PointData().Get("height"), out.PointData().Ghosts()
		ghostPoint := []int{3, 1}
		out.Extent.Each(func(i, j, k int) {
			idx := out.Extent.Index(i, j, k)
			require.Equal(t, float64(whole.Index(i, j, k)), height.Value(idx))
			require.Equal(t, i == ghostPoint[rank], pointGhosts.Value(idx) == dataset.GhostDuplicate)
		})
	}
	for rank, in := range ins {
		require.Equal(t, extents[rank], in.Extent)
		require.Nil(t, in.CellData().Ghosts())
		require.Nil(t, in.CellData().ProcessIDs())
	}
}

func TestRectilinearGhostsCarryCoordinates(t *testing.T) {
	testlog.Start(t)
	whole := dataset.Extent{0, 4, 0, 0, 0, 0}
	square := func(lo, hi int) []float64 {
		var out []float64
		for i := lo; i <= hi; i++ {
			out = append(out, float64(i*i))
		}
		return out
	}
	extents := []dataset.Extent{{0, 2, 0, 0, 0, 0}, {2, 4, 0, 0, 0, 0}}
	outs := make([]*dataset.Structured, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		ext := extents[c.Rank()]
		in, err := dataset.NewRectilinear(ext, whole, [3][]float64{square(ext[0], ext[1]), {0}, {0}})
		if err != nil {
			return err
		}
		out, _, err := New(c, idOptions()).Execute(ctx, in, 1)
		if err != nil {
			return err
		}
		outs[c.Rank()] = out.(*dataset.Structured)
		return nil
	})
	require.Equal(t, []float64{0, 1, 4, 9}, outs[0].Coords[0])
	require.Equal(t, []float64{1, 4, 9, 16}, outs[1].Coords[0])
	require.Equal(t, [3]float64{9, 0, 0}, outs[0].PointAt(3, 0, 0))
}

func TestPointSetGhostRings(t *testing.T) {
	testlog.Start(t)
	outs := make([]*dataset.PointSet, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		out, _, err := New(c, idOptions()).Execute(ctx, chain(t, c.Rank()), 2)
		if err != nil {
			return err
		}
		outs[c.Rank()] = out.(*dataset.PointSet)
		return nil
	})

	// Rank 0 gains segments 3 and 4 and points 4 and 5; rank 1 gains
	// segments 2 and 1 and points 2 and 1, in ring order.
	require.Equal(t, []float64{0, 1, 2, 3, 4}, outs[0].CellData().Get("temp").Data)
	require.Equal(t, []float64{0, 1, 2, 3, 4, 5}, outs[0].PointData().Get("x").Data)
	require.Equal(t, []int{3, 4}, outs[0].Cells[3])
	require.Equal(t, []int{4, 5}, outs[0].Cells[4])
	require.Equal(t, []float64{0, 0, 0, 1, 1}, outs[0].CellData().Ghosts().Data)
	require.Equal(t, []float64{0, 0, 0, 0, 1, 1}, outs[0].PointData().Ghosts().Data)

	require.Equal(t, []float64{3, 4, 5, 2, 1}, outs[1].CellData().Get("temp").Data)
	require.Equal(t, []float64{3, 4, 5, 6, 2, 1}, outs[1].PointData().Get("x").Data)
	require.Equal(t, []int{4, 0}, outs[1].Cells[3])
	require.Equal(t, []int{5, 4}, outs[1].Cells[4])
	require.Equal(t, []float64{1, 1, 1, 1, 0, 0}, outs[1].PointData().ProcessIDs().Data)

	for rank, out := range outs {
		gids := out.CellData().GlobalIDs()
		temp := out.CellData().Get("temp")
		for i := range out.Cells {
			require.Equal(t, temp.Value(i), gids.Value(i), "rank %d cell %d", rank, i)
		}
		pointIDs := out.PointData().GlobalIDs()
		for i, p := range out.Points {
			require.Equal(t, p[0], pointIDs.Value(i))
		}
	}
}

func TestSyncOnlyRefreshesGhostValues(t *testing.T) {
	testlog.Start(t)
	reps := make([]*Report, 2)
	outs := make([]*dataset.PointSet, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		g := New(c, idOptions())
		first, _, err := g.Execute(ctx, chain(t, c.Rank()), 1)
		if err != nil {
			return err
		}
		ps := first.(*dataset.PointSet)
		temp, gids, ghosts := ps.CellData().Get("temp"), ps.CellData().GlobalIDs(), ps.CellData().Ghosts()
		for i := range ps.Cells {
			if ghosts.Value(i) == dataset.GhostNone {
				temp.SetValue(i, 100+gids.Value(i))
			}
		}
		out, rep, err := g.GenerateGhostCells(ctx, ps, 1, true)
		if err != nil {
			return err
		}
		outs[c.Rank()], reps[c.Rank()] = out.(*dataset.PointSet), rep
		return nil
	})
	require.Equal(t, []float64{100, 101, 102, 103}, outs[0].CellData().Get("temp").Data)
	require.Equal(t, []float64{103, 104, 105, 102}, outs[1].CellData().Get("temp").Data)
	for _, rep := range reps {
		require.Equal(t, ModeSync, rep.Mode)
		require.True(t, rep.OK())
	}
}

func TestSyncOnlyFallsBackWithoutPointIDs(t *testing.T) {
	testlog.Start(t)
	reps := make([]*Report, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		// Cells carry every sync array; points carry none.
		in := chain(t, c.Rank())
		gids := in.CellData().Get("temp").Clone()
		gids.Name = dataset.GlobalIDsArrayName
		in.CellData().Add(gids)
		in.CellData().Add(dataset.NewArray(dataset.GhostArrayName, 1, 3))
		in.CellData().Add(dataset.NewConstantArray(dataset.ProcessIDsArrayName, 3, float64(c.Rank())))
		ok, cell, point := CanSynchronize(in)
		if ok || !cell || point {
			return fmt.Errorf("CanSynchronize = %v, %v, %v", ok, cell, point)
		}
		_, rep, err := New(c, DefaultOptions()).GenerateGhostCells(ctx, in, 1, true)
		reps[c.Rank()] = rep
		return err
	})
	for _, rep := range reps {
		require.Equal(t, ModeGenerate, rep.Mode)
	}
}

func TestStaticMeshCacheRefreshesOwnedValues(t *testing.T) {
	testlog.Start(t)
	modes := make([][]Mode, 2)
	ghostTemps := make([][]float64, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		opts := idOptions()
		opts.UseStaticMeshCache = true
		g := New(c, opts)
		in := chain(t, c.Rank())
		run := func() (*dataset.PointSet, error) {
			out, rep, err := g.Execute(ctx, in, 1)
			if err != nil {
				return nil, err
			}
			modes[c.Rank()] = append(modes[c.Rank()], rep.Mode)
			return out.(*dataset.PointSet), nil
		}
		if _, err := run(); err != nil {
			return err
		}
		temp := in.CellData().Get("temp")
		for i := range temp.Data {
			temp.Data[i] += 1000
		}
		cached, err := run()
		if err != nil {
			return err
		}
		ghostTemps[c.Rank()] = cached.CellData().Get("temp").Data
		in.MeshModified()
		_, err = run()
		return err
	})
	require.Equal(t, []Mode{ModeGenerate, ModeCache, ModeGenerate}, modes[0])
	require.Equal(t, []Mode{ModeGenerate, ModeCache, ModeGenerate}, modes[1])
	require.Equal(t, []float64{1000, 1001, 1002, 1003}, ghostTemps[0])
	require.Equal(t, []float64{1003, 1004, 1005, 1002}, ghostTemps[1])
}

func TestUnsupportedKindsPassThrough(t *testing.T) {
	testlog.Start(t)
	grid, err := htg.NewGrid(dataset.Extent{0, 1, 0, 1, 0, 1}, 3, 2)
	require.NoError(t, err)
	ext := dataset.Extent{0, 1, 0, 0, 0, 0}
	explicit, err := dataset.NewExplicitStructured(ext, ext, [][3]float64{{0, 0, 0}, {1, 0, 0}})
	require.NoError(t, err)
	whole := dataset.Extent{0, 2, 0, 2, 0, 0}
	in := dataset.NewPartitioned(grid, explicit, imageBlock(whole, whole))

	out, rep, err := New(comm.Self(), DefaultOptions()).Execute(context.Background(), in, 1)
	require.NoError(t, err)
	parts := out.(*dataset.Partitioned).Partitions
	require.Len(t, parts, 3)
	require.IsType(t, &htg.Grid{}, parts[0])
	require.NotSame(t, grid, parts[0])
	require.Equal(t, dataset.KindExplicitStructured, parts[1].Kind())
	require.Equal(t, whole, parts[2].(*dataset.Structured).Extent)

	require.False(t, rep.OK())
	require.Len(t, rep.Issues, 2)
	for i, issue := range rep.Issues {
		require.ErrorIs(t, issue.Err, ErrUnsupportedKind)
		require.Equal(t, SeverityError, issue.Severity)
		require.Equal(t, i, issue.Leaf)
	}
}

func TestMixedKindsWarn(t *testing.T) {
	testlog.Start(t)
	whole := dataset.Extent{0, 2, 0, 2, 0, 0}
	in := dataset.NewPartitioned(imageBlock(whole, whole), chain(t, 0))
	out, rep, err := New(comm.Self(), idOptions()).Execute(context.Background(), in, 1)
	require.NoError(t, err)
	require.True(t, rep.OK())
	require.Len(t, rep.Issues, 1)
	require.ErrorIs(t, rep.Issues[0].Err, ErrMixedKinds)
	require.Equal(t, SeverityWarning, rep.Issues[0].Severity)
	parts := out.(*dataset.Partitioned).Partitions
	require.Equal(t, dataset.KindImage, parts[0].Kind())
	require.Equal(t, dataset.KindPolygonal, parts[1].Kind())
}

func TestCollectionGroupsAgreeAcrossRanks(t *testing.T) {
	testlog.Start(t)
	whole := dataset.Extent{0, 4, 0, 2, 0, 0}
	small := dataset.Extent{0, 1, 0, 1, 0, 0}
	outs := make([]*dataset.Collection, 2)
	reps := make([]*Report, 2)
	ranktest.Run(t, 2, func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		var in *dataset.Collection
		if c.Rank() == 0 {
			in = dataset.NewCollection(
				dataset.NewPartitioned(imageBlock(dataset.Extent{0, 2, 0, 2, 0, 0}, whole)),
				dataset.NewPartitioned(imageBlock(small, small)),
			)
		} else {
			in = dataset.NewCollection(
				dataset.NewPartitioned(imageBlock(dataset.Extent{2, 4, 0, 2, 0, 0}, whole)),
			)
		}
		out, rep, err := New(c, idOptions()).Execute(ctx, in, 1)
		if err != nil {
			return err
		}
		outs[c.Rank()], reps[c.Rank()] = out.(*dataset.Collection), rep
		return nil
	})
	require.Len(t, outs[0].Sets, 2)
	require.Len(t, outs[1].Sets, 1)
	require.Equal(t, dataset.Extent{0, 3, 0, 2, 0, 0}, outs[0].Sets[0].Partitions[0].(*dataset.Structured).Extent)
	require.Equal(t, small, outs[0].Sets[1].Partitions[0].(*dataset.Structured).Extent)
	require.Equal(t, dataset.Extent{1, 4, 0, 2, 0, 0}, outs[1].Sets[0].Partitions[0].(*dataset.Structured).Extent)
	for _, rep := range reps {
		require.Equal(t, 2, rep.Groups)
		require.True(t, rep.OK())
	}
}

func TestInjectionKeepsExistingArrays(t *testing.T) {
	testlog.Start(t)
	whole := dataset.Extent{0, 2, 0, 2, 0, 0}
	in := imageBlock(whole, whole)
	ids := dataset.NewConstantArray(dataset.GlobalIDsArrayName, in.NumberOfCells(), 42)
	in.CellData().SetRole(dataset.RoleGlobalIDs, ids)

	out, _, err := New(comm.Self(), idOptions()).Execute(context.Background(), in, 0)
	require.NoError(t, err)
	s := out.(*dataset.Structured)
	for _, v := range s.CellData().GlobalIDs().Data {
		require.Equal(t, 42.0, v)
	}
	require.NotNil(t, s.PointData().GlobalIDs())
	require.NotNil(t, s.CellData().ProcessIDs())
	require.Nil(t, in.CellData().ProcessIDs())
	require.Nil(t, in.PointData().GlobalIDs())
}
