package redistribute

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/htg"
	"github.com/danmuck/treegrid/internal/testutil/ranktest"
	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPairSubGroupPairsInRankOrder(t *testing.T) {
	testlog.Start(t)
	// Ranks 0, 1 and 3 hold data; the sub-group is {1, 2, 4}.
	points := []int64{10, 5, 0, 7, 0}
	got := make([]Pairing, len(points))
	ranktest.Run(t, len(points), func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		p, err := PairSubGroup(ctx, c, []int{1, 2, 4}, points[c.Rank()])
		got[c.Rank()] = p
		return err
	})
	for rank := range points {
		require.Equal(t, Pairing{0: 2, 3: 4}, got[rank])
	}
	require.Equal(t, 2, got[0].Target(0))
	require.Equal(t, 1, got[0].Target(1))
}

func TestPairSubGroupRejectsImbalance(t *testing.T) {
	testlog.Start(t)
	// Two ranks outside the sub-group hold data but only one target is empty.
	points := []int64{1, 1, 0, 1}
	ranktest.Run(t, len(points), func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		_, err := PairSubGroup(ctx, c, []int{2, 3}, points[c.Rank()])
		require.ErrorIs(t, err, ErrSubGroupImbalance)
		return nil
	})
}

func TestPairSubGroupRejectsBadRanks(t *testing.T) {
	testlog.Start(t)
	c := comm.Self()
	_, err := PairSubGroup(context.Background(), c, []int{1}, 3)
	require.ErrorIs(t, err, ErrSubGroupRank)
	_, err = PairSubGroup(context.Background(), c, []int{0, 0}, 3)
	require.ErrorIs(t, err, ErrSubGroupRank)
}

func TestMoveToSubGroupCollapsesForest(t *testing.T) {
	testlog.Start(t)
	// Ranks 2 and 3 hold the forest; the empty sub-group {0, 1} takes it.
	holders := [][]int{nil, nil, {0, 2, 4, 6}, {1, 3, 5, 7}}
	outs := make([]*htg.Grid, len(holders))
	ranktest.Run(t, len(holders), func(ctx context.Context, c comm.Communicator, t *ranktest.T) error {
		in := buildGrid(t, cube, 3, holders[c.Rank()], nil)
		out, pairing, err := MoveToSubGroup(ctx, c, in, []int{0, 1})
		if err != nil {
			return err
		}
		require.Equal(t, Pairing{2: 0, 3: 1}, pairing)
		outs[c.Rank()] = out
		return nil
	})
	require.Equal(t, holders[2], outs[0].TreeIDs())
	require.Equal(t, holders[3], outs[1].TreeIDs())
	require.Zero(t, outs[2].NumberOfTrees())
	require.Zero(t, outs[3].NumberOfTrees())

	reference := buildGrid(t, cube, 3, roundRobin(8, 0, 1), nil)
	for _, out := range outs[:2] {
		for _, id := range out.TreeIDs() {
			require.Equal(t, visits(reference, id), visits(out, id))
		}
	}
}

func TestRedistributeOverTCPMesh(t *testing.T) {
	testlog.Start(t)
	const size = 3
	lns := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[i], addrs[i] = ln, ln.Addr().String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reference := buildGrid(t, cube, 3, roundRobin(8, 0, 1), masked3)
	ins := make([]*htg.Grid, size)
	for rank := range ins {
		ins[rank] = buildGrid(t, cube, 3, roundRobin(8, rank, size), masked3)
	}
	outs := make([]*htg.Grid, size)
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		g.Go(func() error {
			cfg := comm.DefaultTCPConfig(rank, addrs)
			cfg.Token = "forest"
			mesh, err := comm.DialMesh(gctx, cfg, lns[rank])
			if err != nil {
				return err
			}
			defer mesh.Close()
			out, _, err := New(mesh, nil).RedistributeGrid(gctx, ins[rank])
			outs[rank] = out
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, out := range outs {
		for _, id := range out.TreeIDs() {
			require.Equal(t, visits(reference, id), visits(out, id), "tree %d", id)
		}
	}
}

func masked3(id, local int) bool {
	return local > 0 && (local*7+id)%5 == 0
}
