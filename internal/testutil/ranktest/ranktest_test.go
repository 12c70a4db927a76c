package ranktest

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestFailedRankCancelsPeers(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	peerErr := make(chan error, 1)
	err := comm.RunLocal(ctx, 2, func(ctx context.Context, c comm.Communicator) error {
		if c.Rank() == 1 {
			// Blocks until rank 0 gives up.
			_, err := comm.AllReduceAnd(ctx, c, true)
			peerErr <- err
			return err
		}
		rt := &T{rank: c.Rank()}
		return call(rt, func() error {
			rt.FailNow()
			return nil
		})
	})
	require.ErrorIs(t, err, ErrRankFailed)
	require.ErrorIs(t, <-peerErr, context.Canceled)
	require.NoError(t, ctx.Err())
}

func TestCallPassesOtherPanicsThrough(t *testing.T) {
	testlog.Start(t)
	require.PanicsWithValue(t, "boom", func() {
		_ = call(&T{}, func() error { panic("boom") })
	})
	err := errors.New("rank error")
	require.Same(t, err, call(&T{}, func() error { return err }))
}
