package comm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

// exerciseCollectives runs the same checks on any communicator.
func exerciseCollectives(ctx context.Context, c Communicator) error {
	rank, size := c.Rank(), c.Size()

	gathered, err := AllGather(ctx, c, []int64{int64(rank), int64(rank * rank)})
	if err != nil {
		return err
	}
	for src := 0; src < size; src++ {
		if gathered[2*src] != int64(src) || gathered[2*src+1] != int64(src*src) {
			return errors.New("allgather order broken")
		}
	}

	// rank r sends dst+1 copies of r*10+dst to every dst.
	sendCounts := make([]int, size)
	for dst := range sendCounts {
		sendCounts[dst] = dst + 1
	}
	sendOffsets := Offsets(sendCounts)
	send := make([]float64, Total(sendCounts))
	for dst := 0; dst < size; dst++ {
		for i := 0; i < sendCounts[dst]; i++ {
			send[sendOffsets[dst]+i] = float64(rank*10 + dst)
		}
	}
	recvCounts := make([]int, size)
	for src := range recvCounts {
		recvCounts[src] = rank + 1
	}
	recvOffsets := Offsets(recvCounts)
	recv := make([]float64, Total(recvCounts))
	if err := AllToAllV(ctx, c, send, sendCounts, sendOffsets, recv, recvCounts, recvOffsets); err != nil {
		return err
	}
	for src := 0; src < size; src++ {
		for i := 0; i < recvCounts[src]; i++ {
			if recv[recvOffsets[src]+i] != float64(src*10+rank) {
				return errors.New("alltoallv payload broken")
			}
		}
	}

	all, err := AllReduceAnd(ctx, c, rank != size-1)
	if err != nil {
		return err
	}
	if all {
		return errors.New("logical and should be false when one rank votes false")
	}
	sum, err := AllReduceSum(ctx, c, int64(rank+1))
	if err != nil {
		return err
	}
	if sum != int64(size*(size+1)/2) {
		return errors.New("sum reduce broken")
	}
	return nil
}

func TestLocalGroupCollectives(t *testing.T) {
	testlog.Start(t)
	for _, size := range []int{1, 2, 3, 5} {
		err := RunLocal(context.Background(), size, exerciseCollectives)
		require.NoError(t, err, "size=%d", size)
	}
}

func TestAllGatherRejectsUnevenSizes(t *testing.T) {
	testlog.Start(t)
	err := RunLocal(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		_, err := c.AllGather(ctx, make([]byte, c.Rank()+1))
		return err
	})
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAllToAllVDetectsCountMismatch(t *testing.T) {
	testlog.Start(t)
	err := RunLocal(context.Background(), 2, func(ctx context.Context, c Communicator) error {
		send := []int32{1, 2}
		recv := make([]int32, 4)
		return AllToAllV(ctx, c, send, []int{1, 1}, []int{0, 1}, recv, []int{2, 2}, []int{0, 2})
	})
	require.ErrorIs(t, err, ErrCountMismatch)
}

func TestAllToAllVValidatesLayout(t *testing.T) {
	testlog.Start(t)
	c := Self()
	err := c.AllToAllV(context.Background(), []byte{1}, []int{2}, []int{0}, nil, []int{0}, []int{0})
	require.ErrorIs(t, err, ErrBadLayout)
}

func TestLocalRoundHonorsContext(t *testing.T) {
	testlog.Start(t)
	comms := NewLocalGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := comms[0].AllGather(ctx, []byte{1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultShim(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, 1, Default().Size())

	comms := NewLocalGroup(3)
	SetDefault(comms[2])
	defer SetDefault(nil)
	require.Equal(t, 2, Or(nil).Rank())
	require.Equal(t, 0, Or(comms[0]).Rank())
}

func TestExchangeRoutesRaggedBuffers(t *testing.T) {
	testlog.Start(t)
	const size = 4
	err := RunLocal(context.Background(), size, func(ctx context.Context, c Communicator) error {
		// Rank r sends r+1 copies of 10*r+dst to each dst, nothing to itself.
		perPeer := make([][]int32, size)
		for dst := range perPeer {
			if dst == c.Rank() {
				continue
			}
			for i := 0; i <= c.Rank(); i++ {
				perPeer[dst] = append(perPeer[dst], int32(10*c.Rank()+dst))
			}
		}
		got, err := Exchange(ctx, c, perPeer)
		if err != nil {
			return err
		}
		for src, buf := range got {
			if src == c.Rank() {
				if len(buf) != 0 {
					return errors.New("self buffer not empty")
				}
				continue
			}
			if len(buf) != src+1 {
				return errors.New("wrong count from peer")
			}
			for _, v := range buf {
				if v != int32(10*src+c.Rank()) {
					return errors.New("wrong value from peer")
				}
			}
		}

		all, err := Broadcast(ctx, c, []float64{float64(c.Rank())})
		if err != nil {
			return err
		}
		for src, buf := range all {
			if len(buf) != 1 || buf[0] != float64(src) {
				return errors.New("broadcast mismatch")
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestExchangeRejectsWrongPeerCount(t *testing.T) {
	testlog.Start(t)
	_, err := Exchange(context.Background(), Self(), [][]int64{{1}, {2}})
	require.ErrorIs(t, err, ErrBadLayout)
}
