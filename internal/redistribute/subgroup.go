package redistribute

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/htg"
	"github.com/danmuck/treegrid/internal/partition"
)

var (
	ErrSubGroupImbalance = errors.New("redistribute: data-holding ranks outside the sub-group do not match empty sub-group ranks")
	ErrSubGroupRank      = errors.New("redistribute: sub-group rank invalid")
)

// Pairing maps a source rank outside the sub-group to the empty sub-group
// rank that takes over its data.
type Pairing map[int]int

// Target returns where rank's data ends up.
func (p Pairing) Target(rank int) int {
	if dst, ok := p[rank]; ok {
		return dst
	}
	return rank
}

// PairSubGroup gathers every rank's point count and pairs each rank that
// holds data but sits outside subGroup with a sub-group rank that holds
// none, in rank order. The two lists must have equal length.
func PairSubGroup(ctx context.Context, c comm.Communicator, subGroup []int, localPoints int64) (Pairing, error) {
	seen := make(map[int]bool, len(subGroup))
	for _, rank := range subGroup {
		if rank < 0 || rank >= c.Size() || seen[rank] {
			return nil, fmt.Errorf("%w: %d in %v", ErrSubGroupRank, rank, subGroup)
		}
		seen[rank] = true
	}
	counts, err := comm.AllGather(ctx, c, []int64{localPoints})
	if err != nil {
		return nil, err
	}

	var preFilled, moveReady, unFilled []int
	for rank, n := range counts {
		if n == 0 {
			continue
		}
		if seen[rank] {
			preFilled = append(preFilled, rank)
		} else {
			moveReady = append(moveReady, rank)
		}
	}
	for _, rank := range subGroup {
		if !slices.Contains(preFilled, rank) {
			unFilled = append(unFilled, rank)
		}
	}
	if len(moveReady) != len(unFilled) {
		return nil, fmt.Errorf("%w: %d ranks to move %v, %d empty targets %v",
			ErrSubGroupImbalance, len(moveReady), moveReady, len(unFilled), unFilled)
	}
	out := make(Pairing, len(moveReady))
	for i, src := range moveReady {
		out[src] = unFilled[i]
	}
	return out, nil
}

// MoveToSubGroup collapses the forest onto subGroup. Ranks outside the
// sub-group ship every tree to their paired rank; sub-group ranks keep what
// they hold. The tree count stands in for the point count when pairing.
func MoveToSubGroup(ctx context.Context, c comm.Communicator, in *htg.Grid, subGroup []int) (*htg.Grid, Pairing, error) {
	c = comm.Or(c)
	held := int64(0)
	if in != nil {
		held = int64(in.NumberOfTrees())
	}
	pairing, err := PairSubGroup(ctx, c, subGroup, held)
	if err != nil {
		return nil, nil, err
	}

	owners, err := slotOwners(ctx, c, in)
	if err != nil {
		return nil, nil, err
	}
	policy := partition.PolicyFunc(func(maxTrees, n int) ([]int, error) {
		targets := make([]int, maxTrees)
		for id := range targets {
			if id < len(owners) && owners[id] >= 0 {
				targets[id] = pairing.Target(owners[id])
			}
		}
		return targets, nil
	})
	out, _, err := New(c, policy).RedistributeGrid(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return out, pairing, nil
}

// slotOwners returns the rank holding each tree slot, or -1 for empty
// slots. Ranks without a grid contribute nothing.
func slotOwners(ctx context.Context, c comm.Communicator, in *htg.Grid) ([]int, error) {
	var slots int64
	if in != nil {
		slots = int64(in.MaxTrees())
	}
	widest, err := c.AllReduce(ctx, []int64{slots}, comm.OpMax)
	if err != nil {
		return nil, err
	}
	held := make([]int64, widest[0])
	if in != nil {
		for _, id := range in.TreeIDs() {
			held[id] = int64(c.Rank() + 1)
		}
	}
	merged, err := c.AllReduce(ctx, held, comm.OpMax)
	if err != nil {
		return nil, err
	}
	owners := make([]int, len(merged))
	for i, v := range merged {
		owners[i] = int(v) - 1
	}
	return owners, nil
}
