// Package partition maps global tree slots to owning partitions.
package partition

import (
	"errors"
	"fmt"
)

var (
	ErrNoPartitions = errors.New("partition: partition count must be positive")
	ErrTargetRange  = errors.New("partition: target outside partition range")
	ErrTargetCount  = errors.New("partition: target map length does not match tree count")
)

// Policy assigns every tree slot in [0, maxTrees) to a partition in
// [0, numPartitions).
type Policy interface {
	Assign(maxTrees, numPartitions int) ([]int, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(maxTrees, numPartitions int) ([]int, error)

func (f PolicyFunc) Assign(maxTrees, numPartitions int) ([]int, error) {
	return f(maxTrees, numPartitions)
}

// CeilSplit gives partition p the contiguous slots
// [ceil(p*maxTrees/n), ceil((p+1)*maxTrees/n) - 1]. It ignores tree cost.
type CeilSplit struct{}

func (CeilSplit) Assign(maxTrees, numPartitions int) ([]int, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoPartitions, numPartitions)
	}
	targets := make([]int, max(maxTrees, 0))
	for p := 0; p < numPartitions; p++ {
		first, last := Range(p, maxTrees, numPartitions)
		for id := first; id <= last; id++ {
			targets[id] = p
		}
	}
	return targets, nil
}

// Range returns the inclusive slot range of partition p under CeilSplit.
// The range is empty when last < first.
func Range(p, maxTrees, numPartitions int) (first, last int) {
	return ceilDiv(p*maxTrees, numPartitions), ceilDiv((p+1)*maxTrees, numPartitions) - 1
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Validate checks a target map produced by a policy.
func Validate(targets []int, maxTrees, numPartitions int) error {
	if len(targets) != maxTrees {
		return fmt.Errorf("%w: got %d want %d", ErrTargetCount, len(targets), maxTrees)
	}
	for id, p := range targets {
		if p < 0 || p >= numPartitions {
			return fmt.Errorf("%w: tree %d -> %d of %d", ErrTargetRange, id, p, numPartitions)
		}
	}
	return nil
}

// TreesToSend groups the local trees whose target is not self by
// destination partition. Each group keeps the order of localTrees.
func TreesToSend(localTrees, targets []int, self, numPartitions int) [][]int {
	out := make([][]int, numPartitions)
	for _, id := range localTrees {
		if p := targets[id]; p != self {
			out[p] = append(out[p], id)
		}
	}
	return out
}

// Retained returns the local trees whose target is self.
func Retained(localTrees, targets []int, self int) []int {
	var out []int
	for _, id := range localTrees {
		if targets[id] == self {
			out = append(out, id)
		}
	}
	return out
}

// Sizes counts the slots assigned to each partition.
func Sizes(targets []int, numPartitions int) []int {
	out := make([]int, numPartitions)
	for _, p := range targets {
		out[p]++
	}
	return out
}
