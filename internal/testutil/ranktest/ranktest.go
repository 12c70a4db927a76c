// Package ranktest runs per-rank test bodies on an in-process group. Each
// rank asserts through its own T: a failed require ends that rank's
// function with an error, which cancels the other ranks, and never calls
// FailNow off the test goroutine.
package ranktest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/stretchr/testify/require"
)

// Timeout bounds one Run.
const Timeout = 10 * time.Second

var ErrRankFailed = errors.New("ranktest: rank assertion failed")

// TB is what rank-aware helpers need; both *testing.T and *T satisfy it.
type TB interface {
	require.TestingT
	Helper()
}

// T reports assertion failures of one rank to the owning test.
type T struct {
	t    *testing.T
	rank int
}

type failNow struct{}

func (r *T) Errorf(format string, args ...any) {
	r.t.Helper()
	r.t.Errorf("rank %d: %s", r.rank, fmt.Sprintf(format, args...))
}

// FailNow unwinds the rank's function; Run recovers it.
func (r *T) FailNow() {
	panic(failNow{})
}

func (r *T) Helper() {
	r.t.Helper()
}

func (r *T) Rank() int {
	return r.rank
}

// Run drives fn on every rank of a fresh group of size and fails t if any
// rank returns an error or fails an assertion.
func Run(t *testing.T, size int, fn func(ctx context.Context, c comm.Communicator, t *T) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	err := comm.RunLocal(ctx, size, func(ctx context.Context, c comm.Communicator) error {
		rt := &T{t: t, rank: c.Rank()}
		return call(rt, func() error { return fn(ctx, c, rt) })
	})
	require.NoError(t, err)
}

// call runs fn for rt's rank and turns a FailNow into ErrRankFailed.
func call(rt *T, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(failNow); !ok {
				panic(r)
			}
			err = fmt.Errorf("rank %d: %w", rt.rank, ErrRankFailed)
		}
	}()
	return fn()
}
