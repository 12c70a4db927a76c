package redistribute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
	"github.com/danmuck/treegrid/internal/htg"
	"github.com/danmuck/treegrid/internal/logging"
	"github.com/danmuck/treegrid/internal/observability"
	"github.com/danmuck/treegrid/internal/partition"
	"github.com/rs/zerolog"
)

var (
	ErrExchangeMismatch = errors.New("redistribute: exchanged sizes disagree with received structure")
	ErrLayoutMismatch   = errors.New("redistribute: ranks disagree on grid layout")
)

// Redistributor rebalances hyper tree grids across the ranks of a
// communicator.
type Redistributor struct {
	comm   comm.Communicator
	policy partition.Policy
	log    zerolog.Logger

	mu   sync.Mutex
	last *Report
}

// New binds a redistributor to c and policy. A nil c falls back to
// comm.Default and a nil policy to partition.CeilSplit.
func New(c comm.Communicator, policy partition.Policy) *Redistributor {
	if policy == nil {
		policy = partition.CeilSplit{}
	}
	c = comm.Or(c)
	return &Redistributor{
		comm:   c,
		policy: policy,
		log:    logging.For(filterName).With().Int("rank", c.Rank()).Logger(),
	}
}

// LastReport returns the report of the most recent run, or nil.
func (r *Redistributor) LastReport() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Redistributor) setLast(rep *Report) {
	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()
}

// Execute redistributes in, which is either a grid or a partitioned dataset
// holding one. For a partitioned input the output keeps the partition count
// and carries the new grid at the index of the input grid.
func (r *Redistributor) Execute(ctx context.Context, in dataset.Object) (dataset.Object, error) {
	grid, index := r.resolveInput(in)
	out, rep, err := r.RedistributeGrid(ctx, grid)
	if err != nil {
		return nil, err
	}
	parts, ok := in.(*dataset.Partitioned)
	if !ok {
		if out == nil {
			return shallow(in), nil
		}
		return out, nil
	}
	if index < 0 || rep.Degraded {
		return parts.ShallowCopy(), nil
	}
	result := &dataset.Partitioned{Partitions: make([]dataset.Object, len(parts.Partitions))}
	result.Partitions[index] = out
	return result, nil
}

// resolveInput returns the grid to redistribute and, for a partitioned
// input, its partition index. The last grid partition wins.
func (r *Redistributor) resolveInput(in dataset.Object) (*htg.Grid, int) {
	switch v := in.(type) {
	case *htg.Grid:
		return v, -1
	case *dataset.Partitioned:
		var grid *htg.Grid
		index, found := -1, 0
		for i, part := range v.Partitions {
			if g, ok := part.(*htg.Grid); ok {
				grid, index = g, i
				found++
			}
		}
		if found > 1 {
			r.log.Warn().Int("grids", found).Int("using", index).Msg("redistribute.Redistributor.Execute multiple grids in partitioned input")
			observability.RecordIssue(filterName, "multiple_grids")
		}
		return grid, index
	default:
		return nil, -1
	}
}

func shallow(in dataset.Object) dataset.Object {
	if in == nil {
		return nil
	}
	return in.ShallowCopy()
}

// RedistributeGrid is the collective core of Execute. in may be nil on a
// rank that holds no grid, in which case every rank degrades. The trees of
// in must carry global index ranges that match its cell table.
func (r *Redistributor) RedistributeGrid(ctx context.Context, in *htg.Grid) (*htg.Grid, *Report, error) {
	rep := &Report{Rank: r.comm.Rank(), Size: r.comm.Size()}
	runID, err := comm.AgreeRunID(ctx, r.comm)
	if err != nil {
		return nil, nil, err
	}
	rep.RunID = runID
	log := r.log.With().Str("run", runID).Logger()

	start := time.Now()
	reason := localValidity(in)
	valid, err := comm.AllReduceAnd(ctx, r.comm, reason == "")
	if err != nil {
		return nil, nil, err
	}
	rep.phase(PhaseValidate, start)
	if !valid {
		rep.Degraded = true
		rep.Reason = reason
		if rep.Reason == "" {
			rep.Reason = "another rank holds invalid input"
		}
		log.Warn().Str("reason", rep.Reason).Msg("redistribute.Redistributor.RedistributeGrid degraded to shallow copy")
		observability.RecordIssue(filterName, "invalid_input")
		r.setLast(rep)
		if in == nil {
			return nil, rep, nil
		}
		return in.ShallowCopy().(*htg.Grid), rep, nil
	}

	shape, err := agreeLayout(ctx, r.comm, in)
	if err != nil {
		return nil, nil, err
	}

	p := &plan{
		in:      in,
		out:     in.CopyEmptyStructure(),
		rank:    r.comm.Rank(),
		n:       r.comm.Size(),
		anyMask: shape.anyMask,
		rep:     rep,
	}
	if err := r.run(ctx, p); err != nil {
		log.Error().Err(err).Msg("redistribute.Redistributor.RedistributeGrid failed")
		return nil, nil, err
	}
	rep.CellsOut = p.out.NumberOfUnmaskedCells()
	rep.publish()
	r.setLast(rep)
	log.Info().
		Int("kept", rep.TreesKept).
		Int("sent", rep.TreesSent).
		Int("received", rep.TreesReceived).
		Int("cells", rep.CellsOut).
		Dur("elapsed", rep.Total()).
		Msg("redistribute.Redistributor.RedistributeGrid done")
	return p.out, rep, nil
}

func (r *Redistributor) run(ctx context.Context, p *plan) error {
	start := time.Now()
	local := p.in.TreeIDs()
	p.rep.phase(PhaseCollect, start)

	start = time.Now()
	targets, err := r.policy.Assign(p.in.MaxTrees(), p.n)
	if err != nil {
		return err
	}
	if err := partition.Validate(targets, p.in.MaxTrees(), p.n); err != nil {
		return err
	}
	p.toSend = partition.TreesToSend(local, targets, p.rank, p.n)
	p.kept = partition.Retained(local, targets, p.rank)
	p.rep.TreesKept = len(p.kept)
	p.rep.TreesSent = len(local) - len(p.kept)
	p.rep.phase(PhaseAssign, start)

	start = time.Now()
	if err := r.exchangeMetadata(ctx, p); err != nil {
		return err
	}
	p.rep.phase(PhaseMetadata, start)

	start = time.Now()
	if err := r.exchangeDescriptors(ctx, p); err != nil {
		return err
	}
	p.rep.phase(PhaseDescriptors, start)

	if p.anyMask {
		start = time.Now()
		if err := r.exchangeMask(ctx, p); err != nil {
			return err
		}
		p.rep.phase(PhaseMask, start)
	}

	start = time.Now()
	if err := r.exchangeCells(ctx, p); err != nil {
		return err
	}
	p.rep.phase(PhaseCells, start)
	return nil
}

// localValidity returns why in cannot be redistributed, or "" when it can.
func localValidity(in *htg.Grid) string {
	switch {
	case in == nil:
		return "no hyper tree grid input"
	case !in.Extent.Valid():
		return fmt.Sprintf("malformed extent %v", in.Extent)
	case in.MaxTrees() < 1:
		return "grid has no tree slots"
	}
	vertices := in.NumberOfVertices()
	for _, arr := range in.CellData().Arrays() {
		if arr.Tuples() < vertices {
			return fmt.Sprintf("cell array %q has %d tuples for %d cells", arr.Name, arr.Tuples(), vertices)
		}
	}
	return ""
}

type layout struct {
	anyMask bool
}

// agreeLayout checks that every rank describes the same grid shape and
// cell arrays, and learns whether any rank carries a mask.
func agreeLayout(ctx context.Context, c comm.Communicator, in *htg.Grid) (layout, error) {
	arrays := in.CellData().Arrays()
	mine := []int64{
		boolInt(in.HasMask()),
		int64(in.MaxTrees()),
		int64(in.NumberOfChildren()),
		int64(len(arrays)),
		int64(dataset.Components(arrays)),
	}
	all, err := comm.AllGather(ctx, c, mine)
	if err != nil {
		return layout{}, err
	}
	var out layout
	width := len(mine)
	for rank := 0; rank < c.Size(); rank++ {
		row := all[rank*width : (rank+1)*width]
		out.anyMask = out.anyMask || row[0] != 0
		for i := 1; i < width; i++ {
			if row[i] != all[i] {
				return layout{}, fmt.Errorf("%w: rank %d field %d is %d, rank 0 has %d", ErrLayoutMismatch, rank, i, row[i], all[i])
			}
		}
	}
	return out, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
