package ghost

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
	"github.com/danmuck/treegrid/internal/logging"
	"github.com/danmuck/treegrid/internal/observability"
	"github.com/rs/zerolog"
)

// Result is what a kind generator hands back: one output per input, in
// input order, and the number of ghosts no block could supply.
type Result struct {
	Outputs []dataset.DataSet
	Missing int
}

// KindGenerator builds ghosts for the leaves of one kind. It is collective:
// every rank calls it once per group, possibly with no inputs. Inputs are
// never modified.
type KindGenerator interface {
	GenerateGhosts(ctx context.Context, c comm.Communicator, inputs []dataset.DataSet, layers int) (Result, error)
}

// Table routes each supported kind to its generator. Hyper tree grids and
// explicit structured grids have no entry and are passed through.
var Table = map[dataset.Kind]KindGenerator{
	dataset.KindImage:        extentGenerator{},
	dataset.KindRectilinear:  extentGenerator{},
	dataset.KindStructured:   extentGenerator{},
	dataset.KindUnstructured: pointSetGenerator{},
	dataset.KindPolygonal:    pointSetGenerator{},
}

// tableKinds returns the supported kinds in a fixed order so every rank
// runs the generators in the same sequence.
func tableKinds() []dataset.Kind {
	return slices.Sorted(maps.Keys(Table))
}

// Generator is the ghost front-end bound to one communicator. Passes on
// one Generator must not overlap; LastReport may be called at any time.
type Generator struct {
	comm  comm.Communicator
	opts  Options
	log   zerolog.Logger
	cache meshCache

	mu   sync.Mutex
	last *Report
}

// New binds a generator to c. A nil c falls back to comm.Default.
func New(c comm.Communicator, opts Options) *Generator {
	c = comm.Or(c)
	return &Generator{
		comm: c,
		opts: opts,
		log:  logging.For(filterName).With().Int("rank", c.Rank()).Logger(),
	}
}

func (g *Generator) Options() Options { return g.opts }

// LastReport returns the report of the most recent pass, or nil.
func (g *Generator) LastReport() *Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Execute injects the configured id arrays into a shallow copy of in, then
// restores the static mesh cache when every rank can, or runs a full pass
// otherwise. The input is never modified.
func (g *Generator) Execute(ctx context.Context, in dataset.Object, requestedLayers int) (dataset.Object, *Report, error) {
	start := time.Now()
	rep, err := g.newReport(ctx, g.opts.Layers(requestedLayers))
	if err != nil {
		return nil, nil, err
	}

	work := shallow(in)
	leaves := dataset.Leaves(work)
	if g.opts.GenerateProcessIDs {
		injectProcessIDs(leaves, g.comm.Rank())
	}
	if g.opts.GenerateGlobalIDs {
		if err := injectGlobalIDs(ctx, g.comm, leaves); err != nil {
			return nil, nil, fmt.Errorf("global ids: %w", err)
		}
	}

	if g.opts.UseStaticMeshCache {
		out, hit, err := g.cache.restore(ctx, g.comm, work)
		if err != nil {
			return nil, nil, err
		}
		if hit {
			missing, err := SynchronizeGhostData(ctx, g.comm, dataset.Leaves(out))
			if err != nil {
				return nil, nil, err
			}
			rep.Mode, rep.Missing, rep.Groups = ModeCache, missing, groupCount(out)
			observability.RecordGhostPass("point_set", string(ModeCache))
			g.finish(rep, start)
			return out, rep, nil
		}
	}

	out, err := g.generate(ctx, work, rep.Layers, g.opts.SynchronizeOnly, rep)
	if err != nil {
		return nil, nil, err
	}
	if g.opts.UseStaticMeshCache {
		g.cache.update(work, out)
	}
	g.finish(rep, start)
	return out, rep, nil
}

// GenerateGhostCells runs one pass over in with exactly layers ghost
// layers and no id injection or caching. With syncOnly set, groups whose
// leaves can be synchronized on every rank are only refreshed.
func (g *Generator) GenerateGhostCells(ctx context.Context, in dataset.Object, layers int, syncOnly bool) (dataset.Object, *Report, error) {
	start := time.Now()
	rep, err := g.newReport(ctx, layers)
	if err != nil {
		return nil, nil, err
	}
	out, err := g.generate(ctx, in, layers, syncOnly, rep)
	if err != nil {
		return nil, nil, err
	}
	g.finish(rep, start)
	return out, rep, nil
}

func (g *Generator) newReport(ctx context.Context, layers int) (*Report, error) {
	passID, err := comm.AgreeRunID(ctx, g.comm)
	if err != nil {
		return nil, err
	}
	return &Report{PassID: passID, Rank: g.comm.Rank(), Layers: layers}, nil
}

func (g *Generator) finish(rep *Report, start time.Time) {
	rep.Elapsed = time.Since(start)
	g.mu.Lock()
	g.last = rep
	g.mu.Unlock()
	observability.RecordPhase(filterName, string(rep.Mode), rep.Elapsed)
	ev := g.log.Info()
	if !rep.OK() {
		ev = g.log.Warn()
	}
	ev.Str("pass", rep.PassID).
		Str("mode", string(rep.Mode)).
		Int("layers", rep.Layers).
		Int("groups", rep.Groups).
		Int("issues", len(rep.Issues)).
		Int("missing", rep.Missing).
		Dur("elapsed", rep.Elapsed).
		Msg("ghost.Generator pass done")
}

// generate walks in group by group. A collection contributes one group
// per top-level set; anything else is a single group. Ranks agree on the
// group count so a rank holding fewer sets still joins every exchange.
func (g *Generator) generate(ctx context.Context, in dataset.Object, layers int, syncOnly bool, rep *Report) (dataset.Object, error) {
	groups := splitGroups(in)
	agreed, err := g.comm.AllReduce(ctx, []int64{int64(len(groups))}, comm.OpMax)
	if err != nil {
		return nil, err
	}
	total := int(agreed[0])
	rep.Groups = total

	outs := make([]dataset.Object, len(groups))
	synced := 0
	for gi := 0; gi < total; gi++ {
		var group dataset.Object
		if gi < len(groups) {
			group = groups[gi]
		}
		out, mode, err := g.processGroup(ctx, gi, group, layers, syncOnly, rep)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", gi, err)
		}
		if gi < len(groups) {
			outs[gi] = out
		}
		if mode == ModeSync {
			synced++
		}
	}
	rep.Mode = ModeGenerate
	if total > 0 && synced == total {
		rep.Mode = ModeSync
	}
	return joinGroups(in, outs), nil
}

func (g *Generator) processGroup(ctx context.Context, gi int, group dataset.Object, layers int, syncOnly bool, rep *Report) (dataset.Object, Mode, error) {
	leaves := dataset.Leaves(group)
	outs := make([]dataset.Object, len(leaves))
	byKind := map[dataset.Kind][]int{}
	var supported []dataset.DataSet
	var supportedIdx []int
	for i, ds := range leaves {
		kind := ds.Kind()
		if _, ok := Table[kind]; !ok {
			err := fmt.Errorf("%w: %s passed through unchanged", ErrUnsupportedKind, kind)
			rep.add(gi, i, kind.String(), SeverityError, err)
			g.log.Error().Err(err).Int("group", gi).Int("leaf", i).Msg("ghost.Generator.processGroup")
			observability.RecordIssue(filterName, "unsupported_kind")
			outs[i] = ds.ShallowCopy()
			continue
		}
		byKind[kind] = append(byKind[kind], i)
		supported = append(supported, ds)
		supportedIdx = append(supportedIdx, i)
	}
	if len(byKind) > 1 {
		kinds := slices.Sorted(maps.Keys(byKind))
		err := fmt.Errorf("%w: %v", ErrMixedKinds, kinds)
		rep.add(gi, -1, "", SeverityWarning, err)
		g.log.Warn().Err(err).Int("group", gi).Msg("ghost.Generator.processGroup")
		observability.RecordIssue(filterName, "mixed_kinds")
	}

	canSync := false
	if syncOnly {
		canSync, _, _ = canSynchronizeLeaves(supported)
	}
	allSync, err := comm.AllReduceAnd(ctx, g.comm, canSync)
	if err != nil {
		return nil, "", err
	}
	if allSync {
		work := make([]dataset.DataSet, len(supported))
		for j, ds := range supported {
			work[j] = detach(ds)
		}
		missing, err := SynchronizeGhostData(ctx, g.comm, work)
		if err != nil {
			return nil, "", err
		}
		rep.Missing += missing
		for j, i := range supportedIdx {
			outs[i] = work[j]
		}
		for kind := range byKind {
			observability.RecordGhostPass(kind.String(), string(ModeSync))
		}
		return rebuild(group, outs), ModeSync, nil
	}

	for _, kind := range tableKinds() {
		idx := byKind[kind]
		inputs := make([]dataset.DataSet, len(idx))
		for j, i := range idx {
			inputs[j] = leaves[i]
		}
		res, err := Table[kind].GenerateGhosts(ctx, g.comm, inputs, layers)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", kind, err)
		}
		for j, i := range idx {
			outs[i] = res.Outputs[j]
		}
		rep.Missing += res.Missing
		if len(idx) > 0 {
			observability.RecordGhostPass(kind.String(), string(ModeGenerate))
		}
	}
	return rebuild(group, outs), ModeGenerate, nil
}

func canSynchronizeLeaves(leaves []dataset.DataSet) (ok, cell, point bool) {
	cell, point = true, true
	for _, ds := range leaves {
		cell = cell && syncable(ds.CellData())
		point = point && syncable(ds.PointData())
	}
	return cell && point, cell, point
}

func splitGroups(in dataset.Object) []dataset.Object {
	switch v := in.(type) {
	case nil:
		return nil
	case *dataset.Collection:
		out := make([]dataset.Object, len(v.Sets))
		for i, set := range v.Sets {
			out[i] = set
		}
		return out
	default:
		return []dataset.Object{in}
	}
}

func joinGroups(in dataset.Object, outs []dataset.Object) dataset.Object {
	switch in.(type) {
	case nil:
		return nil
	case *dataset.Collection:
		out := &dataset.Collection{Sets: make([]*dataset.Partitioned, len(outs))}
		for i, o := range outs {
			out.Sets[i], _ = o.(*dataset.Partitioned)
		}
		return out
	default:
		return outs[0]
	}
}

func groupCount(obj dataset.Object) int {
	if c, ok := obj.(*dataset.Collection); ok {
		return len(c.Sets)
	}
	if obj == nil {
		return 0
	}
	return 1
}

// rebuild puts outs back into the layout of group, in leaf order.
func rebuild(group dataset.Object, outs []dataset.Object) dataset.Object {
	next := 0
	return dataset.Rebuild(group, func(dataset.DataSet) dataset.Object {
		out := outs[next]
		next++
		return out
	})
}

func shallow(in dataset.Object) dataset.Object {
	if in == nil {
		return nil
	}
	return in.ShallowCopy()
}

// transferable returns the arrays of attrs that travel with a ghost:
// everything except the ghost array.
func transferable(attrs *dataset.Attributes) []*dataset.Array {
	ghosts := attrs.Ghosts()
	out := make([]*dataset.Array, 0, attrs.Len())
	for _, arr := range attrs.Arrays() {
		if arr != ghosts {
			out = append(out, arr)
		}
	}
	return out
}

// ensureGhostArray returns the ghost array of attrs, adding a zeroed one
// of n tuples when there is none.
func ensureGhostArray(attrs *dataset.Attributes, n int) *dataset.Array {
	if ghosts := attrs.Ghosts(); ghosts != nil {
		return ghosts
	}
	ghosts := dataset.NewArray(dataset.GhostArrayName, 1, n)
	attrs.SetRole(dataset.RoleGhost, ghosts)
	return ghosts
}
