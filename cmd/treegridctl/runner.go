package main

import (
	"context"
	"fmt"
	"net"

	"github.com/danmuck/treegrid/internal/admin"
	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/config"
	"github.com/danmuck/treegrid/internal/ghost"
	"github.com/danmuck/treegrid/internal/htg"
	"github.com/danmuck/treegrid/internal/logging"
	"github.com/danmuck/treegrid/internal/redistribute"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// rankRunner drives one rank through a redistribution and an optional
// ghost pass.
type rankRunner struct {
	cfg    config.Config
	comm   comm.Communicator
	redist *redistribute.Redistributor
	ghosts *ghost.Generator
	log    zerolog.Logger
}

func newRankRunner(cfg config.Config, c comm.Communicator) (*rankRunner, error) {
	policy, err := cfg.Redistribute.PartitionPolicy()
	if err != nil {
		return nil, err
	}
	c = comm.Or(c)
	r := &rankRunner{
		cfg:    cfg,
		comm:   c,
		redist: redistribute.New(c, policy),
		log:    logging.For("treegridctl").With().Int("rank", c.Rank()).Logger(),
	}
	if cfg.Ghost.Enabled {
		r.ghosts = ghost.New(c, cfg.Ghost.Options())
	}
	return r, nil
}

func (r *rankRunner) adminRank() admin.Rank {
	rank := admin.Rank{ID: r.comm.Rank(), Redistribute: r.redist}
	if r.ghosts != nil {
		rank.Ghost = r.ghosts
	}
	return rank
}

func (r *rankRunner) run(ctx context.Context) error {
	grid, err := buildForest(r.cfg, r.comm.Rank(), r.comm.Size())
	if err != nil {
		return fmt.Errorf("build forest: %w", err)
	}
	r.log.Info().
		Ints("trees", grid.TreeIDs()).
		Int("cells", grid.NumberOfUnmaskedCells()).
		Msg("treegridctl.rankRunner.run forest ready")

	out, err := r.redist.Execute(ctx, grid)
	if err != nil {
		return fmt.Errorf("redistribute: %w", err)
	}
	rep := r.redist.LastReport()
	event := r.log.Info()
	if rep.Degraded {
		event = r.log.Warn().Str("reason", rep.Reason)
	}
	event.
		Str("run_id", rep.RunID).
		Int("kept", rep.TreesKept).
		Int("sent", rep.TreesSent).
		Int("received", rep.TreesReceived).
		Int("descriptor_bytes", rep.DescriptorBytes).
		Int("mask_bytes", rep.MaskBytes).
		Int("cell_bytes", rep.CellBytes).
		Dur("total", rep.Total()).
		Msg("treegridctl.rankRunner.run redistributed")
	if g, ok := out.(*htg.Grid); ok {
		r.log.Debug().Ints("trees", g.TreeIDs()).Int("cells", g.NumberOfUnmaskedCells()).Msg("treegridctl.rankRunner.run local forest")
	}

	if r.ghosts == nil {
		return nil
	}
	_, pass, err := r.ghosts.Execute(ctx, buildSlab(r.comm.Rank(), r.comm.Size()), r.cfg.Ghost.Layers)
	if err != nil {
		return fmt.Errorf("ghost pass: %w", err)
	}
	r.log.Info().
		Str("pass_id", pass.PassID).
		Str("mode", string(pass.Mode)).
		Int("layers", pass.Layers).
		Int("missing", pass.Missing).
		Bool("ok", pass.OK()).
		Msg("treegridctl.rankRunner.run ghost pass done")
	return nil
}

// runLocal runs size ranks in this process over an in-memory group.
func runLocal(ctx context.Context, cfg config.Config, size int, serve bool) error {
	comms := comm.NewLocalGroup(size)
	runners := make([]*rankRunner, size)
	ranks := make([]admin.Rank, size)
	for i, c := range comms {
		r, err := newRankRunner(cfg, c)
		if err != nil {
			return err
		}
		runners[i] = r
		ranks[i] = r.adminRank()
	}
	return runWithAdmin(ctx, cfg, ranks, serve, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, r := range runners {
			g.Go(func() error { return r.run(gctx) })
		}
		return g.Wait()
	})
}

// runMesh joins the TCP mesh described by cfg as one rank. The mesh becomes
// the process default communicator.
func runMesh(ctx context.Context, cfg config.Config, serve bool) error {
	ln, err := net.Listen("tcp", cfg.Cluster.ListenAddr())
	if err != nil {
		return err
	}
	mesh, err := comm.DialMesh(ctx, cfg.Cluster.TCPConfig(), ln)
	if err != nil {
		return err
	}
	defer mesh.Close()
	comm.SetDefault(mesh)
	defer comm.SetDefault(nil)

	r, err := newRankRunner(cfg, nil)
	if err != nil {
		return err
	}
	return runWithAdmin(ctx, cfg, []admin.Rank{r.adminRank()}, serve, r.run)
}

// runWithAdmin runs work next to the admin server, if one is configured.
// With serve set the server outlives work until ctx is done.
func runWithAdmin(ctx context.Context, cfg config.Config, ranks []admin.Rank, serve bool, work func(context.Context) error) error {
	if cfg.Admin.Listen == "" {
		return work(ctx)
	}
	srv := admin.New("treegridctl", ranks, cfg.Admin.CorsOrigins)
	adminCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(adminCtx, cfg.Admin.Listen) }()

	err := work(ctx)
	if err == nil && serve {
		select {
		case <-ctx.Done():
		case err = <-done:
			return err
		}
	}
	stop()
	if adminErr := <-done; err == nil {
		err = adminErr
	}
	return err
}
