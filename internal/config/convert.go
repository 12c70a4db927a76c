package config

import (
	"fmt"

	"github.com/danmuck/treegrid/internal/comm"
	"github.com/danmuck/treegrid/internal/dataset"
	"github.com/danmuck/treegrid/internal/ghost"
	"github.com/danmuck/treegrid/internal/partition"
)

// GroupSize is the number of ranks the cluster section describes.
func (c ClusterConfig) GroupSize() int {
	if c.Local > 0 {
		return c.Local
	}
	return len(c.Peers)
}

// ListenAddr is where this rank accepts peers; it defaults to its own
// entry in Peers.
func (c ClusterConfig) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	if c.Rank >= 0 && c.Rank < len(c.Peers) {
		return c.Peers[c.Rank]
	}
	return ""
}

func (c ClusterConfig) TCPConfig() comm.TCPConfig {
	cfg := comm.DefaultTCPConfig(c.Rank, c.Peers)
	cfg.Token = c.Token
	cfg.Session = c.Session
	return cfg
}

func (c RedistributeConfig) PartitionPolicy() (partition.Policy, error) {
	switch c.Policy {
	case PolicyCeil, "":
		return partition.CeilSplit{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown redistribute policy %q", ErrInvalid, c.Policy)
	}
}

func (c GhostConfig) Options() ghost.Options {
	return ghost.Options{
		NumberOfGhostLayers: c.Layers,
		BuildIfRequired:     c.BuildIfRequired,
		SynchronizeOnly:     c.SynchronizeOnly,
		GenerateProcessIDs:  c.GenerateProcessIDs,
		GenerateGlobalIDs:   c.GenerateGlobalIDs,
		UseStaticMeshCache:  c.UseStaticMeshCache,
	}
}

// Extent is the tree slot extent of the demo forest.
func (c DemoConfig) Extent() dataset.Extent {
	return dataset.Extent{0, c.Cells[0] - 1, 0, c.Cells[1] - 1, 0, c.Cells[2] - 1}
}
