package config

import (
	"fmt"
	"strings"
)

const PolicyCeil = "ceil"

// Validate checks cfg for values no component can run with.
func Validate(cfg Config) error {
	if err := ValidateCluster(cfg.Cluster); err != nil {
		return err
	}
	switch cfg.Redistribute.Policy {
	case PolicyCeil:
	default:
		return fmt.Errorf("%w: unknown redistribute policy %q", ErrInvalid, cfg.Redistribute.Policy)
	}
	if cfg.Redistribute.DepthLimiter < 0 {
		return fmt.Errorf("%w: redistribute.depth_limiter must be >= 0", ErrInvalid)
	}
	if cfg.Ghost.Layers < 0 {
		return fmt.Errorf("%w: ghost.layers must be >= 0", ErrInvalid)
	}
	if strings.HasPrefix(cfg.Admin.Listen, "http") {
		return fmt.Errorf("%w: admin.listen wants host:port, got %q", ErrInvalid, cfg.Admin.Listen)
	}
	return ValidateDemo(cfg.Demo)
}

func ValidateCluster(cfg ClusterConfig) error {
	if cfg.Local < 0 {
		return fmt.Errorf("%w: cluster.local must be >= 0", ErrInvalid)
	}
	if cfg.Local > 0 {
		return nil
	}
	if len(cfg.Peers) == 0 {
		return fmt.Errorf("%w: cluster.peers required unless cluster.local is set", ErrInvalid)
	}
	if cfg.Size != 0 && cfg.Size != len(cfg.Peers) {
		return fmt.Errorf("%w: cluster.size %d but %d peers", ErrInvalid, cfg.Size, len(cfg.Peers))
	}
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Peers) {
		return fmt.Errorf("%w: cluster.rank %d outside %d peers", ErrInvalid, cfg.Rank, len(cfg.Peers))
	}
	if err := cfg.Session.ValidateTransport(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func ValidateDemo(cfg DemoConfig) error {
	if cfg.Dimension < 1 || cfg.Dimension > 3 {
		return fmt.Errorf("%w: demo.dimension must be 1, 2 or 3", ErrInvalid)
	}
	if cfg.BranchFactor < 2 || cfg.BranchFactor > 3 {
		return fmt.Errorf("%w: demo.branch_factor must be 2 or 3", ErrInvalid)
	}
	if cfg.Levels < 1 {
		return fmt.Errorf("%w: demo.levels must be >= 1", ErrInvalid)
	}
	for axis, n := range cfg.Cells {
		if n < 1 {
			return fmt.Errorf("%w: demo.cells[%d] must be >= 1", ErrInvalid, axis)
		}
		if axis >= cfg.Dimension && n != 1 {
			return fmt.Errorf("%w: demo.cells[%d] must be 1 in %dD", ErrInvalid, axis, cfg.Dimension)
		}
	}
	if cfg.MaskEvery < 0 {
		return fmt.Errorf("%w: demo.mask_every must be >= 0", ErrInvalid)
	}
	return nil
}
