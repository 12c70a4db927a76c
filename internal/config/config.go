package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/treegrid/internal/protocol/session"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the resolved setup of one treegridctl process.
type Config struct {
	Cluster      ClusterConfig
	Redistribute RedistributeConfig
	Ghost        GhostConfig
	Admin        AdminConfig
	Demo         DemoConfig
}

// ClusterConfig places this process in a rank group. Local > 0 runs that
// many ranks in-process and ignores the mesh settings.
type ClusterConfig struct {
	Rank    int
	Size    int
	Listen  string
	Peers   []string
	Token   string
	Local   int
	Session session.Config
}

type RedistributeConfig struct {
	Policy       string
	DepthLimiter int
}

type GhostConfig struct {
	Enabled            bool
	Layers             int
	BuildIfRequired    bool
	SynchronizeOnly    bool
	GenerateProcessIDs bool
	GenerateGlobalIDs  bool
	UseStaticMeshCache bool
}

// AdminConfig holds the HTTP admin surface. An empty Listen disables it.
type AdminConfig struct {
	Listen      string
	CorsOrigins []string
}

// DemoConfig shapes the synthetic forest the runner redistributes.
type DemoConfig struct {
	Dimension    int
	BranchFactor int
	Cells        [3]int
	Levels       int
	// MaskEvery masks every n-th refined child; 0 disables masking.
	MaskEvery int
}

func DefaultConfig() Config {
	return Config{
		Cluster: ClusterConfig{
			Peers:   []string{},
			Session: session.DefaultConfig(),
		},
		Redistribute: RedistributeConfig{Policy: PolicyCeil},
		Ghost: GhostConfig{
			Layers:          1,
			BuildIfRequired: true,
		},
		Demo: DemoConfig{
			Dimension:    3,
			BranchFactor: 2,
			Cells:        [3]int{2, 2, 2},
			Levels:       3,
		},
	}
}

type fileConfig struct {
	Cluster struct {
		Rank               int      `toml:"rank"`
		Size               int      `toml:"size"`
		Listen             string   `toml:"listen"`
		Peers              []string `toml:"peers"`
		Token              string   `toml:"token"`
		Local              int      `toml:"local"`
		ConnectTimeout     string   `toml:"connect_timeout"`
		HandshakeTimeout   string   `toml:"handshake_timeout"`
		ReadTimeout        string   `toml:"read_timeout"`
		WriteTimeout       string   `toml:"write_timeout"`
		MaxConnectAttempts int      `toml:"max_connect_attempts"`
		BackoffInitial     string   `toml:"backoff_initial"`
		BackoffMax         string   `toml:"backoff_max"`
		BackoffMultiplier  float64  `toml:"backoff_multiplier"`
		BackoffJitter      bool     `toml:"backoff_jitter"`
		SecurityMode       string   `toml:"security_mode"`
		TLS                struct {
			Enabled    bool   `toml:"enabled"`
			Mutual     bool   `toml:"mutual"`
			CertFile   string `toml:"cert_file"`
			KeyFile    string `toml:"key_file"`
			CAFile     string `toml:"ca_file"`
			ServerName string `toml:"server_name"`
		} `toml:"tls"`
	} `toml:"cluster"`
	Redistribute struct {
		Policy       string `toml:"policy"`
		DepthLimiter int    `toml:"depth_limiter"`
	} `toml:"redistribute"`
	Ghost struct {
		Enabled            bool `toml:"enabled"`
		Layers             int  `toml:"layers"`
		BuildIfRequired    bool `toml:"build_if_required"`
		SynchronizeOnly    bool `toml:"synchronize_only"`
		GenerateProcessIDs bool `toml:"generate_process_ids"`
		GenerateGlobalIDs  bool `toml:"generate_global_ids"`
		UseStaticMeshCache bool `toml:"use_static_mesh_cache"`
	} `toml:"ghost"`
	Admin struct {
		Listen      string   `toml:"listen"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"admin"`
	Demo struct {
		Dimension    int   `toml:"dimension"`
		BranchFactor int   `toml:"branch_factor"`
		Cells        []int `toml:"cells"`
		Levels       int   `toml:"levels"`
		MaskEvery    int   `toml:"mask_every"`
	} `toml:"demo"`
}

// Load reads path on top of DefaultConfig and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return resolve(raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := DefaultConfig()
	if err := applyCluster(&cfg.Cluster, raw, meta); err != nil {
		return Config{}, err
	}

	if meta.IsDefined("redistribute", "policy") {
		cfg.Redistribute.Policy = strings.ToLower(strings.TrimSpace(raw.Redistribute.Policy))
	}
	if meta.IsDefined("redistribute", "depth_limiter") {
		cfg.Redistribute.DepthLimiter = raw.Redistribute.DepthLimiter
	}

	g := raw.Ghost
	if meta.IsDefined("ghost", "enabled") {
		cfg.Ghost.Enabled = g.Enabled
	}
	if meta.IsDefined("ghost", "layers") {
		cfg.Ghost.Layers = g.Layers
	}
	if meta.IsDefined("ghost", "build_if_required") {
		cfg.Ghost.BuildIfRequired = g.BuildIfRequired
	}
	if meta.IsDefined("ghost", "synchronize_only") {
		cfg.Ghost.SynchronizeOnly = g.SynchronizeOnly
	}
	if meta.IsDefined("ghost", "generate_process_ids") {
		cfg.Ghost.GenerateProcessIDs = g.GenerateProcessIDs
	}
	if meta.IsDefined("ghost", "generate_global_ids") {
		cfg.Ghost.GenerateGlobalIDs = g.GenerateGlobalIDs
	}
	if meta.IsDefined("ghost", "use_static_mesh_cache") {
		cfg.Ghost.UseStaticMeshCache = g.UseStaticMeshCache
	}

	if meta.IsDefined("admin", "listen") {
		cfg.Admin.Listen = strings.TrimSpace(raw.Admin.Listen)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizePeers(raw.Admin.CorsOrigins)
	}

	d := raw.Demo
	if meta.IsDefined("demo", "dimension") {
		cfg.Demo.Dimension = d.Dimension
	}
	if meta.IsDefined("demo", "branch_factor") {
		cfg.Demo.BranchFactor = d.BranchFactor
	}
	if meta.IsDefined("demo", "cells") {
		if len(d.Cells) != 3 {
			return Config{}, fmt.Errorf("%w: demo.cells needs 3 entries, got %d", ErrInvalid, len(d.Cells))
		}
		copy(cfg.Demo.Cells[:], d.Cells)
	}
	if meta.IsDefined("demo", "levels") {
		cfg.Demo.Levels = d.Levels
	}
	if meta.IsDefined("demo", "mask_every") {
		cfg.Demo.MaskEvery = d.MaskEvery
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyCluster(cfg *ClusterConfig, raw fileConfig, meta toml.MetaData) error {
	c := raw.Cluster
	if meta.IsDefined("cluster", "rank") {
		cfg.Rank = c.Rank
	}
	if meta.IsDefined("cluster", "size") {
		cfg.Size = c.Size
	}
	if meta.IsDefined("cluster", "listen") {
		cfg.Listen = strings.TrimSpace(c.Listen)
	}
	if meta.IsDefined("cluster", "peers") {
		cfg.Peers = normalizePeers(c.Peers)
	}
	if meta.IsDefined("cluster", "token") {
		cfg.Token = c.Token
	}
	if meta.IsDefined("cluster", "local") {
		cfg.Local = c.Local
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", c.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"handshake_timeout", c.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"read_timeout", c.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", c.WriteTimeout, &cfg.Session.WriteTimeout},
		{"backoff_initial", c.BackoffInitial, &cfg.Session.Backoff.InitialDelay},
		{"backoff_max", c.BackoffMax, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("cluster", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse cluster.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("cluster", "max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = c.MaxConnectAttempts
	}
	if meta.IsDefined("cluster", "backoff_multiplier") {
		cfg.Session.Backoff.Multiplier = c.BackoffMultiplier
	}
	if meta.IsDefined("cluster", "backoff_jitter") {
		cfg.Session.Backoff.Jitter = c.BackoffJitter
	}
	if meta.IsDefined("cluster", "security_mode") {
		cfg.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(c.SecurityMode))
	}

	tls := &cfg.Session.TLS
	if meta.IsDefined("cluster", "tls", "enabled") {
		tls.Enabled = c.TLS.Enabled
	}
	if meta.IsDefined("cluster", "tls", "mutual") {
		tls.Mutual = c.TLS.Mutual
	}
	if meta.IsDefined("cluster", "tls", "cert_file") {
		tls.CertFile = strings.TrimSpace(c.TLS.CertFile)
	}
	if meta.IsDefined("cluster", "tls", "key_file") {
		tls.KeyFile = strings.TrimSpace(c.TLS.KeyFile)
	}
	if meta.IsDefined("cluster", "tls", "ca_file") {
		tls.CAFile = strings.TrimSpace(c.TLS.CAFile)
	}
	if meta.IsDefined("cluster", "tls", "server_name") {
		tls.ServerName = strings.TrimSpace(c.TLS.ServerName)
	}
	return nil
}

// normalizePeers trims entries and drops empty ones.
func normalizePeers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, peer := range in {
		v := strings.TrimSpace(peer)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
