package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/treegrid/internal/config"
	"github.com/danmuck/treegrid/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "treegridctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("treegridctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "rank config file (toml)")
	local := fs.Int("local", 0, "run N ranks in-process, overriding cluster.local")
	ghosts := fs.Bool("ghost", false, "run a ghost pass after redistribution")
	serve := fs.Bool("serve", false, "keep the admin API up until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *local)
	if err != nil {
		return err
	}
	if *ghosts {
		cfg.Ghost.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Every component logger carries its own rank.
	observability.InitLogger("treegridctl")

	if n := cfg.Cluster.Local; n > 0 {
		log.Info().Int("ranks", n).Str("policy", cfg.Redistribute.Policy).Msg("treegridctl.run local group")
		err = runLocal(ctx, cfg, n, *serve)
	} else {
		log.Info().
			Int("rank", cfg.Cluster.Rank).
			Int("size", cfg.Cluster.GroupSize()).
			Str("listen", cfg.Cluster.ListenAddr()).
			Msg("treegridctl.run joining mesh")
		err = runMesh(ctx, cfg, *serve)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadConfig reads path, or starts from defaults when path is empty. A
// positive local overrides the file.
func loadConfig(path string, local int) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if local > 0 {
		cfg.Cluster.Local = local
	}
	if cfg.Cluster.Local == 0 && path == "" {
		cfg.Cluster.Local = 1
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
