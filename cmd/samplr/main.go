// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/samplr/internal/config"
	"github.com/ManuGH/samplr/internal/daemon"
	xglog "github.com/ManuGH/samplr/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML), defaults to $SAMPLR_CONFIG")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "samplr",
		Version: version,
	})
	logger := xglog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(config.EnvPrefix + "CONFIG"))
	}

	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str(xglog.FieldPath, path).
			Msg("failed to load configuration")
	}

	xglog.Reconfigure(xglog.Config{
		Level:   cfg.Log.Level,
		Service: "samplr",
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("main")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, path).
		Msg("configuration loaded")

	for _, key := range config.UnknownEnvKeys(os.Environ()) {
		logger.Warn().
			Str(xglog.FieldEvent, "config.unknown_env").
			Str("key", key).
			Msg("ignoring unknown environment variable")
	}

	rt, err := daemon.Build(ctx, cfg, daemon.Options{Version: version})
	if err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "startup.failed").Msg("failed to build runtime")
	}
	mgr, err := daemon.NewManager(rt, nil)
	if err != nil {
		_ = rt.Close(context.Background())
		logger.Fatal().Err(err).Msg("failed to create manager")
	}

	holder := config.NewConfigHolder(cfg, loader)
	defer holder.Stop()

	if err := daemon.NewApp(mgr, holder).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.exit").Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.exit").Msg("daemon stopped")
}
