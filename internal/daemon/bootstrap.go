// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the samplr runtime together and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ManuGH/samplr/internal/api"
	"github.com/ManuGH/samplr/internal/cache"
	"github.com/ManuGH/samplr/internal/config"
	"github.com/ManuGH/samplr/internal/exttool"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/media/probe"
	"github.com/ManuGH/samplr/internal/media/thumbnail"
	"github.com/ManuGH/samplr/internal/media/transcode"
	"github.com/ManuGH/samplr/internal/media/waveform"
	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/persistence/sqlite"
	"github.com/ManuGH/samplr/internal/pipeline"
	"github.com/ManuGH/samplr/internal/queue"
	"github.com/ManuGH/samplr/internal/storage"
	"github.com/ManuGH/samplr/internal/store"
	"github.com/ManuGH/samplr/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// CloseHook releases a resource during shutdown. Hooks run in reverse
// registration order.
type CloseHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook CloseHook
}

// Options adjust Build for embedding and tests.
type Options struct {
	Version string
	// Runner replaces the exec runner for external tools.
	Runner exttool.Runner
	// InMemoryJournal keeps the chain journal in memory.
	InMemoryJournal bool
}

// Runtime is the assembled application.
type Runtime struct {
	Config       config.AppConfig
	Storage      *storage.Local
	Store        store.Store
	Scheduler    *queue.Scheduler
	Orchestrator *pipeline.Orchestrator
	Validator    *metadata.Validator
	Handler      http.Handler

	hooks  []namedHook
	logger zerolog.Logger
}

// Build opens every backend named by cfg and wires the pipeline. On error
// everything opened so far is closed again.
func Build(ctx context.Context, cfg config.AppConfig, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg, logger: xglog.WithComponent("daemon")}
	if err := rt.build(ctx, opts); err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context, opts Options) error {
	cfg := rt.Config

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: opts.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	rt.addHook("telemetry", tp.Shutdown)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	rt.Storage, err = storage.NewLocal(cfg.PublicDir())
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := rt.verifyDatabase(ctx, cfg.DatabasePath(), cfg.Database.VerifyOnStart); err != nil {
		return err
	}
	sqlStore, err := store.OpenSQLite(ctx, cfg.DatabasePath(), sqlite.Config{
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	rt.Store = sqlStore
	rt.addHook("store", func(context.Context) error { return sqlStore.Close() })

	journal, err := openJournal(cfg, opts)
	if err != nil {
		return fmt.Errorf("open chain journal: %w", err)
	}
	rt.addHook("journal", func(context.Context) error { return journal.Close() })

	probeCache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("probe cache: %w", err)
	}
	rt.addHook("cache", func(context.Context) error { return probeCache.Close() })

	runner := opts.Runner
	if runner == nil {
		runner = exttool.NewExecRunner(map[string]string{
			probe.Binary:     cfg.Tools.Downloader,
			transcode.Binary: cfg.Tools.FFmpeg,
		}, cfg.Tools.Timeout)
	}

	rt.Validator = metadata.NewValidator(cfg.MetadataPolicy())
	rt.Scheduler = queue.New(queue.Config{
		Workers:  cfg.Queue.Workers,
		Capacity: cfg.Queue.Capacity,
		History:  cfg.Queue.History,
	}, journal)

	rt.Orchestrator, err = pipeline.New(pipeline.Deps{
		Store:   sqlStore,
		Storage: rt.Storage,
		Queue:   rt.Scheduler,
		Prober: probe.New(runner, probeCache, probe.Config{
			ProbeTimeout:    cfg.Tools.ProbeTimeout,
			DownloadTimeout: cfg.Tools.DownloadTimeout,
			CacheTTL:        cfg.Cache.ProbeTTL,
			Rate:            rate.Limit(cfg.Tools.ProbeRate),
			Burst:           cfg.Tools.ProbeBurst,
			MaxFilesize:     cfg.Tools.MaxFilesize,
		}),
		Validator:  rt.Validator,
		Transcoder: transcode.New(runner, rt.Storage, cfg.Tools.Timeout),
		Waveforms:  waveform.New(runner, rt.Storage, cfg.Tools.Timeout),
		Thumbnails: thumbnail.New(rt.Storage, thumbnail.Config{}),
		Upload:     cfg.UploadPolicy(),
	})
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	rt.Orchestrator.Register(rt.Scheduler)

	checks := map[string]api.HealthCheck{
		"store": sqlStore.Ping,
	}
	if hc, ok := probeCache.(interface{ HealthCheck(context.Context) error }); ok {
		checks["cache"] = hc.HealthCheck
	}
	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = cfg.Telemetry.ServiceName
	}
	rt.Handler = api.New(api.Config{
		MaxUploadBytes:      cfg.Upload.MaxBytes,
		IngestRatePerMinute: cfg.Server.IngestRatePerMinute,
		TracingService:      tracing,
	}, rt.Orchestrator, checks).Handler()

	return nil
}

// closableJournal is a queue.Journal owning a resource.
type closableJournal interface {
	queue.Journal
	Close() error
}

func openJournal(cfg config.AppConfig, opts Options) (closableJournal, error) {
	if opts.InMemoryJournal {
		return queue.OpenInMemoryJournal()
	}
	return queue.OpenBadgerJournal(cfg.JournalDir())
}

// verifyDatabase checks an existing database file before it is opened for
// writing. A missing file is not an error.
func (rt *Runtime) verifyDatabase(ctx context.Context, path, mode string) error {
	if mode == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	problems, err := sqlite.VerifyIntegrity(ctx, path, mode)
	if err != nil {
		return fmt.Errorf("verify store: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("verify store: %s integrity check failed: %s", mode, strings.Join(problems, "; "))
	}
	rt.logger.Info().
		Str(xglog.FieldEvent, "store.verified").
		Str(xglog.FieldPath, path).
		Str("mode", mode).
		Msg("store integrity verified")
	return nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   "samplr:",
		}, xglog.WithComponent("cache"))
		if err != nil {
			return nil, err
		}
		return rc, nil
	case "none":
		return cache.NewNoOpCache(), nil
	default:
		return cache.NewMemoryCache(time.Minute), nil
	}
}

func (rt *Runtime) addHook(name string, hook CloseHook) {
	rt.hooks = append(rt.hooks, namedHook{name: name, hook: hook})
}

// Close runs the close hooks in reverse order and joins their errors.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.hooks) - 1; i >= 0; i-- {
		h := rt.hooks[i]
		if err := h.hook(ctx); err != nil {
			rt.logger.Error().Err(err).Str("hook", h.name).Msg("close hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	rt.hooks = nil
	return errors.Join(errs...)
}
