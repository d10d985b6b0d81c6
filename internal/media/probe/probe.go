// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe drives the remote media downloader: metadata-only probes
// for ingestion and audio downloads for the Download+Transcode link.
package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/samplr/internal/cache"
	"github.com/ManuGH/samplr/internal/exttool"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Binary is the logical tool name of the downloader in the exttool allow-list.
const Binary = "youtube-dl"

const cacheKeyPrefix = "probe:"

// Config tunes the prober.
type Config struct {
	// ProbeTimeout bounds a metadata-only invocation.
	ProbeTimeout time.Duration
	// DownloadTimeout bounds an audio download.
	DownloadTimeout time.Duration
	// CacheTTL is how long successful probe results are reused. Zero disables caching.
	CacheTTL time.Duration
	// Rate and Burst throttle outbound probes. A zero Rate means unlimited.
	Rate  rate.Limit
	Burst int
	// MaxFilesize is passed to the downloader, e.g. "50m". Empty means no limit.
	MaxFilesize string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout:    30 * time.Second,
		DownloadTimeout: 5 * time.Minute,
		CacheTTL:        15 * time.Minute,
		Rate:            2,
		Burst:           4,
		MaxFilesize:     "50m",
	}
}

// ProbeArgs returns the argv for a metadata-only probe of url.
func ProbeArgs(url string) []string {
	return []string{
		"--dump-json",
		"--skip-download",
		"--no-playlist",
		"--no-warnings",
		"--",
		url,
	}
}

// DownloadArgs returns the argv that downloads the best audio stream of url
// to exactly dest.
func DownloadArgs(url, dest, maxFilesize string) []string {
	args := []string{
		"--format", "bestaudio/best",
		"--no-playlist",
		"--no-part",
		"--no-progress",
		"--no-warnings",
		"--no-mtime",
		"--output", dest,
	}
	if maxFilesize != "" {
		args = append(args, "--max-filesize", maxFilesize)
	}
	return append(args, "--", url)
}

// Prober runs the downloader through an exttool.Runner. Concurrent probes of
// the same URL share one invocation.
type Prober struct {
	runner  exttool.Runner
	cache   cache.Cache
	cfg     Config
	limiter *rate.Limiter
	group   singleflight.Group
	logger  zerolog.Logger
}

// New creates a Prober. A nil cache disables result caching.
func New(runner exttool.Runner, c cache.Cache, cfg Config) *Prober {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	limit := cfg.Rate
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Prober{
		runner:  runner,
		cache:   c,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  xglog.WithComponent("probe"),
	}
}

// Probe returns the decoded metadata for url. Failures of the tool surface as
// *exttool.ToolError, unusable output as metadata.ErrMalformedProbe.
func (p *Prober) Probe(ctx context.Context, url string) (metadata.ProbeResult, error) {
	ctx, span := telemetry.Tracer("samplr/probe").Start(ctx, "probe.metadata")
	defer span.End()

	key := cacheKey(url)
	if data, ok := p.cache.Get(ctx, key); ok {
		var pr metadata.ProbeResult
		if err := json.Unmarshal(data, &pr); err == nil {
			metrics.IncProbeCache("hit")
			span.SetAttributes(attribute.Bool("probe.cached", true))
			return pr, nil
		}
		p.cache.Delete(ctx, key)
	}

	ch := p.group.DoChan(key, func() (any, error) {
		metrics.IncProbeCache("miss")
		// the shared call must not die with the first caller
		return p.fetch(context.WithoutCancel(ctx), url, key)
	})
	select {
	case res := <-ch:
		if res.Shared {
			metrics.IncProbeCache("shared")
		}
		if res.Err != nil {
			telemetry.RecordError(span, res.Err)
			return metadata.ProbeResult{}, res.Err
		}
		return res.Val.(metadata.ProbeResult), nil
	case <-ctx.Done():
		return metadata.ProbeResult{}, ctx.Err()
	}
}

func (p *Prober) fetch(ctx context.Context, url, key string) (metadata.ProbeResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout(p.cfg.ProbeTimeout))
	defer cancel()
	if err := p.limiter.Wait(waitCtx); err != nil {
		return metadata.ProbeResult{}, fmt.Errorf("probe: rate limit: %w", err)
	}

	res, err := p.runner.Run(ctx, exttool.Spec{
		Binary:  Binary,
		Args:    ProbeArgs(url),
		Timeout: p.cfg.ProbeTimeout,
	})
	if err != nil {
		return metadata.ProbeResult{}, fmt.Errorf("probe: %w", err)
	}
	if terr := res.Err(Binary); terr != nil {
		p.logger.Info().
			Str(xglog.FieldSourceURL, url).
			Int(xglog.FieldExitCode, res.ExitCode).
			Str(xglog.FieldStderr, lastLines(res.Stderr, 5)).
			Msg("probe rejected by downloader")
		return metadata.ProbeResult{}, terr
	}
	if res.StdoutTruncated {
		return metadata.ProbeResult{}, fmt.Errorf("%w: output exceeds limit", metadata.ErrMalformedProbe)
	}

	pr, err := metadata.DecodeProbeResult(res.Stdout)
	if err != nil {
		p.logger.Info().Err(err).Str(xglog.FieldSourceURL, url).Msg("probe output not usable")
		return metadata.ProbeResult{}, err
	}

	if p.cfg.CacheTTL > 0 {
		if data, err := json.Marshal(pr); err == nil {
			p.cache.Set(ctx, key, data, p.cfg.CacheTTL)
		}
	}
	return pr, nil
}

// Download fetches the audio of url to the absolute path dest.
func (p *Prober) Download(ctx context.Context, url, dest string) error {
	ctx, span := telemetry.Tracer("samplr/probe").Start(ctx, "probe.download")
	defer span.End()

	res, err := p.runner.Run(ctx, exttool.Spec{
		Binary:  Binary,
		Args:    DownloadArgs(url, dest, p.cfg.MaxFilesize),
		Timeout: p.cfg.DownloadTimeout,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("download: %w", err)
	}
	span.SetAttributes(telemetry.ToolAttributes(Binary, res.ExitCode)...)
	if terr := res.Err(Binary); terr != nil {
		telemetry.RecordError(span, terr)
		return terr
	}
	return nil
}

// IsNotFound reports whether err means the URL yielded no usable metadata,
// as opposed to an infrastructure failure.
func IsNotFound(err error) bool {
	if _, ok := exttool.AsToolError(err); ok {
		return true
	}
	return errors.Is(err, metadata.ErrMalformedProbe)
}

func (p *Prober) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return exttool.DefaultTimeout
	}
	return d
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func lastLines(s string, n int) string {
	r := exttool.NewLineRing(n)
	_, _ = r.Write([]byte(s))
	return r.String()
}
