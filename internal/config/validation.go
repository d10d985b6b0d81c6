// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"

	"github.com/ManuGH/samplr/internal/validate"
	"github.com/rs/zerolog"
)

// Validate checks cfg and returns a validate.ValidationError listing every
// problem.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.ListenAddr("server.listenAddr", cfg.Server.ListenAddr)
	v.PositiveDuration("server.readTimeout", cfg.Server.ReadTimeout)
	v.PositiveDuration("server.writeTimeout", cfg.Server.WriteTimeout)
	v.PositiveDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)
	if cfg.Server.IngestRatePerMinute < 0 {
		v.AddError("server.ingestRatePerMinute", "value must not be negative", cfg.Server.IngestRatePerMinute)
	}

	v.NotEmpty("storage.dataDir", cfg.Storage.DataDir)
	if strings.Contains(cfg.Storage.PublicDir, "..") {
		v.AddError("storage.publicDir", "path contains traversal sequences (..)", cfg.Storage.PublicDir)
	}

	v.PositiveDuration("database.busyTimeout", cfg.Database.BusyTimeout)
	v.Positive("database.maxOpenConns", cfg.Database.MaxOpenConns)
	if cfg.Database.VerifyOnStart != "" {
		v.OneOf("database.verifyOnStart", cfg.Database.VerifyOnStart, []string{"quick", "full"})
	}

	v.Range("queue.workers", cfg.Queue.Workers, 1, 256)
	v.Positive("queue.capacity", cfg.Queue.Capacity)
	v.Positive("queue.history", cfg.Queue.History)

	v.NotEmpty("tools.downloader", cfg.Tools.Downloader)
	v.NotEmpty("tools.ffmpeg", cfg.Tools.FFmpeg)
	v.PositiveDuration("tools.timeout", cfg.Tools.Timeout)
	v.PositiveDuration("tools.probeTimeout", cfg.Tools.ProbeTimeout)
	v.PositiveDuration("tools.downloadTimeout", cfg.Tools.DownloadTimeout)
	if cfg.Tools.ProbeRate < 0 {
		v.AddError("tools.probeRate", "value must not be negative", cfg.Tools.ProbeRate)
	}
	if cfg.Tools.ProbeRate > 0 {
		v.Positive("tools.probeBurst", cfg.Tools.ProbeBurst)
	}

	if err := cfg.MetadataPolicy().Validate(); err != nil {
		v.AddError("policy", err.Error(), nil)
	}

	if cfg.Upload.MaxBytes <= 0 {
		v.AddError("upload.maxBytes", fmt.Sprintf("value must be positive, got %d", cfg.Upload.MaxBytes), cfg.Upload.MaxBytes)
	}
	for _, t := range cfg.Upload.AllowedTypes {
		if !strings.Contains(t, "/") {
			v.AddError("upload.allowedTypes", fmt.Sprintf("%q is not a media type", t), t)
		}
	}

	v.OneOf("cache.backend", cfg.Cache.Backend, []string{"memory", "redis", "none"})
	if cfg.Cache.Backend == "redis" {
		v.NotEmpty("cache.redisAddr", cfg.Cache.RedisAddr)
	}
	if cfg.Cache.ProbeTTL < 0 {
		v.AddError("cache.probeTTL", "duration must not be negative", cfg.Cache.ProbeTTL)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporterType", cfg.Telemetry.ExporterType, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "value must be between 0 and 1", cfg.Telemetry.SamplingRate)
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		v.AddError("log.level", err.Error(), cfg.Log.Level)
	}

	return v.Err()
}
