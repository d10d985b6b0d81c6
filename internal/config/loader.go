// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/media/probe"
	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/pipeline"
	"github.com/ManuGH/samplr/internal/queue"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	q := queue.DefaultConfig()
	pc := probe.DefaultConfig()
	pol := metadata.DefaultPolicy()
	up := pipeline.DefaultUploadPolicy()

	return AppConfig{
		Server: ServerConfig{
			ListenAddr:          ":8080",
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        60 * time.Second,
			IdleTimeout:         120 * time.Second,
			ShutdownTimeout:     30 * time.Second,
			IngestRatePerMinute: 30,
		},
		Storage: StorageConfig{DataDir: "./data"},
		Database: DatabaseConfig{
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 8,
		},
		Queue: QueueConfig{
			Workers:  q.Workers,
			Capacity: q.Capacity,
			History:  q.History,
		},
		Tools: ToolsConfig{
			Downloader:      "youtube-dl",
			FFmpeg:          "ffmpeg",
			Timeout:         10 * time.Minute,
			ProbeTimeout:    pc.ProbeTimeout,
			DownloadTimeout: pc.DownloadTimeout,
			ProbeRate:       float64(pc.Rate),
			ProbeBurst:      pc.Burst,
			MaxFilesize:     pc.MaxFilesize,
		},
		Policy: PolicyConfig{
			TrustedExtractors: pol.TrustedExtractors,
			MinDuration:       pol.MinDuration,
			MaxDuration:       pol.MaxDuration,
			MaxTags:           pol.MaxTags,
			MaxTagRunes:       pol.MaxTagRunes,
		},
		Upload: UploadConfig{
			MaxBytes:     up.MaxBytes,
			AllowedTypes: up.AllowedTypes,
		},
		Cache: CacheConfig{
			Backend:  "memory",
			ProbeTTL: pc.CacheTTL,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "samplr",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Loader loads configuration with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
	lookupEnv  func(string) (string, bool)
	logger     zerolog.Logger
}

// NewLoader creates a loader. An empty configPath means defaults and ENV only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
		lookupEnv:  os.LookupEnv,
		logger:     xglog.WithComponent("config"),
	}
}

// Path returns the config file path, if any.
func (l *Loader) Path() string { return l.configPath }

// Load builds and validates a configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.mergeFile(&cfg, l.configPath); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg, newEnvReader(l.logger, l.lookupEnv))

	if abs, err := filepath.Abs(cfg.Storage.DataDir); err == nil {
		cfg.Storage.DataDir = abs
	}
	if cfg.Version == "" {
		cfg.Version = l.version
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// mergeFile decodes the YAML file over cfg. Keys absent from the file keep
// their current value.
func (l *Loader) mergeFile(cfg *AppConfig, path string) error {
	// #nosec G304 -- the config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	return nil
}
