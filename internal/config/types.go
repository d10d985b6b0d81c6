// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the samplr configuration.
//
// Precedence is ENV > file > defaults. The file is strict YAML: unknown keys
// are rejected. Only the metadata policy is applied on reload; every other
// section takes effect on the next start.
package config

import (
	"path/filepath"
	"time"

	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/pipeline"
)

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	Version   string          `yaml:"version,omitempty"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Tools     ToolsConfig     `yaml:"tools"`
	Policy    PolicyConfig    `yaml:"policy"`
	Upload    UploadConfig    `yaml:"upload"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// IngestRatePerMinute limits ingestion requests per client IP. Zero disables it.
	IngestRatePerMinute int `yaml:"ingestRatePerMinute"`
}

// StorageConfig locates files on disk.
type StorageConfig struct {
	// DataDir holds the database and the chain journal by default.
	DataDir string `yaml:"dataDir"`
	// PublicDir is the root for artifacts and temporary uploads.
	PublicDir string `yaml:"publicDir"`
}

// DatabaseConfig configures the SQLite resource store.
type DatabaseConfig struct {
	Path          string        `yaml:"path"`
	BusyTimeout   time.Duration `yaml:"busyTimeout"`
	MaxOpenConns  int           `yaml:"maxOpenConns"`
	// VerifyOnStart runs an integrity check before opening: "", "quick" or "full".
	VerifyOnStart string        `yaml:"verifyOnStart"`
}

// QueueConfig configures the chain scheduler.
type QueueConfig struct {
	Workers  int `yaml:"workers"`
	Capacity int `yaml:"capacity"`
	History  int `yaml:"history"`
	// JournalDir holds the badger chain journal. Empty means <dataDir>/journal.
	JournalDir string `yaml:"journalDir"`
}

// ToolsConfig locates and bounds the external binaries.
type ToolsConfig struct {
	Downloader      string        `yaml:"downloader"`
	FFmpeg          string        `yaml:"ffmpeg"`
	Timeout         time.Duration `yaml:"timeout"`
	ProbeTimeout    time.Duration `yaml:"probeTimeout"`
	DownloadTimeout time.Duration `yaml:"downloadTimeout"`
	// ProbeRate is outbound probes per second. Zero means unlimited.
	ProbeRate   float64 `yaml:"probeRate"`
	ProbeBurst  int     `yaml:"probeBurst"`
	MaxFilesize string  `yaml:"maxFilesize"`
}

// PolicyConfig holds the remote media acceptance rules. It is hot-reloadable.
type PolicyConfig struct {
	TrustedExtractors []string      `yaml:"trustedExtractors"`
	MinDuration       time.Duration `yaml:"minDuration"`
	MaxDuration       time.Duration `yaml:"maxDuration"`
	MaxTags           int           `yaml:"maxTags"`
	MaxTagRunes       int           `yaml:"maxTagRunes"`
}

// UploadConfig bounds local uploads.
type UploadConfig struct {
	MaxBytes     int64    `yaml:"maxBytes"`
	AllowedTypes []string `yaml:"allowedTypes"`
}

// CacheConfig selects the probe result cache.
type CacheConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	ProbeTTL      time.Duration `yaml:"probeTTL"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Environment  string  `yaml:"environment"`
	ExporterType string  `yaml:"exporterType"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetadataPolicy converts the policy section.
func (c AppConfig) MetadataPolicy() metadata.Policy {
	return metadata.Policy{
		TrustedExtractors: append([]string(nil), c.Policy.TrustedExtractors...),
		MinDuration:       c.Policy.MinDuration,
		MaxDuration:       c.Policy.MaxDuration,
		MaxTags:           c.Policy.MaxTags,
		MaxTagRunes:       c.Policy.MaxTagRunes,
	}
}

// UploadPolicy converts the upload section.
func (c AppConfig) UploadPolicy() pipeline.UploadPolicy {
	return pipeline.UploadPolicy{
		MaxBytes:     c.Upload.MaxBytes,
		AllowedTypes: append([]string(nil), c.Upload.AllowedTypes...),
	}
}

// DatabasePath is the configured database path or its default under DataDir.
func (c AppConfig) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Storage.DataDir, "samplr.db")
}

// PublicDir is the configured artifact root or its default under DataDir.
func (c AppConfig) PublicDir() string {
	if c.Storage.PublicDir != "" {
		return c.Storage.PublicDir
	}
	return filepath.Join(c.Storage.DataDir, "public")
}

// JournalDir is the configured chain journal directory or its default.
func (c AppConfig) JournalDir() string {
	if c.Queue.JournalDir != "" {
		return c.Queue.JournalDir
	}
	return filepath.Join(c.Storage.DataDir, "journal")
}
