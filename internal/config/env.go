// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SAMPLR_"

// envReader reads typed overrides. Malformed values are logged and ignored so
// the lower-precedence value stays in effect.
type envReader struct {
	logger zerolog.Logger
	lookup func(string) (string, bool)
	// consumed records every key that was consulted.
	consumed map[string]struct{}
}

func newEnvReader(logger zerolog.Logger, lookup func(string) (string, bool)) *envReader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &envReader{logger: logger, lookup: lookup, consumed: make(map[string]struct{})}
}

func (e *envReader) get(key string) (string, bool) {
	e.consumed[key] = struct{}{}
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token")
}

func (e *envReader) used(key, value string) {
	ev := e.logger.Debug().Str("key", key).Str("source", "environment")
	if e.sensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", value)
	}
	ev.Msg("using environment variable")
}

func (e *envReader) invalid(key, value string, err error) {
	e.logger.Warn().
		Err(err).
		Str("key", key).
		Str("value", value).
		Msg("ignoring invalid environment variable")
}

func (e *envReader) String(key string, dst *string) {
	if v, ok := e.get(key); ok {
		e.used(key, v)
		*dst = v
	}
}

func (e *envReader) Int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.invalid(key, v, err)
		return
	}
	e.used(key, v)
	*dst = i
}

func (e *envReader) Int64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.invalid(key, v, err)
		return
	}
	e.used(key, v)
	*dst = i
}

func (e *envReader) Float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.invalid(key, v, err)
		return
	}
	e.used(key, v)
	*dst = f
}

func (e *envReader) Bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(key, v, err)
		return
	}
	e.used(key, v)
	*dst = b
}

func (e *envReader) Duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid(key, v, err)
		return
	}
	e.used(key, v)
	*dst = d
}

// List reads a comma-separated list; empty items are dropped.
func (e *envReader) List(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	e.used(key, v)
	*dst = out
}

// mergeEnv applies SAMPLR_* overrides.
func mergeEnv(cfg *AppConfig, e *envReader) {
	e.String(EnvPrefix+"LISTEN", &cfg.Server.ListenAddr)
	e.Duration(EnvPrefix+"READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.Duration(EnvPrefix+"WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.Duration(EnvPrefix+"IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	e.Duration(EnvPrefix+"SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.Int(EnvPrefix+"INGEST_RATE_PER_MINUTE", &cfg.Server.IngestRatePerMinute)

	e.String(EnvPrefix+"DATA_DIR", &cfg.Storage.DataDir)
	e.String(EnvPrefix+"PUBLIC_DIR", &cfg.Storage.PublicDir)

	e.String(EnvPrefix+"DB_PATH", &cfg.Database.Path)
	e.Duration(EnvPrefix+"DB_BUSY_TIMEOUT", &cfg.Database.BusyTimeout)
	e.Int(EnvPrefix+"DB_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	e.String(EnvPrefix+"DB_VERIFY", &cfg.Database.VerifyOnStart)

	e.Int(EnvPrefix+"QUEUE_WORKERS", &cfg.Queue.Workers)
	e.Int(EnvPrefix+"QUEUE_CAPACITY", &cfg.Queue.Capacity)
	e.Int(EnvPrefix+"QUEUE_HISTORY", &cfg.Queue.History)
	e.String(EnvPrefix+"QUEUE_JOURNAL_DIR", &cfg.Queue.JournalDir)

	e.String(EnvPrefix+"DOWNLOADER_BIN", &cfg.Tools.Downloader)
	e.String(EnvPrefix+"FFMPEG_BIN", &cfg.Tools.FFmpeg)
	e.Duration(EnvPrefix+"TOOL_TIMEOUT", &cfg.Tools.Timeout)
	e.Duration(EnvPrefix+"PROBE_TIMEOUT", &cfg.Tools.ProbeTimeout)
	e.Duration(EnvPrefix+"DOWNLOAD_TIMEOUT", &cfg.Tools.DownloadTimeout)
	e.Float(EnvPrefix+"PROBE_RATE", &cfg.Tools.ProbeRate)
	e.Int(EnvPrefix+"PROBE_BURST", &cfg.Tools.ProbeBurst)
	e.String(EnvPrefix+"MAX_FILESIZE", &cfg.Tools.MaxFilesize)

	e.List(EnvPrefix+"TRUSTED_EXTRACTORS", &cfg.Policy.TrustedExtractors)
	e.Duration(EnvPrefix+"MIN_DURATION", &cfg.Policy.MinDuration)
	e.Duration(EnvPrefix+"MAX_DURATION", &cfg.Policy.MaxDuration)
	e.Int(EnvPrefix+"MAX_TAGS", &cfg.Policy.MaxTags)
	e.Int(EnvPrefix+"MAX_TAG_RUNES", &cfg.Policy.MaxTagRunes)

	e.Int64(EnvPrefix+"UPLOAD_MAX_BYTES", &cfg.Upload.MaxBytes)
	e.List(EnvPrefix+"UPLOAD_ALLOWED_TYPES", &cfg.Upload.AllowedTypes)

	e.String(EnvPrefix+"CACHE_BACKEND", &cfg.Cache.Backend)
	e.String(EnvPrefix+"REDIS_ADDR", &cfg.Cache.RedisAddr)
	e.String(EnvPrefix+"REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	e.Int(EnvPrefix+"REDIS_DB", &cfg.Cache.RedisDB)
	e.Duration(EnvPrefix+"PROBE_CACHE_TTL", &cfg.Cache.ProbeTTL)

	e.Bool(EnvPrefix+"TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	e.String(EnvPrefix+"TELEMETRY_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	e.String(EnvPrefix+"TELEMETRY_ENVIRONMENT", &cfg.Telemetry.Environment)
	e.String(EnvPrefix+"TELEMETRY_EXPORTER", &cfg.Telemetry.ExporterType)
	e.String(EnvPrefix+"TELEMETRY_ENDPOINT", &cfg.Telemetry.Endpoint)
	e.Float(EnvPrefix+"TELEMETRY_SAMPLING_RATE", &cfg.Telemetry.SamplingRate)

	e.String(EnvPrefix+"LOG_LEVEL", &cfg.Log.Level)
}

// UnknownEnvKeys lists SAMPLR_* variables in environ that no setting reads.
// They are usually typos.
func UnknownEnvKeys(environ []string) []string {
	e := newEnvReader(zerolog.Nop(), func(string) (string, bool) { return "", false })
	var scratch AppConfig
	mergeEnv(&scratch, e)

	var unknown []string
	for _, kv := range environ {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) || key == EnvPrefix+"CONFIG" {
			continue
		}
		if _, ok := e.consumed[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	return unknown
}
