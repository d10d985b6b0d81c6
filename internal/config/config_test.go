// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/validate"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, EnvPrefix) {
			key, _, _ := strings.Cut(e, "=")
			if err := os.Unsetenv(key); err != nil {
				panic("failed to unset env: " + err.Error())
			}
		}
	}
	os.Exit(m.Run())
}

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func newTestLoader(t *testing.T, path string, env map[string]string) *Loader {
	t.Helper()
	l := NewLoader(path, "test")
	l.lookupEnv = envMap(env)
	return l
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := newTestLoader(t, "", map[string]string{"SAMPLR_DATA_DIR": dir}).Load()
	require.NoError(t, err)

	want := Defaults()
	want.Storage.DataDir = dir
	want.Version = "test"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, filepath.Join(dir, "samplr.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(dir, "public"), cfg.PublicDir())
	assert.Equal(t, filepath.Join(dir, "journal"), cfg.JournalDir())
	assert.Equal(t, metadata.DefaultPolicy(), cfg.MetadataPolicy())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
server:
  listenAddr: ":9000"
queue:
  workers: 2
  capacity: 16
policy:
  trustedExtractors: [youtube]
  maxDuration: 2m
upload:
  maxBytes: 1024
`)

	cfg, err := newTestLoader(t, path, map[string]string{
		"SAMPLR_QUEUE_WORKERS":      "8",
		"SAMPLR_TRUSTED_EXTRACTORS": "youtube, soundcloud ,,bandcamp",
		"SAMPLR_DATA_DIR":           dir,
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr, "file overrides default")
	assert.Equal(t, 8, cfg.Queue.Workers, "env overrides file")
	assert.Equal(t, 16, cfg.Queue.Capacity)
	assert.Equal(t, []string{"youtube", "soundcloud", "bandcamp"}, cfg.Policy.TrustedExtractors)
	assert.Equal(t, 2*time.Minute, cfg.Policy.MaxDuration)
	assert.Equal(t, time.Second, cfg.Policy.MinDuration, "unset file keys keep defaults")
	assert.Equal(t, int64(1024), cfg.Upload.MaxBytes)
}

func TestLoad_InvalidEnvIsIgnored(t *testing.T) {
	cfg, err := newTestLoader(t, "", map[string]string{
		"SAMPLR_QUEUE_WORKERS": "many",
		"SAMPLR_MAX_DURATION":  "forever",
	}).Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Queue.Workers, cfg.Queue.Workers)
	assert.Equal(t, Defaults().Policy.MaxDuration, cfg.Policy.MaxDuration)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "queue:\n  wokers: 3\n")

	_, err := newTestLoader(t, path, nil).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "")
	_, err := newTestLoader(t, path, nil).Load()
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"listen addr", func(c *AppConfig) { c.Server.ListenAddr = "8080" }, "server.listenAddr"},
		{"workers", func(c *AppConfig) { c.Queue.Workers = 0 }, "queue.workers"},
		{"capacity", func(c *AppConfig) { c.Queue.Capacity = -1 }, "queue.capacity"},
		{"policy bounds", func(c *AppConfig) { c.Policy.MaxDuration = c.Policy.MinDuration }, "policy"},
		{"upload size", func(c *AppConfig) { c.Upload.MaxBytes = 0 }, "upload.maxBytes"},
		{"upload type", func(c *AppConfig) { c.Upload.AllowedTypes = []string{"mp3"} }, "upload.allowedTypes"},
		{"cache backend", func(c *AppConfig) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis addr", func(c *AppConfig) { c.Cache.Backend = "redis" }, "cache.redisAddr"},
		{"exporter", func(c *AppConfig) { c.Telemetry.Enabled = true; c.Telemetry.ExporterType = "zipkin" }, "telemetry.exporterType"},
		{"log level", func(c *AppConfig) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := Validate(cfg)
			ve, ok := validate.AsValidationError(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Contains(t, ve.Fields(), tc.field)
		})
	}
	require.NoError(t, Validate(Defaults()))
}

func TestUnknownEnvKeys(t *testing.T) {
	got := UnknownEnvKeys([]string{
		"SAMPLR_QUEUE_WORKERS=2",
		"SAMPLR_QUEUE_WORKER=2",
		"SAMPLR_CONFIG=/etc/samplr.yaml",
		"HOME=/root",
	})
	assert.Equal(t, []string{"SAMPLR_QUEUE_WORKER"}, got)
}

type policySink struct {
	mu  sync.Mutex
	got []metadata.Policy
}

func (p *policySink) SetPolicy(pol metadata.Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pol)
}

func (p *policySink) last() metadata.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.got[len(p.got)-1]
}

func (p *policySink) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func TestConfigHolder_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "policy:\n  trustedExtractors: [youtube]\n")

	loader := newTestLoader(t, path, map[string]string{"SAMPLR_DATA_DIR": dir})
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewConfigHolder(initial, loader)
	sink := &policySink{}
	h.BindPolicy(sink)
	assert.Equal(t, []string{"youtube"}, sink.last().TrustedExtractors)

	updates := make(chan AppConfig, 1)
	h.RegisterListener(updates)

	writeFile(t, path, "policy:\n  trustedExtractors: [vimeo]\n  maxDuration: 90s\n")
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, []string{"vimeo"}, h.Get().Policy.TrustedExtractors)
	assert.Equal(t, 90*time.Second, sink.last().MaxDuration)
	select {
	case cfg := <-updates:
		assert.Equal(t, []string{"vimeo"}, cfg.Policy.TrustedExtractors)
	default:
		t.Fatal("listener not notified")
	}

	// an invalid file keeps the current configuration
	writeFile(t, path, "policy:\n  maxDuration: 0s\n")
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, []string{"vimeo"}, h.Get().Policy.TrustedExtractors)
	assert.Equal(t, 2, sink.count())
}

func TestConfigHolder_Watcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "policy:\n  trustedExtractors: [youtube]\n")

	loader := newTestLoader(t, path, map[string]string{"SAMPLR_DATA_DIR": dir})
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewConfigHolder(initial, loader)
	h.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	writeFile(t, path, "policy:\n  trustedExtractors: [bandcamp]\n")
	require.Eventually(t, func() bool {
		got := h.Get().Policy.TrustedExtractors
		return len(got) == 1 && got[0] == "bandcamp"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConfigHolder_WatcherWithoutFile(t *testing.T) {
	h := NewConfigHolder(Defaults(), NewLoader("", "test"))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
