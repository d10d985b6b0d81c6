// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/metadata"
	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// PolicySetter receives hot-applied metadata policies.
type PolicySetter interface {
	SetPolicy(metadata.Policy)
}

// ConfigHolder holds the current configuration and reloads it from file on
// change or on demand.
type ConfigHolder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	// reloads are serialized
	reloadMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
	policies    []PolicySetter

	debounce time.Duration
}

// NewConfigHolder creates a holder with an already validated initial config.
func NewConfigHolder(initial AppConfig, loader *Loader) *ConfigHolder {
	return &ConfigHolder{
		current:  initial,
		loader:   loader,
		logger:   xglog.WithComponent("config"),
		debounce: 500 * time.Millisecond,
	}
}

// Get returns the current configuration.
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// BindPolicy registers p to receive the policy section on every successful
// reload. p is brought up to date immediately.
func (h *ConfigHolder) BindPolicy(p PolicySetter) {
	h.listenersMu.Lock()
	h.policies = append(h.policies, p)
	h.listenersMu.Unlock()
	p.SetPolicy(h.Get().MetadataPolicy())
}

// RegisterListener registers a channel that receives each reloaded config.
// Sends never block; a full channel misses the notification.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload loads and validates the file again. On failure the current
// configuration is kept.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.logger.Info().Str(xglog.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		metrics.IncConfigReload("failure")
		h.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.reload_failed").
			Msg("new configuration rejected, keeping the current one")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	h.notify(next)
	h.logChanges(prev, next)
	metrics.IncConfigReload("success")
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

func (h *ConfigHolder) notify(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()

	pol := cfg.MetadataPolicy()
	for _, p := range h.policies {
		p.SetPolicy(pol)
	}
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(xglog.FieldEvent, "config.listener_skip").Msg("listener channel full")
		}
	}
}

// logChanges reports applied policy changes and warns about sections that
// only take effect after a restart.
func (h *ConfigHolder) logChanges(prev, next AppConfig) {
	if !reflect.DeepEqual(prev.Policy, next.Policy) {
		h.logger.Info().
			Strs("trusted_extractors", next.Policy.TrustedExtractors).
			Dur("min_duration", next.Policy.MinDuration).
			Dur("max_duration", next.Policy.MaxDuration).
			Msg("config changed: policy applied")
	}

	restart := map[string]bool{
		"server":    !reflect.DeepEqual(prev.Server, next.Server),
		"storage":   prev.Storage != next.Storage,
		"database":  prev.Database != next.Database,
		"queue":     prev.Queue != next.Queue,
		"tools":     prev.Tools != next.Tools,
		"upload":    !reflect.DeepEqual(prev.Upload, next.Upload),
		"cache":     prev.Cache != next.Cache,
		"telemetry": prev.Telemetry != next.Telemetry,
		"log":       prev.Log != next.Log,
	}
	for section, changed := range restart {
		if changed {
			h.logger.Warn().
				Str(xglog.FieldEvent, "config.restart_required").
				Str("section", section).
				Msg("config changed: restart required to apply")
		}
	}
}

// StartWatcher watches the config file until ctx ends. Without a config file
// it does nothing.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(xglog.FieldEvent, "config.watcher_disabled").
			Msg("no config file, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// editors replace the file, so the directory is watched
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().
		Str(xglog.FieldEvent, "config.watcher_started").
		Str(xglog.FieldPath, path).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher, filepath.Clean(path))
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(xglog.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str(xglog.FieldEvent, "config.file_changed").
				Str("op", ev.Op.String()).
				Msg("config file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(h.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				_ = h.Reload(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(xglog.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop closes the watcher if it is running.
func (h *ConfigHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
