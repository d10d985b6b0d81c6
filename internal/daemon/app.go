// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/samplr/internal/config"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// App owns the long-lived goroutines: the server manager, the config file
// watcher and the reload signal handler.
type App struct {
	logger       zerolog.Logger
	manager      *Manager
	cfgHolder    *config.ConfigHolder
	reloadSignal os.Signal
}

// NewApp creates an App. cfgHolder may be nil.
func NewApp(manager *Manager, cfgHolder *config.ConfigHolder) *App {
	return &App{
		logger:       xglog.WithComponent("daemon"),
		manager:      manager,
		cfgHolder:    cfgHolder,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingRuntime
	}
	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		a.cfgHolder.BindPolicy(a.manager.rt.Validator)
		// a missing watcher only disables automatic reload
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("config watcher not started")
		}
	}

	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, a.reloadSignal)
			defer signal.Stop(hup)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hup:
					a.logger.Info().
						Str(xglog.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal")
					// failures are logged by the holder
					_ = a.cfgHolder.Reload(ctx)
				}
			}
		})
	}

	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
