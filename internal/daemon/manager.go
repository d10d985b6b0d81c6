// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/rs/zerolog"
)

var (
	// ErrMissingRuntime is returned when a manager is created without a runtime.
	ErrMissingRuntime = errors.New("runtime is required")
	// ErrManagerNotStarted is returned when shutting down a manager that never started.
	ErrManagerNotStarted = errors.New("manager not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("manager already started")
)

// Manager runs the HTTP server and the scheduler of a Runtime.
type Manager struct {
	rt     *Runtime
	server *http.Server
	logger zerolog.Logger

	// listener is used instead of ListenAddr when set
	listener net.Listener

	mu       sync.Mutex
	started  bool
	stopping bool
	ready    chan struct{}
	addr     net.Addr
}

// NewManager creates a Manager. ln may be nil.
func NewManager(rt *Runtime, ln net.Listener) (*Manager, error) {
	if rt == nil {
		return nil, ErrMissingRuntime
	}
	return &Manager{
		rt:       rt,
		listener: ln,
		logger:   xglog.WithComponent("manager"),
		ready:    make(chan struct{}),
	}, nil
}

// Ready is closed once the server is accepting connections.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Addr is the bound address; valid after Ready.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// Start resumes journaled chains, starts the scheduler and serves HTTP until
// ctx ends or the server fails, then shuts everything down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	cfg := m.rt.Config.Server
	m.rt.Scheduler.Start()
	n, err := m.rt.Scheduler.Recover(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str(xglog.FieldEvent, "queue.recover_failed").Msg("chain recovery failed")
	} else if n > 0 {
		m.logger.Info().Int("chains", n).Str(xglog.FieldEvent, "queue.recovered").Msg("resumed journaled chains")
	}

	ln := m.listener
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			m.shutdown(ctx)
			return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
		}
	}
	m.server = &http.Server{
		Handler:           m.rt.Handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout / 2,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	m.mu.Lock()
	m.addr = ln.Addr()
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Str(xglog.FieldEvent, "api.server.failed").Msg("API server failed")
			errCh <- fmt.Errorf("API server: %w", err)
		}
	}()
	close(m.ready)

	select {
	case err := <-errCh:
		return errors.Join(err, m.shutdown(ctx))
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		return m.shutdown(ctx)
	}
}

// shutdown stops intake first, then drains the scheduler, then closes the
// backends.
func (m *Manager) shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	timeout := m.rt.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := m.rt.Scheduler.Stop(sctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	if err := m.rt.Close(sctx); err != nil {
		errs = append(errs, err)
	}
	m.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}
