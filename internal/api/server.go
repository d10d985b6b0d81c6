// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the caller-facing HTTP surface: the two ingestion entry
// points, sample reads, health and metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/samplr/internal/api/middleware"
	xglog "github.com/ManuGH/samplr/internal/log"
	"github.com/ManuGH/samplr/internal/pipeline"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HeaderOwnerID names the owner of ingested samples.
const HeaderOwnerID = "X-Owner-ID"

// Samples is the ingestion and read service behind the routes.
type Samples interface {
	IngestUpload(ctx context.Context, req pipeline.UploadRequest) (*sample.Sample, error)
	IngestURL(ctx context.Context, req pipeline.URLRequest) (*sample.Sample, error)
	Get(ctx context.Context, id string) (*sample.Sample, error)
}

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// Config configures the HTTP surface.
type Config struct {
	// MaxUploadBytes bounds the multipart body; the pipeline enforces the
	// exact audio size.
	MaxUploadBytes int64
	// IngestRatePerMinute limits ingestion per client IP. Zero disables it.
	IngestRatePerMinute int
	// TracingService enables otelhttp instrumentation when set.
	TracingService string
	HealthTimeout  time.Duration
}

// Server routes requests to the sample service.
type Server struct {
	cfg     Config
	samples Samples
	checks  map[string]HealthCheck
	router  chi.Router
	logger  zerolog.Logger
}

// New builds the router.
func New(cfg Config, samples Samples, checks map[string]HealthCheck) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = pipeline.DefaultUploadPolicy().MaxBytes
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		samples: samples,
		checks:  checks,
		logger:  xglog.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/samples", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.IngestRateLimit(s.cfg.IngestRatePerMinute))
			r.Use(requireOwner)
			r.Post("/", s.handleUpload)
			r.Post("/url", s.handleURL)
		})
		r.Get("/{id}", s.handleGet)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
