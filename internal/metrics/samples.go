// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestTotal counts ingestion requests by source and outcome.
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_ingest_total",
		Help: "Ingestion requests by source and outcome",
	}, []string{"source", "outcome"}) // source=upload|url outcome=accepted|rejected|unavailable|error

	// StateTransitionsTotal counts sample processing state transitions.
	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_state_transitions_total",
		Help: "Sample processing state transitions",
	}, []string{"from", "to"})

	// InvariantViolationsTotal counts publish-time artifact inconsistencies.
	InvariantViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samplr_invariant_violations_total",
		Help: "Publish links that found missing artifacts",
	})

	thumbnailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_thumbnails_total",
		Help: "Remote thumbnail fetches by outcome",
	}, []string{"outcome"}) // outcome=stored|failed

	configReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_config_reloads_total",
		Help: "Configuration reload attempts by result",
	}, []string{"result"})
)

// IncIngest records an ingestion outcome.
func IncIngest(source, outcome string) { IngestTotal.WithLabelValues(source, outcome).Inc() }

// IncStateTransition records a successful state transition.
func IncStateTransition(from, to string) { StateTransitionsTotal.WithLabelValues(from, to).Inc() }

// IncInvariantViolation records a publish-time artifact inconsistency.
func IncInvariantViolation() { InvariantViolationsTotal.Inc() }

// IncThumbnail records a thumbnail fetch outcome.
func IncThumbnail(outcome string) { thumbnailsTotal.WithLabelValues(outcome).Inc() }

// IncConfigReload records a config reload attempt.
func IncConfigReload(result string) { configReloadsTotal.WithLabelValues(result).Inc() }
