// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolInvocationsTotal counts external tool runs by binary and outcome.
	ToolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_tool_invocations_total",
		Help: "External tool invocations by binary and outcome",
	}, []string{"binary", "outcome"}) // outcome=ok|exit_nonzero|timeout|start_failed|canceled

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "samplr_tool_duration_seconds",
		Help:    "Wall-clock duration of external tool invocations",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"binary"})

	// ProbeCacheTotal counts probe cache lookups.
	ProbeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_probe_cache_total",
		Help: "Probe result cache lookups by result",
	}, []string{"result"}) // result=hit|miss|shared
)

// ObserveTool records a finished external tool invocation.
func ObserveTool(binary, outcome string, d time.Duration) {
	if binary == "" {
		binary = "unknown"
	}
	ToolInvocationsTotal.WithLabelValues(binary, outcome).Inc()
	toolDuration.WithLabelValues(binary).Observe(d.Seconds())
}

// IncProbeCache records a probe cache lookup.
func IncProbeCache(result string) { ProbeCacheTotal.WithLabelValues(result).Inc() }
