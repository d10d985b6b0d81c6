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
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "samplr_queue_depth",
		Help: "Jobs waiting for a worker",
	})

	workersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "samplr_queue_workers_busy",
		Help: "Workers currently executing a job",
	})

	// JobsTotal counts executed chain links by kind and result.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_jobs_total",
		Help: "Executed chain links by kind and result",
	}, []string{"kind", "result"}) // result=success|failure|discarded

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "samplr_job_duration_seconds",
		Help:    "Chain link execution time",
		Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 180, 600},
	}, []string{"kind"})

	// ChainsTotal counts chains by terminal outcome.
	ChainsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_chains_total",
		Help: "Chains by terminal outcome",
	}, []string{"outcome"}) // outcome=completed|failed|abandoned

	// QueueRejectionsTotal counts chain submissions refused by the scheduler.
	QueueRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "samplr_queue_rejections_total",
		Help: "Chain submissions refused by the scheduler",
	}, []string{"reason"}) // reason=full|stopped
)

// SetQueueDepth publishes the number of queued jobs.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// AddWorkersBusy adjusts the busy worker gauge.
func AddWorkersBusy(delta int) { workersBusy.Add(float64(delta)) }

// ObserveJob records one executed link.
func ObserveJob(kind, result string, d time.Duration) {
	JobsTotal.WithLabelValues(kind, result).Inc()
	jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncChain records a chain reaching a terminal outcome.
func IncChain(outcome string) { ChainsTotal.WithLabelValues(outcome).Inc() }

// IncQueueRejection records a refused submission.
func IncQueueRejection(reason string) { QueueRejectionsTotal.WithLabelValues(reason).Inc() }
