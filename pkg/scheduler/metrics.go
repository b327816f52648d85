package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for scheduler operations.
var (
	requestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdsched_requests_submitted_total",
		Help: "Total provider submissions, resubmissions included",
	})

	requestsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsched_requests_resolved_total",
		Help: "Total resolved requests by outcome",
	}, []string{"outcome"}) // "completed", "skipped", "unexpected", "submit_failed"

	providerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsched_provider_errors_total",
		Help: "Total provider error callbacks by error class",
	}, []string{"class"})

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mdsched_inflight_requests",
		Help: "Requests submitted but not yet resolved",
	})

	recordsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdsched_records_received_total",
		Help: "Total data payloads recorded in the result sink",
	})

	staleCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsched_stale_callbacks_total",
		Help: "Callbacks dropped because their request or state was no longer active",
	}, []string{"callback"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mdsched_batch_duration_seconds",
		Help:    "Wall time of a batch run from connect to drain",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	})
)
