// Package metrics exposes the Prometheus registry and the HTTP handler
// for mdfetch metrics. The metrics themselves are defined in their
// packages (scheduler, pacing, ratelimit, store) to keep those packages
// free of a shared dependency.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry. All metrics are
// registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Scheduler Metrics (pkg/scheduler):
//   - mdsched_requests_submitted_total (Counter): Submissions, resubmissions included
//   - mdsched_requests_resolved_total{outcome} (Counter): Resolved requests by outcome
//     (completed, skipped, unexpected, submit_failed)
//   - mdsched_provider_errors_total{class} (Counter): Error callbacks by error class
//   - mdsched_inflight_requests (Gauge): Requests submitted but not yet resolved
//   - mdsched_records_received_total (Counter): Payloads recorded in the result sink
//   - mdsched_stale_callbacks_total{callback} (Counter): Dropped stale callbacks
//   - mdsched_batch_duration_seconds (Histogram): Batch wall time
//
// Retry Metrics (pkg/pacing):
//   - mdsched_retries_total{error_class} (Counter): Resubmissions by error class
//   - mdsched_retry_backoff_seconds (Histogram): Backoff waits
//   - mdsched_retry_exhausted_total{error_class} (Counter): Requests that ran out of retries
//
// Submission Throttle Metrics (pkg/ratelimit):
//   - mdsched_submit_throttles_total (Counter): Submissions delayed by the limiter
//   - mdsched_submit_throttle_wait_seconds (Histogram): Time spent waiting for the limiter
//
// Store Metrics (pkg/store):
//   - mdsched_store_writes_total{kind} (Counter): Fields written (bar, quote)
//   - mdsched_store_errors_total{operation} (Counter): Failed store operations
//
// Example Prometheus Queries:
//
//   # Skip Rate
//   sum(rate(mdsched_requests_resolved_total{outcome!="completed"}[1h])) /
//   sum(rate(mdsched_requests_resolved_total[1h]))
//
//   # Pacing Pressure
//   rate(mdsched_provider_errors_total{class="transient"}[15m])
//
//   # Stuck Batch
//   mdsched_inflight_requests > 0 and rate(mdsched_records_received_total[10m]) == 0
