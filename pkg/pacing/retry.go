package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsched_retries_total",
		Help: "Total number of request resubmissions by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mdsched_retry_backoff_seconds",
		Help:    "Backoff waited before a resubmission",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60},
	})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdsched_retry_exhausted_total",
		Help: "Total number of requests skipped after exhausting the retry budget",
	}, []string{"error_class"})
)

// RetryCounter records how many retries each request has consumed.
// Entries are removed when the request resolves.
type RetryCounter struct {
	attempts map[catalog.RequestIndex]int
}

// NewRetryCounter returns an empty counter.
func NewRetryCounter() *RetryCounter {
	return &RetryCounter{attempts: make(map[catalog.RequestIndex]int)}
}

// Attempts returns the retries consumed by index.
func (r *RetryCounter) Attempts(index catalog.RequestIndex) int {
	return r.attempts[index]
}

// Increment records one more retry for index and returns the new count.
func (r *RetryCounter) Increment(index catalog.RequestIndex, class ErrorClass) int {
	r.attempts[index]++
	retriesTotal.WithLabelValues(string(class)).Inc()
	return r.attempts[index]
}

// Exhausted records that index was skipped with no budget left.
func (r *RetryCounter) Exhausted(class ErrorClass) {
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
}

// Clear forgets index.
func (r *RetryCounter) Clear(index catalog.RequestIndex) {
	delete(r.attempts, index)
}

// Reset forgets every request.
func (r *RetryCounter) Reset() {
	r.attempts = make(map[catalog.RequestIndex]int)
}

// WaitFunc blocks for a backoff duration.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Wait blocks for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	retryBackoffSeconds.Observe(d.Seconds())
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
