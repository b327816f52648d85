// Package ratelimit spaces out request submissions to the provider.
// The provider enforces undocumented pacing limits; a minimum interval
// between submissions keeps snapshot bursts below them.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for submission throttling.
var (
	throttlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdsched_submit_throttles_total",
		Help: "Total number of submissions delayed by the submission limiter",
	})

	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mdsched_submit_throttle_wait_seconds",
		Help:    "Time submissions waited for the submission limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})
)

// Limiter enforces a minimum interval between submissions.
// A zero interval disables it.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration
	logger   zerolog.Logger
}

// NewLimiter creates a limiter allowing one submission per interval.
func NewLimiter(interval time.Duration, logger zerolog.Logger) *Limiter {
	l := &Limiter{
		interval: interval,
		logger:   logger,
	}
	if interval > 0 {
		l.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return l
}

// Enabled reports whether the limiter delays anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Interval returns the configured minimum spacing.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}

// Wait blocks until the next submission is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("submission limiter: %w", err)
	}

	waited := time.Since(start)
	throttleWaitSeconds.Observe(waited.Seconds())
	if waited > time.Millisecond {
		throttlesTotal.Inc()
		l.logger.Debug().
			Dur("waited", waited).
			Dur("interval", l.interval).
			Msg("Submission throttled")
	}
	return nil
}
