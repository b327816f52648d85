// Package scheduler drives a batch of market-data requests over one
// persistent provider connection, keeping a bounded number in flight
// and resolving each request through the pacing policy.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/logging"
	"github.com/portfolio-ledger/mdscheduler/pkg/pacing"
	"github.com/portfolio-ledger/mdscheduler/pkg/ratelimit"
	"github.com/portfolio-ledger/mdscheduler/pkg/sink"
	"github.com/portfolio-ledger/mdscheduler/pkg/window"
	"github.com/rs/zerolog"
)

// Scheduler is the handler a Connection drives. All callbacks are
// serialized by one mutex, so the handler is safe to use from any
// provider goroutine.
//
// A transient error holds the mutex for the whole retry delay. No other
// callback is processed during the backoff.
type Scheduler struct {
	config  Config
	catalog *catalog.Catalog
	conn    Connection
	policy  pacing.Policy
	limiter *ratelimit.Limiter
	wait    pacing.WaitFunc
	now     func() time.Time
	logger  zerolog.Logger

	mu      sync.Mutex
	state   State
	running bool
	ctx     context.Context
	window  *window.Window
	retries *pacing.RetryCounter
	sink    *sink.Sink
	summary *Summary
	done    chan struct{} // closed once the batch drained and disconnected
	lost    chan struct{} // closed when the connection closed early
	ended   bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithWaitFunc replaces the retry backoff wait. Tests pass a no-op.
func WithWaitFunc(w pacing.WaitFunc) Option {
	return func(s *Scheduler) { s.wait = w }
}

// WithClock replaces time.Now for sink timestamps and batch timing.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithPolicy overrides the policy derived from the configuration.
func WithPolicy(p pacing.Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// New creates a scheduler for one catalog and connection.
func New(cfg Config, cat *catalog.Catalog, conn Connection, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}

	w, err := window.New(cfg.Capacity, cat.Len())
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}

	s := &Scheduler{
		config:  cfg,
		catalog: cat,
		conn:    conn,
		policy:  cfg.Policy(),
		wait:    pacing.Wait,
		now:     time.Now,
		logger:  logging.NewLogger("scheduler"),
		state:   StateDisconnected,
		window:  w,
		retries: pacing.NewRetryCounter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sink = sink.New(s.now)
	s.limiter = ratelimit.NewLimiter(cfg.SubmitInterval, s.logger)

	return s, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run connects, drives the batch to completion and returns its summary.
//
// Run returns an error wrapping ErrConnect when the connection cannot be
// opened, and ErrConnectionLost with a partial summary when the
// connection closes early. Cancelling ctx disconnects and returns the
// partial summary with ctx's error.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.reset(ctx)
	done, lost := s.done, s.lost
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	s.logger.Info().
		Int("items", s.catalog.Len()).
		Int("capacity", s.config.Capacity).
		Str("mode", string(s.config.Mode)).
		Msg("Connecting to provider")

	if err := s.conn.Connect(ctx, s); err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.ended = true
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("Connect failed")
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	var runErr error
	select {
	case <-done:
	case <-lost:
		runErr = ErrConnectionLost
	case <-ctx.Done():
		runErr = ctx.Err()
		s.abort()
	}

	s.mu.Lock()
	sum := s.finalize(start)
	s.mu.Unlock()

	batchDuration.Observe(sum.Elapsed.Seconds())
	event := s.logger.Info()
	if runErr != nil {
		event = s.logger.Warn().Err(runErr).Ints("pending", indexInts(sum.Pending))
	}
	event.
		Int("total", sum.Total).
		Int("completed", len(sum.Completed)).
		Int("skipped", len(sum.Skipped)).
		Int("retries", sum.Retries).
		Int("records", len(sum.Records)).
		Dur("elapsed", sum.Elapsed).
		Msg("Batch finished")

	return sum, runErr
}

// reset prepares per-run state. Caller holds s.mu.
func (s *Scheduler) reset(ctx context.Context) {
	s.ctx = ctx
	s.state = StateConnecting
	s.window.Reset()
	s.retries.Reset()
	s.sink.Reset()
	s.summary = &Summary{Total: s.catalog.Len()}
	s.done = make(chan struct{})
	s.lost = make(chan struct{})
	s.ended = false
	inflightRequests.Set(0)
}

// finalize builds the run summary. Caller holds s.mu.
func (s *Scheduler) finalize(start time.Time) *Summary {
	sum := s.summary
	s.summary = nil // late callbacks must not touch the returned summary
	sum.Records = s.sink.Drain()
	sum.Drained = s.window.IsDrained()
	sum.Pending = s.window.InFlight()
	sum.Cursor = s.window.Cursor()
	sum.Elapsed = s.now().Sub(start)
	return sum
}

// abort disconnects after cancellation.
func (s *Scheduler) abort() {
	s.mu.Lock()
	already := s.ended
	s.ended = true
	s.state = StateDisconnected
	s.mu.Unlock()
	if already {
		return
	}
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Warn().Err(err).Msg("Disconnect after cancellation failed")
	}
}

// OnReady starts the first submissions.
func (s *Scheduler) OnReady() {
	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.state = StateReady
		s.logger.Info().Msg("Connection ready, starting requests")
	case StateReady:
		// Repeated ready signal: top up only.
	default:
		s.stale("ready", catalog.ControlChannel)
		s.mu.Unlock()
		return
	}
	s.fill()
	drained := s.checkDrained()
	s.mu.Unlock()

	if drained {
		s.finish()
	}
}

// OnData records a payload for an in-flight request.
func (s *Scheduler) OnData(id catalog.RequestIndex, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady || !s.window.Contains(id) {
		s.stale("data", id)
		return
	}
	s.sink.Record(id, payload)
	recordsReceived.Inc()
}

// OnItemComplete resolves a request as completed and backfills.
func (s *Scheduler) OnItemComplete(id catalog.RequestIndex) {
	s.mu.Lock()
	if s.state != StateReady || !s.window.Contains(id) {
		s.stale("item_complete", id)
		s.mu.Unlock()
		return
	}

	s.logger.Debug().Int(logging.FieldReqID, int(id)).Msg("Request complete")
	s.summary.Completed = append(s.summary.Completed, id)
	requestsResolved.WithLabelValues("completed").Inc()
	drained := s.resolve(id)
	s.mu.Unlock()

	if drained {
		s.finish()
	}
}

// OnError classifies a provider error and acts on it.
func (s *Scheduler) OnError(id catalog.RequestIndex, code int, message string) {
	s.mu.Lock()
	if s.state != StateConnecting && s.state != StateReady {
		s.stale("error", id)
		s.mu.Unlock()
		return
	}

	d := s.policy.Classify(code, id, s.retries.Attempts(id))
	providerErrors.WithLabelValues(string(d.Class)).Inc()

	logger := s.logger.With().
		Int(logging.FieldReqID, int(id)).
		Int(logging.FieldCode, code).
		Str(logging.FieldErrorClass, string(d.Class)).
		Str("action", d.Action.String()).
		Logger()

	perr := &pacing.ProviderError{Index: id, Code: code, Class: d.Class, Message: message}

	if d.Action == pacing.IgnoreInformational {
		if s.policy.IsKnownInformational(code) {
			logger.Debug().Err(perr).Msg("Provider notice")
		} else {
			logger.Warn().Err(perr).Msg("Unrecognised control channel notice")
		}
		s.mu.Unlock()
		return
	}

	if s.state != StateReady || !s.window.Contains(id) {
		s.stale("error", id)
		s.mu.Unlock()
		return
	}

	var drained bool
	switch {
	case d.Action == pacing.RetryAfterDelay:
		drained = s.retry(logger, perr, d)
	case d.Action.Resolves():
		reason := ReasonPermanent
		outcome := "skipped"
		switch {
		case d.Exhausted:
			reason = ReasonRetryExhausted
			s.retries.Exhausted(d.Class)
		case d.Action == pacing.SkipBatchItemAsUnexpected:
			reason = ReasonUnexpected
			outcome = "unexpected"
		}
		event := logger.Warn()
		if reason == ReasonUnexpected {
			event = logger.Error()
		}
		event.Err(perr).Str("reason", reason).Msg("Skipping request")
		drained = s.skip(id, code, d.Class, reason, message, outcome)
	}
	s.mu.Unlock()

	if drained {
		s.finish()
	}
}

// OnConnectionClosed ends the run. Before the batch drained this is a
// lost connection.
func (s *Scheduler) OnConnectionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended || s.state == StateDraining {
		s.logger.Info().Msg("Connection closed")
		return
	}
	s.logger.Error().
		Str("state", s.state.String()).
		Int("inflight", s.window.Len()).
		Int("cursor", s.window.Cursor()).
		Msg("Connection closed before batch drained")
	s.state = StateDisconnected
	s.ended = true
	if s.lost != nil {
		close(s.lost)
	}
}

// retry backs off and resubmits the same request. Caller holds s.mu.
func (s *Scheduler) retry(logger zerolog.Logger, perr *pacing.ProviderError, d pacing.Decision) bool {
	id := perr.Index
	attempt := s.retries.Increment(id, d.Class)
	s.summary.Retries++
	logger.Warn().
		Err(perr).
		Int("attempt", attempt).
		Dur("delay", d.Delay).
		Msg("Pacing error, backing off before resubmitting")

	if err := s.wait(s.ctx, d.Delay); err != nil {
		logger.Warn().Err(err).Msg("Backoff interrupted")
		return s.skip(id, perr.Code, d.Class, ReasonRetryCancelled, err.Error(), "skipped")
	}

	if s.state != StateReady {
		return false
	}
	if err := s.submit(id); err != nil {
		return s.resolve(id)
	}
	return false
}

// skip records a skipped request and resolves it. Caller holds s.mu.
func (s *Scheduler) skip(id catalog.RequestIndex, code int, class pacing.ErrorClass, reason, message, outcome string) bool {
	key := ""
	if e, err := s.catalog.Get(id); err == nil {
		key = e.Descriptor.Key()
	}
	s.summary.Skipped = append(s.summary.Skipped, Skip{
		Index:   id,
		Key:     key,
		Code:    code,
		Class:   class,
		Reason:  reason,
		Message: message,
	})
	requestsResolved.WithLabelValues(outcome).Inc()
	return s.resolve(id)
}

// resolve releases a request, backfills the window and reports whether
// the batch drained. Caller holds s.mu.
func (s *Scheduler) resolve(id catalog.RequestIndex) bool {
	s.retries.Clear(id)
	if !s.window.Release(id) {
		return false
	}
	s.fill()
	return s.checkDrained()
}

// fill submits admitted requests until the window is full or the
// catalog is exhausted. A failed submission is resolved as skipped and
// its slot refilled. Nothing is submitted once the run context is done.
// Caller holds s.mu.
func (s *Scheduler) fill() {
	defer func() { inflightRequests.Set(float64(s.window.Len())) }()
	if s.ctx != nil && s.ctx.Err() != nil {
		return
	}
	for {
		admitted := s.window.AdmitMore(s.state == StateReady)
		if len(admitted) == 0 {
			break
		}
		for _, id := range admitted {
			if err := s.submit(id); err != nil {
				s.retries.Clear(id)
				s.window.Release(id)
			}
		}
	}
}

// submit sends one request. A failure is recorded as a skip. Caller
// holds s.mu.
func (s *Scheduler) submit(id catalog.RequestIndex) error {
	entry, err := s.catalog.Get(id)
	if err == nil {
		err = s.limiter.Wait(s.ctx)
	}
	if err == nil {
		err = s.conn.Submit(id, entry.Descriptor, s.config.windowFor(entry.Descriptor))
	}
	if err != nil {
		s.logger.Error().Err(err).Int(logging.FieldReqID, int(id)).Msg("Submit failed")
		key := ""
		if entry.Descriptor.Symbol != "" {
			key = entry.Descriptor.Key()
		}
		s.summary.Skipped = append(s.summary.Skipped, Skip{
			Index:   id,
			Key:     key,
			Reason:  ReasonSubmitFailed,
			Message: err.Error(),
		})
		requestsResolved.WithLabelValues(ReasonSubmitFailed).Inc()
		return err
	}

	s.summary.Submissions++
	requestsSubmitted.Inc()
	s.logger.Debug().
		Int(logging.FieldReqID, int(id)).
		Str(logging.FieldSymbol, entry.Descriptor.Symbol).
		Int("inflight", s.window.Len()).
		Int("cursor", s.window.Cursor()).
		Msg("Submitted request")
	return nil
}

// checkDrained moves Ready to Draining once nothing is left. Caller
// holds s.mu.
func (s *Scheduler) checkDrained() bool {
	if s.state != StateReady || !s.window.IsDrained() {
		return false
	}
	s.state = StateDraining
	s.logger.Info().Int("resolved", s.summary.Resolved()).Msg("Batch drained, disconnecting")
	return true
}

// finish disconnects after the batch drained. Called without s.mu.
func (s *Scheduler) finish() {
	if err := s.conn.Disconnect(); err != nil {
		s.logger.Warn().Err(err).Msg("Disconnect failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	if !s.ended {
		s.ended = true
		close(s.done)
	}
}

// stale counts a callback that no longer matches any active request.
// Caller holds s.mu.
func (s *Scheduler) stale(callback string, id catalog.RequestIndex) {
	staleCallbacks.WithLabelValues(callback).Inc()
	if s.summary != nil {
		s.summary.StaleCallbacks++
	}
	s.logger.Debug().
		Str("callback", callback).
		Int(logging.FieldReqID, int(id)).
		Str("state", s.state.String()).
		Msg("Dropping stale callback")
}

func indexInts(ids []catalog.RequestIndex) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
