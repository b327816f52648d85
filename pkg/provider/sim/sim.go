// Package sim provides a scriptable in-process market-data provider.
//
// The provider implements scheduler.Connection and delivers every callback
// from its own event goroutine, the way a socket reader thread would. Each
// request index can be given a script of steps, one per submission, so
// tests can stage pacing errors, permanent failures and silent requests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/logging"
	"github.com/portfolio-ledger/mdscheduler/pkg/records"
	"github.com/portfolio-ledger/mdscheduler/pkg/scheduler"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNotConnected is returned by Submit before Connect or after Disconnect.
var ErrNotConnected = errors.New("sim provider not connected")

// Step is the scripted response to one submission of a request.
type Step struct {
	Bars  []records.Bar
	Ticks []records.Tick

	// ErrCode, when non-zero, is reported after any data instead of
	// completing the request.
	ErrCode    int
	ErrMessage string

	// Silent delivers nothing at all for the submission.
	Silent bool
}

// Notice is a control-channel message sent before the ready signal.
type Notice struct {
	Code    int
	Message string
}

// Submission records one Submit call.
type Submission struct {
	ID         catalog.RequestIndex
	Descriptor catalog.Descriptor
	Window     scheduler.Window
}

// DefaultNotices are the farm status messages a gateway sends on connect.
var DefaultNotices = []Notice{
	{Code: 2104, Message: "Market data farm connection is OK:usfarm"},
	{Code: 2106, Message: "HMDS data farm connection is OK:ushmds"},
	{Code: 2158, Message: "Sec-def data farm connection is OK:secdefil"},
}

// Provider is a simulated provider connection.
type Provider struct {
	logger     zerolog.Logger
	now        func() time.Time
	latency    time.Duration
	connectErr error
	notices    []Notice
	closeAfter int

	mu          sync.Mutex
	scripts     map[catalog.RequestIndex][]Step
	submitErrs  map[catalog.RequestIndex]error
	attempts    map[catalog.RequestIndex]int
	submissions []Submission
	active      map[catalog.RequestIndex]struct{}
	peak        int
	connected   bool
	dropping    bool
	queue       []func(scheduler.Handler)
	wake        chan struct{}
	stopped     chan struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithScript sets the steps for one request index. The n-th submission
// uses steps[n]; submissions past the end reuse the last step.
func WithScript(id catalog.RequestIndex, steps ...Step) Option {
	return func(p *Provider) { p.scripts[id] = steps }
}

// WithSubmitError makes Submit fail for one request index.
func WithSubmitError(id catalog.RequestIndex, err error) Option {
	return func(p *Provider) { p.submitErrs[id] = err }
}

// WithConnectError makes Connect fail.
func WithConnectError(err error) Option {
	return func(p *Provider) { p.connectErr = err }
}

// WithNotices replaces the control-channel notices sent on connect.
func WithNotices(n ...Notice) Option {
	return func(p *Provider) { p.notices = n }
}

// WithLatency delays every delivered callback.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithCloseAfter drops the connection in place of answering the n-th
// submission.
func WithCloseAfter(n int) Option {
	return func(p *Provider) { p.closeAfter = n }
}

// WithClock sets the clock used for synthetic bar dates.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a simulated provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		logger:     logging.NewLogger("sim"),
		now:        time.Now,
		notices:    DefaultNotices,
		scripts:    make(map[catalog.RequestIndex][]Step),
		submitErrs: make(map[catalog.RequestIndex]error),
		attempts:   make(map[catalog.RequestIndex]int),
		active:     make(map[catalog.RequestIndex]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect starts the event goroutine, then queues the connect notices and
// the ready signal.
func (p *Provider) Connect(ctx context.Context, h scheduler.Handler) error {
	if p.connectErr != nil {
		return p.connectErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The previous connection's events must be fully delivered first.
	p.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return fmt.Errorf("sim provider already connected")
	}
	p.connected = true
	p.dropping = false
	p.queue = nil
	p.attempts = make(map[catalog.RequestIndex]int)
	p.submissions = nil
	p.active = make(map[catalog.RequestIndex]struct{})
	p.peak = 0
	p.wake = make(chan struct{}, 1)
	p.stopped = make(chan struct{})

	for _, n := range p.notices {
		n := n
		p.enqueue(func(h scheduler.Handler) { h.OnError(catalog.ControlChannel, n.Code, n.Message) })
	}
	p.enqueue(func(h scheduler.Handler) { h.OnReady() })

	go p.loop(h, p.wake, p.stopped)
	p.logger.Debug().Msg("Simulated connection open")
	return nil
}

// Submit queues the scripted response for one request.
func (p *Provider) Submit(id catalog.RequestIndex, d catalog.Descriptor, w scheduler.Window) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dropping {
		return nil
	}
	if !p.connected {
		return ErrNotConnected
	}
	if err := p.submitErrs[id]; err != nil {
		return err
	}

	attempt := p.attempts[id]
	p.attempts[id] = attempt + 1
	p.submissions = append(p.submissions, Submission{ID: id, Descriptor: d, Window: w})
	p.active[id] = struct{}{}
	if len(p.active) > p.peak {
		p.peak = len(p.active)
	}

	if p.closeAfter > 0 && len(p.submissions) >= p.closeAfter {
		// Later writes are swallowed by the dying socket.
		p.dropping = true
		p.closeLocked()
		return nil
	}

	step := p.stepFor(id, attempt, d, w)
	if step.Silent {
		return nil
	}
	for _, bar := range step.Bars {
		bar := bar
		p.enqueue(func(h scheduler.Handler) { h.OnData(id, bar) })
	}
	for _, tick := range step.Ticks {
		tick := tick
		p.enqueue(func(h scheduler.Handler) { h.OnData(id, tick) })
	}
	if step.ErrCode != 0 {
		code, msg := step.ErrCode, step.ErrMessage
		p.enqueue(func(h scheduler.Handler) {
			p.deactivate(id)
			h.OnError(id, code, msg)
		})
		return nil
	}
	p.enqueue(func(h scheduler.Handler) {
		p.deactivate(id)
		h.OnItemComplete(id)
	})
	return nil
}

// Disconnect queues the close callback and stops the event goroutine
// once it has been delivered.
func (p *Provider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.closeLocked()
	return nil
}

// Wait blocks until the event goroutine has stopped.
func (p *Provider) Wait() {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
}

// Submissions returns every Submit call in order.
func (p *Provider) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Submission, len(p.submissions))
	copy(out, p.submissions)
	return out
}

// SubmittedIDs returns the submitted ids in order.
func (p *Provider) SubmittedIDs() []catalog.RequestIndex {
	subs := p.Submissions()
	out := make([]catalog.RequestIndex, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}

// PeakOutstanding returns the largest number of submitted requests that
// had not yet received their final callback.
func (p *Provider) PeakOutstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Connected reports whether the connection is open.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Provider) stepFor(id catalog.RequestIndex, attempt int, d catalog.Descriptor, w scheduler.Window) Step {
	steps, ok := p.scripts[id]
	if !ok || len(steps) == 0 {
		return SyntheticStep(int(id), d, w, p.now())
	}
	if attempt >= len(steps) {
		attempt = len(steps) - 1
	}
	return steps[attempt]
}

func (p *Provider) deactivate(id catalog.RequestIndex) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

// closeLocked marks the connection closed and queues the close
// callback. Caller holds p.mu.
func (p *Provider) closeLocked() {
	p.connected = false
	p.enqueue(func(h scheduler.Handler) { h.OnConnectionClosed() })
	p.enqueue(nil)
}

// enqueue appends one event; a nil event stops the loop. Caller holds p.mu.
func (p *Provider) enqueue(ev func(scheduler.Handler)) {
	p.queue = append(p.queue, ev)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Provider) loop(h scheduler.Handler, wake <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			<-wake
			continue
		}
		ev := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if ev == nil {
			p.logger.Debug().Msg("Simulated connection closed")
			return
		}
		if p.latency > 0 {
			time.Sleep(p.latency)
		}
		ev(h)
	}
}

// SyntheticStep generates a plausible response for a request without a
// script: flat-ish daily bars over the lookback, or a full tick set for a
// snapshot.
func SyntheticStep(seed int, d catalog.Descriptor, w scheduler.Window, now time.Time) Step {
	base := decimal.NewFromInt(int64(100 + 7*seed))
	if w.Snapshot {
		spread := decimal.RequireFromString("0.05")
		return Step{Ticks: []records.Tick{
			{Type: records.TickBid, Price: base.Sub(spread)},
			{Type: records.TickAsk, Price: base.Add(spread)},
			{Type: records.TickLast, Price: base},
			{Type: records.TickClose, Price: base.Sub(decimal.NewFromInt(1))},
		}}
	}

	days := lookbackDays(w.Lookback)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var bars []records.Bar
	for len(bars) < days {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			step := decimal.NewFromInt(int64(len(bars)))
			open := base.Add(step)
			bar := records.Bar{
				Date:   day,
				Open:   open,
				High:   open.Add(decimal.NewFromInt(2)),
				Low:    open.Sub(decimal.NewFromInt(1)),
				Close:  open.Add(decimal.NewFromInt(1)),
				Volume: decimal.NewFromInt(int64(1000 * (seed + 1))),
			}
			if d.Kind != catalog.KindIndex {
				wap := open.Add(decimal.RequireFromString("0.5"))
				bar.WAP = &wap
			}
			bars = append([]records.Bar{bar}, bars...)
		}
		day = day.AddDate(0, 0, -1)
	}
	return Step{Bars: bars}
}

// lookbackDays reads the day count from "N D"; other units count as one
// bar per unit.
func lookbackDays(lookback string) int {
	fields := strings.Fields(lookback)
	if len(fields) == 0 {
		return 1
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
