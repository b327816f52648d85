package scheduler_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/pacing"
	"github.com/portfolio-ledger/mdscheduler/pkg/provider/sim"
	"github.com/portfolio-ledger/mdscheduler/pkg/records"
	"github.com/portfolio-ledger/mdscheduler/pkg/scheduler"
	"github.com/portfolio-ledger/mdscheduler/pkg/sink"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newCatalog(symbols ...string) *catalog.Catalog {
	items := make([]catalog.Descriptor, len(symbols))
	for i, s := range symbols {
		items[i] = catalog.Descriptor{Symbol: s, Currency: "USD"}
	}
	return catalog.New(items)
}

// recordingWait replaces the retry backoff and records each delay.
type recordingWait struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordingWait) Wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.delays = append(w.delays, d)
	return nil
}

func (w *recordingWait) Delays() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

func newScheduler(t *testing.T, cfg scheduler.Config, cat *catalog.Catalog, conn scheduler.Connection, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	opts = append([]scheduler.Option{scheduler.WithLogger(zerolog.Nop())}, opts...)
	s, err := scheduler.New(cfg, cat, conn, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func runWithTimeout(t *testing.T, s *scheduler.Scheduler) (*scheduler.Summary, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sum, err := s.Run(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() did not finish before timeout")
	}
	return sum, err
}

func cfgWithCapacity(n int) scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.Capacity = n
	return cfg
}

func bar(close int64) records.Bar {
	c := decimal.NewFromInt(close)
	return records.Bar{
		Date:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:   c,
		High:   c,
		Low:    c,
		Close:  c,
		Volume: decimal.NewFromInt(10),
	}
}

func TestNew_Validation(t *testing.T) {
	cat := newCatalog("A")
	conn := sim.New()

	tests := []struct {
		name    string
		cfg     scheduler.Config
		cat     *catalog.Catalog
		conn    scheduler.Connection
		wantErr bool
	}{
		{"valid", scheduler.DefaultConfig(), cat, conn, false},
		{"zero capacity", cfgWithCapacity(0), cat, conn, true},
		{"nil catalog", scheduler.DefaultConfig(), nil, conn, true},
		{"nil connection", scheduler.DefaultConfig(), cat, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scheduler.New(tt.cfg, tt.cat, tt.conn)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_CompletesInOrderWithinCapacity(t *testing.T) {
	p := sim.New(
		sim.WithLatency(time.Millisecond),
		sim.WithScript(0, sim.Step{Bars: []records.Bar{bar(1), bar(2)}}),
		sim.WithScript(1, sim.Step{Bars: []records.Bar{bar(3)}}),
		sim.WithScript(2, sim.Step{Bars: []records.Bar{bar(4)}}),
		sim.WithScript(3, sim.Step{Bars: []records.Bar{bar(5)}}),
	)
	s := newScheduler(t, cfgWithCapacity(2), newCatalog("a", "b", "c", "d"), p)

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	want := []catalog.RequestIndex{0, 1, 2, 3}
	if got := p.SubmittedIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("SubmittedIDs() = %v, want %v", got, want)
	}
	if got := p.PeakOutstanding(); got > 2 {
		t.Errorf("PeakOutstanding() = %d, want <= 2", got)
	}
	if len(sum.Completed) != 4 || len(sum.Skipped) != 0 {
		t.Errorf("Completed = %v, Skipped = %v, want 4 completed", sum.Completed, sum.Skipped)
	}
	if !sum.Drained {
		t.Error("Drained = false, want true")
	}
	if sum.Submissions != 4 {
		t.Errorf("Submissions = %d, want 4", sum.Submissions)
	}
	if len(sum.Records) != 5 {
		t.Errorf("len(Records) = %d, want 5", len(sum.Records))
	}
	if got := sink.Indices(sum.Records); !reflect.DeepEqual(got, want) {
		t.Errorf("Indices(Records) = %v, want %v", got, want)
	}
	if s.State() != scheduler.StateDisconnected {
		t.Errorf("State() = %v, want %v", s.State(), scheduler.StateDisconnected)
	}
	if p.Connected() {
		t.Error("provider still connected after drain")
	}
}

func TestRun_PacingRetryThenSkip(t *testing.T) {
	wait := &recordingWait{}
	pacingErr := sim.Step{ErrCode: 162, ErrMessage: "Historical Market Data Service error message:API historical data query cancelled"}
	p := sim.New(sim.WithScript(1, pacingErr, pacingErr))
	s := newScheduler(t, cfgWithCapacity(1), newCatalog("a", "b", "c"), p,
		scheduler.WithWaitFunc(wait.Wait))

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	want := []catalog.RequestIndex{0, 1, 1, 2}
	if got := p.SubmittedIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("SubmittedIDs() = %v, want %v", got, want)
	}
	if got := wait.Delays(); !reflect.DeepEqual(got, []time.Duration{15 * time.Second}) {
		t.Errorf("backoff delays = %v, want [15s]", got)
	}
	if sum.Retries != 1 {
		t.Errorf("Retries = %d, want 1", sum.Retries)
	}
	if len(sum.Skipped) != 1 {
		t.Fatalf("Skipped = %v, want one skip", sum.Skipped)
	}
	sk := sum.Skipped[0]
	if sk.Index != 1 || sk.Reason != scheduler.ReasonRetryExhausted || sk.Code != 162 {
		t.Errorf("Skipped[0] = %+v, want index 1 retry_exhausted code 162", sk)
	}
	if !reflect.DeepEqual(sum.Completed, []catalog.RequestIndex{0, 2}) {
		t.Errorf("Completed = %v, want [0 2]", sum.Completed)
	}
}

func TestRun_PacingRetrySucceeds(t *testing.T) {
	wait := &recordingWait{}
	p := sim.New(sim.WithScript(0,
		sim.Step{ErrCode: 366, ErrMessage: "No historical data query found"},
		sim.Step{Bars: []records.Bar{bar(7)}},
	))
	s := newScheduler(t, cfgWithCapacity(3), newCatalog("a"), p, scheduler.WithWaitFunc(wait.Wait))

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	if !reflect.DeepEqual(sum.Completed, []catalog.RequestIndex{0}) {
		t.Errorf("Completed = %v, want [0]", sum.Completed)
	}
	if len(sum.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(sum.Records))
	}
	if got := len(wait.Delays()); got != 1 {
		t.Errorf("backoff count = %d, want 1", got)
	}
}

func TestRun_PermanentErrorSkipsWithoutRetry(t *testing.T) {
	wait := &recordingWait{}
	p := sim.New(sim.WithScript(2, sim.Step{ErrCode: 200, ErrMessage: "No security definition has been found for the request"}))
	s := newScheduler(t, cfgWithCapacity(2), newCatalog("a", "b", "c", "d"), p, scheduler.WithWaitFunc(wait.Wait))

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	if got := p.SubmittedIDs(); !reflect.DeepEqual(got, []catalog.RequestIndex{0, 1, 2, 3}) {
		t.Errorf("SubmittedIDs() = %v, want [0 1 2 3]", got)
	}
	if len(wait.Delays()) != 0 {
		t.Errorf("backoff delays = %v, want none", wait.Delays())
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0].Reason != scheduler.ReasonPermanent {
		t.Fatalf("Skipped = %+v, want one permanent skip", sum.Skipped)
	}
	if sum.Skipped[0].Key != "c:STK:USD" {
		t.Errorf("Skipped[0].Key = %q, want %q", sum.Skipped[0].Key, "c:STK:USD")
	}
	if sum.Resolved() != 4 {
		t.Errorf("Resolved() = %d, want 4", sum.Resolved())
	}
}

func TestRun_UnexpectedCodeSkipsAndContinues(t *testing.T) {
	p := sim.New(sim.WithScript(0, sim.Step{ErrCode: 10197, ErrMessage: "No market data during competing live session"}))
	s := newScheduler(t, cfgWithCapacity(1), newCatalog("a", "b"), p)

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	unexpected := sum.Unexpected()
	if len(unexpected) != 1 || unexpected[0].Index != 0 {
		t.Fatalf("Unexpected() = %+v, want index 0", unexpected)
	}
	if unexpected[0].Class != pacing.ErrorClassUnclassified {
		t.Errorf("Class = %v, want %v", unexpected[0].Class, pacing.ErrorClassUnclassified)
	}
	if !reflect.DeepEqual(sum.Completed, []catalog.RequestIndex{1}) {
		t.Errorf("Completed = %v, want [1]", sum.Completed)
	}
}

func TestRun_ControlChannelNoticesIgnored(t *testing.T) {
	p := sim.New(sim.WithNotices(
		sim.Notice{Code: 2104, Message: "Market data farm connection is OK:usfarm"},
		sim.Notice{Code: 504, Message: "Not connected"},
	))
	s := newScheduler(t, cfgWithCapacity(1), newCatalog("a"), p)

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	if len(sum.Skipped) != 0 || len(sum.Completed) != 1 {
		t.Errorf("Completed = %v, Skipped = %v, want one completion", sum.Completed, sum.Skipped)
	}
}

func TestRun_EmptyCatalog(t *testing.T) {
	p := sim.New()
	s := newScheduler(t, scheduler.DefaultConfig(), catalog.New(nil), p)

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	if len(p.SubmittedIDs()) != 0 {
		t.Errorf("SubmittedIDs() = %v, want none", p.SubmittedIDs())
	}
	if !sum.Drained || sum.Total != 0 {
		t.Errorf("Drained = %v, Total = %d, want drained empty batch", sum.Drained, sum.Total)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	p := sim.New(sim.WithConnectError(errors.New("connection refused")))
	s := newScheduler(t, scheduler.DefaultConfig(), newCatalog("a", "b"), p)

	sum, err := runWithTimeout(t, s)
	if !errors.Is(err, scheduler.ErrConnect) {
		t.Fatalf("Run() error = %v, want ErrConnect", err)
	}
	if sum != nil {
		t.Errorf("Run() summary = %+v, want nil", sum)
	}
	if len(p.SubmittedIDs()) != 0 {
		t.Errorf("SubmittedIDs() = %v, want none", p.SubmittedIDs())
	}
	if s.State() != scheduler.StateDisconnected {
		t.Errorf("State() = %v, want %v", s.State(), scheduler.StateDisconnected)
	}
}

func TestRun_ConnectionLostBeforeDrain(t *testing.T) {
	p := sim.New(sim.WithCloseAfter(2))
	s := newScheduler(t, cfgWithCapacity(1), newCatalog("a", "b", "c"), p)

	sum, err := runWithTimeout(t, s)
	if !errors.Is(err, scheduler.ErrConnectionLost) {
		t.Fatalf("Run() error = %v, want ErrConnectionLost", err)
	}
	p.Wait()

	if sum == nil {
		t.Fatal("Run() summary = nil, want partial summary")
	}
	if sum.Drained {
		t.Error("Drained = true, want false")
	}
	if !reflect.DeepEqual(sum.Completed, []catalog.RequestIndex{0}) {
		t.Errorf("Completed = %v, want [0]", sum.Completed)
	}
	if !reflect.DeepEqual(sum.Pending, []catalog.RequestIndex{1}) {
		t.Errorf("Pending = %v, want [1]", sum.Pending)
	}
	if sum.Cursor != 2 {
		t.Errorf("Cursor = %d, want 2", sum.Cursor)
	}
}

func TestRun_SubmitFailureResolvesAsSkip(t *testing.T) {
	p := sim.New(sim.WithSubmitError(1, errors.New("write: broken pipe")))
	s := newScheduler(t, cfgWithCapacity(2), newCatalog("a", "b", "c"), p)

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	if len(sum.Skipped) != 1 || sum.Skipped[0].Index != 1 || sum.Skipped[0].Reason != scheduler.ReasonSubmitFailed {
		t.Fatalf("Skipped = %+v, want index 1 submit_failed", sum.Skipped)
	}
	if len(sum.Completed) != 2 {
		t.Errorf("Completed = %v, want 2 completions", sum.Completed)
	}
	if got := p.SubmittedIDs(); !reflect.DeepEqual(got, []catalog.RequestIndex{0, 2}) {
		t.Errorf("SubmittedIDs() = %v, want [0 2]", got)
	}
}

func TestRun_HistoricalWindow(t *testing.T) {
	p := sim.New()
	cat := catalog.New([]catalog.Descriptor{
		{Symbol: "AAPL", Currency: "USD"},
		{Symbol: "AEX", Currency: "EUR", Exchange: "EOE"},
	})
	cfg := scheduler.DefaultConfig()
	cfg.Lookback = scheduler.LookbackDays(10)
	s := newScheduler(t, cfg, cat, p)

	if _, err := runWithTimeout(t, s); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	subs := p.Submissions()
	if len(subs) != 2 {
		t.Fatalf("len(Submissions()) = %d, want 2", len(subs))
	}
	wantShow := []string{"TRADES", "MIDPOINT"}
	for i, sub := range subs {
		if sub.Window.WhatToShow != wantShow[i] {
			t.Errorf("Submissions()[%d].WhatToShow = %q, want %q", i, sub.Window.WhatToShow, wantShow[i])
		}
		if sub.Window.Lookback != "10 D" || sub.Window.BarSize != "1 day" || !sub.Window.UseRTH {
			t.Errorf("Submissions()[%d].Window = %+v, want 10 D daily RTH", i, sub.Window)
		}
	}
}

func TestRun_SnapshotMode(t *testing.T) {
	p := sim.New(sim.WithScript(1, sim.Step{ErrCode: 10168, ErrMessage: "Requested market data is not subscribed"}))
	cat := catalog.New([]catalog.Descriptor{
		{Symbol: "ASML", Currency: "EUR", Type: "option", Strike: 600, Expiry: "2025-06-20", Right: "Call"},
		{Symbol: "ASML", Currency: "EUR", Type: "option", Strike: 550, Expiry: "2025-06-20", Right: "Put"},
	})
	cfg := scheduler.DefaultSnapshotConfig()
	cfg.SubmitInterval = time.Millisecond
	s := newScheduler(t, cfg, cat, p)

	sum, err := runWithTimeout(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	p.Wait()

	for _, sub := range p.Submissions() {
		if !sub.Window.Snapshot {
			t.Errorf("Submission %d Window.Snapshot = false, want true", sub.ID)
		}
	}
	if len(sum.Skipped) != 1 || sum.Skipped[0].Reason != scheduler.ReasonPermanent {
		t.Fatalf("Skipped = %+v, want one permanent skip", sum.Skipped)
	}

	var ticks []records.Tick
	for _, r := range sum.Records {
		if tick, ok := r.Payload.(records.Tick); ok && r.Index == 0 {
			ticks = append(ticks, tick)
		}
	}
	q := records.AssembleQuote(ticks)
	if q.Bid == nil || q.Ask == nil || q.Last == nil || q.Close == nil {
		t.Errorf("AssembleQuote() = %+v, want all fields set", q)
	}
}

func TestRun_Reusable(t *testing.T) {
	p := sim.New()
	s := newScheduler(t, cfgWithCapacity(2), newCatalog("a", "b", "c"), p)

	for i := 0; i < 2; i++ {
		sum, err := runWithTimeout(t, s)
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		p.Wait()
		if len(sum.Completed) != 3 {
			t.Errorf("Run() #%d Completed = %v, want 3", i, sum.Completed)
		}
	}
}
