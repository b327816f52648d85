package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/config"
	"github.com/portfolio-ledger/mdscheduler/pkg/provider/sim"
	"github.com/portfolio-ledger/mdscheduler/pkg/records"
	"github.com/portfolio-ledger/mdscheduler/pkg/scheduler"
	"github.com/portfolio-ledger/mdscheduler/pkg/sink"
	"github.com/shopspring/decimal"
)

const stockCatalog = `
items:
  - symbol: AAPL
    currency: USD
  - symbol: AEX
    currency: EUR
    exchange: EOE
  - symbol: NOCUR
  - symbol: BAD
    currency: USD
`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_WritesReport(t *testing.T) {
	cfg := config.Default(scheduler.ModeHistorical)
	cfg.Catalog.Path = writeCatalog(t, stockCatalog)

	// BAD is index 2 once NOCUR is filtered out.
	p := sim.New(sim.WithScript(2, sim.Step{ErrCode: 200, ErrMessage: "No security definition has been found"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := run(ctx, cfg, p, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	var report Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("Unmarshal(report) error = %v\n%s", err, out.String())
	}
	if report.Total != 3 || report.Completed != 2 || !report.Drained {
		t.Errorf("report = total %d completed %d drained %v, want 3/2/true", report.Total, report.Completed, report.Drained)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Key != "BAD:BAD:STK:USD" || report.Skipped[0].Code != 200 {
		t.Errorf("report.Skipped = %+v, want BAD with code 200", report.Skipped)
	}
	if got := len(report.Bars["AAPL:AAPL:STK:USD"]); got != 5 {
		t.Errorf("len(Bars[AAPL]) = %d, want 5", got)
	}
	for _, b := range report.Bars["AEX:AEX:IND:EUR"] {
		if b.WAP == nil {
			t.Errorf("index bar %v has no WAP after normalisation", b.Date)
		}
	}
}

func TestRun_SnapshotReport(t *testing.T) {
	cfg := config.Default(scheduler.ModeSnapshot)
	cfg.Scheduler.SubmitInterval = time.Millisecond
	cfg.Catalog.Path = writeCatalog(t, `
items:
  - symbol: ASML
    currency: EUR
    type: option
    strike: 600
    expiry: "2025-06-20"
    right: Call
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := run(ctx, cfg, sim.New(), &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	var report Report
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("Unmarshal(report) error = %v", err)
	}
	q, ok := report.Quotes["ASML:ASML:OPT:EUR:20250620:C:600"]
	if !ok {
		t.Fatalf("report.Quotes = %v, want the ASML call", report.Quotes)
	}
	if q.Mid == nil {
		t.Error("quote Mid = nil, want bid/ask midpoint")
	}
}

func TestBuildReport(t *testing.T) {
	cat := catalog.New([]catalog.Descriptor{
		{Symbol: "ASML", Rollup: "SEMIS", Currency: "EUR"},
		{Symbol: "ASML", Rollup: "TECH", Currency: "EUR"},
	})
	d1 := time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	bar := func(day time.Time, price string) records.Bar {
		c := decimal.RequireFromString(price)
		return records.Bar{Date: day, Open: c, High: c, Low: c, Close: c}
	}

	// SEMIS hit a pacing error after one bar and was resubmitted.
	sum := &scheduler.Summary{
		Total: 2,
		Records: []sink.Result{
			{Index: 0, Payload: bar(d1, "600")},
			{Index: 1, Payload: bar(d1, "601")},
			{Index: 0, Payload: bar(d1, "600")},
			{Index: 0, Payload: bar(d2, "610")},
			{Index: 1, Payload: bar(d2, "611")},
		},
	}

	r := buildReport(cat, sum)
	for _, tt := range []struct {
		key       string
		wantClose []string
	}{
		{"SEMIS:ASML:STK:EUR", []string{"600", "610"}},
		{"TECH:ASML:STK:EUR", []string{"601", "611"}},
	} {
		bars := r.Bars[tt.key]
		if len(bars) != len(tt.wantClose) {
			t.Errorf("len(Bars[%s]) = %d, want %d", tt.key, len(bars), len(tt.wantClose))
			continue
		}
		for i, b := range bars {
			if !b.Close.Equal(decimal.RequireFromString(tt.wantClose[i])) {
				t.Errorf("Bars[%s][%d].Close = %s, want %s", tt.key, i, b.Close, tt.wantClose[i])
			}
		}
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	cfg := config.Default(scheduler.ModeHistorical)
	cfg.Catalog.Path = writeCatalog(t, stockCatalog)

	var out bytes.Buffer
	err := run(context.Background(), cfg, sim.New(sim.WithConnectError(errors.New("refused"))), &out)
	if !errors.Is(err, scheduler.ErrConnect) {
		t.Fatalf("run() error = %v, want ErrConnect", err)
	}
	if out.Len() != 0 {
		t.Errorf("report written after connect failure: %s", out.String())
	}
}

func TestRun_MissingCatalog(t *testing.T) {
	cfg := config.Default(scheduler.ModeHistorical)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "absent.yaml")

	if err := run(context.Background(), cfg, sim.New(), &bytes.Buffer{}); err == nil {
		t.Error("run() with missing catalog should error")
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("MDFETCH_TEST_GETENV", "set")
	if got := getEnv("MDFETCH_TEST_GETENV", "default"); got != "set" {
		t.Errorf("getEnv() = %q, want %q", got, "set")
	}
	if got := getEnv("MDFETCH_TEST_UNSET_KEY", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want %q", got, "default")
	}
}
