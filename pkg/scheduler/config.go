package scheduler

import (
	"fmt"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/pacing"
)

// Mode selects the kind of request submitted for every catalog entry.
type Mode string

const (
	// ModeHistorical requests daily bars over the lookback window.
	ModeHistorical Mode = "historical"

	// ModeSnapshot requests a one-off quote snapshot.
	ModeSnapshot Mode = "snapshot"
)

// Config holds the scheduler configuration.
type Config struct {
	Mode Mode

	// Capacity is the maximum number of requests in flight.
	Capacity int

	// Retry policy for pacing errors
	RetryBudget int
	RetryDelay  time.Duration

	// Per-request fetch span, in provider duration syntax ("5 D", "10 Y").
	Lookback string
	BarSize  string
	UseRTH   bool

	// SubmitInterval is the minimum spacing between submissions (0 = none).
	SubmitInterval time.Duration
}

// DefaultConfig returns the configuration for historical bar batches.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeHistorical,
		Capacity:    3,
		RetryBudget: pacing.DefaultRetryBudget,
		RetryDelay:  pacing.DefaultRetryDelay,
		Lookback:    "5 D",
		BarSize:     "1 day",
		UseRTH:      true,
	}
}

// DefaultSnapshotConfig returns the configuration for option quote
// snapshot batches: one request at a time, half a second apart.
func DefaultSnapshotConfig() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeSnapshot
	cfg.Capacity = 1
	cfg.SubmitInterval = 500 * time.Millisecond
	return cfg
}

// LookbackDays formats a lookback of n days. Non-positive n yields the
// default five days.
func LookbackDays(n int) string {
	if n <= 0 {
		n = 5
	}
	return fmt.Sprintf("%d D", n)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Mode != ModeHistorical && c.Mode != ModeSnapshot {
		return fmt.Errorf("mode must be %q or %q (got %q)", ModeHistorical, ModeSnapshot, c.Mode)
	}
	if c.Capacity < 1 {
		return fmt.Errorf("capacity must be >= 1 (got %d)", c.Capacity)
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("retry budget must be >= 0 (got %d)", c.RetryBudget)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be >= 0 (got %v)", c.RetryDelay)
	}
	if c.SubmitInterval < 0 {
		return fmt.Errorf("submit interval must be >= 0 (got %v)", c.SubmitInterval)
	}
	if c.Mode == ModeHistorical {
		if c.Lookback == "" {
			return fmt.Errorf("lookback is required for historical requests")
		}
		if c.BarSize == "" {
			return fmt.Errorf("bar size is required for historical requests")
		}
	}
	return nil
}

// Policy returns the pacing policy for the configured mode and retry
// settings.
func (c Config) Policy() pacing.Policy {
	p := pacing.DefaultPolicy()
	if c.Mode == ModeSnapshot {
		p = pacing.SnapshotPolicy()
	}
	return p.WithRetry(c.RetryBudget, c.RetryDelay)
}

// Window is the per-request fetch span handed to Connection.Submit.
type Window struct {
	Lookback   string
	BarSize    string
	WhatToShow string
	UseRTH     bool
	// Snapshot requests a single quote snapshot instead of bars.
	Snapshot bool
}

// windowFor builds the request window for a descriptor.
func (c Config) windowFor(d catalog.Descriptor) Window {
	if c.Mode == ModeSnapshot {
		return Window{Snapshot: true}
	}
	return Window{
		Lookback:   c.Lookback,
		BarSize:    c.BarSize,
		WhatToShow: d.WhatToShow(),
		UseRTH:     c.UseRTH,
	}
}
