package store

import (
	"sort"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/records"
	"github.com/shopspring/decimal"
)

// BarEntry is the stored form of one bar.
type BarEntry struct {
	Key    string `json:"key"`
	Rollup string `json:"rollup"`
	records.Bar
}

// NewBarEntry builds the stored bar for one instrument, filling a
// missing WAP.
func NewBarEntry(d catalog.Descriptor, b records.Bar) BarEntry {
	return BarEntry{Key: d.Key(), Rollup: rollupOf(d), Bar: b.NormalizeWAP()}
}

// QuoteEntry is the stored form of one assembled snapshot.
type QuoteEntry struct {
	Key        string           `json:"key"`
	Rollup     string           `json:"rollup"`
	Symbol     string           `json:"symbol"`
	Kind       catalog.Kind     `json:"kind"`
	Currency   string           `json:"currency"`
	Expiry     string           `json:"expiry,omitempty"`
	Right      string           `json:"right,omitempty"`
	Strike     float64          `json:"strike,omitempty"`
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Ask        *decimal.Decimal `json:"ask,omitempty"`
	Last       *decimal.Decimal `json:"last,omitempty"`
	Close      *decimal.Decimal `json:"close,omitempty"`
	Mid        *decimal.Decimal `json:"mid,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}

// NewQuoteEntry builds the stored quote for one instrument.
func NewQuoteEntry(d catalog.Descriptor, q records.QuoteSnapshot, receivedAt time.Time) QuoteEntry {
	e := QuoteEntry{
		Key:        d.Key(),
		Rollup:     rollupOf(d),
		Symbol:     d.Symbol,
		Kind:       d.Kind,
		Currency:   d.Currency,
		Expiry:     d.Expiry,
		Right:      d.Right,
		Strike:     d.Strike,
		Bid:        q.Bid,
		Ask:        q.Ask,
		Last:       q.Last,
		Close:      q.Close,
		ReceivedAt: receivedAt,
	}
	if mid, ok := q.Mid(); ok {
		e.Mid = &mid
	}
	return e
}

// Quote returns the snapshot part of the entry.
func (e QuoteEntry) Quote() records.QuoteSnapshot {
	return records.QuoteSnapshot{Bid: e.Bid, Ask: e.Ask, Last: e.Last, Close: e.Close}
}

func rollupOf(d catalog.Descriptor) string {
	if d.Rollup == "" {
		return d.Symbol
	}
	return d.Rollup
}

// BarField is the hash field of a bar: its date, or date and time for
// intraday bars.
func BarField(b records.Bar) string {
	y, m, d := b.Date.Date()
	h, mi, s := b.Date.Clock()
	if h == 0 && mi == 0 && s == 0 {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(records.BarDateLayout)
	}
	return b.Date.Format(records.BarDateTimeLayout)
}

// DedupeBars keeps the last bar delivered for each BarField, oldest
// first. A resubmitted request delivers its earlier bars again.
func DedupeBars(bars []records.Bar) []records.Bar {
	byField := make(map[string]int, len(bars))
	out := make([]records.Bar, 0, len(bars))
	for _, b := range bars {
		f := BarField(b)
		if i, ok := byField[f]; ok {
			out[i] = b
			continue
		}
		byField[f] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
