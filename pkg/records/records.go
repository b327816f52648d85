// Package records defines the payloads providers deliver for a request:
// daily bars from historical requests and price ticks from snapshot
// quote requests.
package records

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV bar with its volume-weighted average price.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	// WAP is nil when the provider build does not report it.
	WAP *decimal.Decimal `json:"wap,omitempty"`
}

var three = decimal.NewFromInt(3)

// NormalizeWAP fills a missing WAP with the typical price (H+L+C)/3.
func (b Bar) NormalizeWAP() Bar {
	if b.WAP != nil {
		return b
	}
	typical := b.High.Add(b.Low).Add(b.Close).DivRound(three, 8)
	b.WAP = &typical
	return b
}

// Bar date layouts reported by the provider.
const (
	BarDateLayout     = "20060102"
	BarDateTimeLayout = "20060102 15:04:05"
)

// TickType identifies which price a tick carries.
type TickType int

// Tick types delivered by snapshot quote requests.
const (
	TickBid   TickType = 1
	TickAsk   TickType = 2
	TickLast  TickType = 4
	TickClose TickType = 9
)

// Tick is a single price update for a snapshot request.
type Tick struct {
	Type  TickType        `json:"type"`
	Price decimal.Decimal `json:"price"`
}

// QuoteSnapshot is the assembled result of one snapshot request.
// Fields the provider never ticked stay nil.
type QuoteSnapshot struct {
	Bid   *decimal.Decimal `json:"bid,omitempty"`
	Ask   *decimal.Decimal `json:"ask,omitempty"`
	Last  *decimal.Decimal `json:"last,omitempty"`
	Close *decimal.Decimal `json:"close,omitempty"`
}

// Empty reports whether no price was ticked.
func (q QuoteSnapshot) Empty() bool {
	return q.Bid == nil && q.Ask == nil && q.Last == nil && q.Close == nil
}

// Mid returns the bid/ask midpoint when both sides are present.
func (q QuoteSnapshot) Mid() (decimal.Decimal, bool) {
	if q.Bid == nil || q.Ask == nil {
		return decimal.Zero, false
	}
	return q.Bid.Add(*q.Ask).Div(decimal.NewFromInt(2)), true
}

// AssembleQuote folds ticks in arrival order; later ticks of the same type
// win. Unknown tick types are ignored.
func AssembleQuote(ticks []Tick) QuoteSnapshot {
	var q QuoteSnapshot
	for _, t := range ticks {
		price := t.Price
		switch t.Type {
		case TickBid:
			q.Bid = &price
		case TickAsk:
			q.Ask = &price
		case TickLast:
			q.Last = &price
		case TickClose:
			q.Close = &price
		}
	}
	return q
}
