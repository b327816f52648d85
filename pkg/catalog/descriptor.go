package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the provider instrument kind of a fetch descriptor.
type Kind string

const (
	// KindStock is a listed equity.
	KindStock Kind = "STK"

	// KindIndex is a market index (no trades, midpoint data only).
	KindIndex Kind = "IND"

	// KindOption is a listed option contract.
	KindOption Kind = "OPT"
)

// DefaultExchange is used when an item does not name an exchange.
const DefaultExchange = "SMART"

// DefaultMultiplier is the standard equity option contract multiplier.
const DefaultMultiplier = "100"

// indexSymbols are symbols treated as indices regardless of item type.
var indexSymbols = map[string]struct{}{
	"EOE":  {},
	"AEX":  {},
	"^AEX": {},
}

// Descriptor identifies one fetchable item: a symbol for historical
// bars or an option contract for a quote snapshot.
type Descriptor struct {
	// Symbol is the provider symbol (e.g. "ASML").
	Symbol string `yaml:"symbol" json:"symbol"`

	// Rollup is the portfolio grouping the results are reported under.
	Rollup string `yaml:"rollup" json:"rollup"`

	Currency        string `yaml:"currency" json:"currency"`
	Exchange        string `yaml:"exchange" json:"exchange"`
	PrimaryExchange string `yaml:"primary_exchange" json:"primary_exchange,omitempty"`

	// Type and Sector are free-form catalog attributes used to infer Kind
	// when it is not set explicitly.
	Type   string `yaml:"type" json:"type,omitempty"`
	Sector string `yaml:"sector" json:"sector,omitempty"`

	Kind Kind `yaml:"kind" json:"kind"`

	// Option fields. Expiry is kept as YYYYMMDD.
	Strike     float64 `yaml:"strike" json:"strike,omitempty"`
	Expiry     string  `yaml:"expiry" json:"expiry,omitempty"`
	Right      string  `yaml:"right" json:"right,omitempty"`
	Multiplier string  `yaml:"multiplier" json:"multiplier,omitempty"`
}

// Normalize trims every field and fills in the defaults the provider
// expects: inferred kind, SMART exchange, YYYYMMDD expiry, C/P right and
// the option multiplier.
func (d Descriptor) Normalize() Descriptor {
	d.Symbol = strings.TrimSpace(d.Symbol)
	d.Rollup = strings.TrimSpace(d.Rollup)
	d.Currency = strings.TrimSpace(d.Currency)
	d.Exchange = strings.TrimSpace(d.Exchange)
	d.PrimaryExchange = strings.TrimSpace(d.PrimaryExchange)
	d.Type = strings.TrimSpace(d.Type)
	d.Sector = strings.TrimSpace(d.Sector)

	if d.Exchange == "" {
		d.Exchange = DefaultExchange
	}
	if d.Kind == "" {
		d.Kind = inferKind(d)
	}
	if d.Kind == KindOption {
		d.Expiry = FormatExpiry(d.Expiry)
		d.Right = RightFromCallPut(d.Right)
		if d.Multiplier == "" {
			d.Multiplier = DefaultMultiplier
		}
	}
	return d
}

// inferKind mirrors the catalog heuristic: an item is an index when its
// type or sector says so, or when the symbol is a known index symbol.
func inferKind(d Descriptor) Kind {
	t := strings.ToLower(d.Type)
	switch t {
	case "option", "optie", "opt":
		return KindOption
	case "index", "idx", "ind":
		return KindIndex
	}
	if strings.EqualFold(d.Sector, "index") {
		return KindIndex
	}
	if _, ok := indexSymbols[strings.ToUpper(d.Symbol)]; ok {
		return KindIndex
	}
	return KindStock
}

// WhatToShow returns the historical data type requested for this kind.
func (d Descriptor) WhatToShow() string {
	if d.Kind == KindStock {
		return "TRADES"
	}
	return "MIDPOINT"
}

// Key returns a stable contract key used to correlate results in storage.
//
// Example:
//
//	ASML:STK:EUR
//	ASML:OPT:EUR:20251219:C:650
func (d Descriptor) Key() string {
	parts := []string{d.Symbol, string(d.Kind), d.Currency}
	if d.Kind == KindOption {
		parts = append(parts, d.Expiry, d.Right, strconv.FormatFloat(d.Strike, 'f', -1, 64))
	}
	return strings.Join(parts, ":")
}

// RollupKey returns Key qualified by the portfolio rollup, so rows that
// share a contract but report under different rollups stay apart. An
// empty rollup falls back to the symbol.
//
// Example:
//
//	ASML:ASML:STK:EUR
//	TECH:ASML:OPT:EUR:20251219:C:650
func (d Descriptor) RollupKey() string {
	rollup := d.Rollup
	if rollup == "" {
		rollup = d.Symbol
	}
	return rollup + ":" + d.Key()
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	if d.Kind == KindOption {
		return fmt.Sprintf("%s %s %g exp %s", d.Symbol, d.Right, d.Strike, d.Expiry)
	}
	return fmt.Sprintf("%s (%s, %s)", d.Symbol, d.Kind, d.Currency)
}

// FormatExpiry converts an expiry given as YYYY-MM-DD, YYYYMMDD or a
// longer timestamp into the provider's YYYYMMDD form.
func FormatExpiry(expiry string) string {
	s := strings.TrimSpace(expiry)
	if s == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format("20060102")
	}
	s = strings.ReplaceAll(s, "-", "")
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

// RightFromCallPut converts "call"/"put" (any case) or C/P into C or P.
// Empty input stays empty.
func RightFromCallPut(callPut string) string {
	s := strings.TrimSpace(callPut)
	if s == "" {
		return ""
	}
	switch strings.ToLower(s) {
	case "call", "c":
		return "C"
	default:
		return "P"
	}
}
