package store

import (
	"strings"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
)

// DefaultPrefix is the namespace of every key the store writes.
const DefaultPrefix = "mdfetch"

// QuoteDateLayout is the day format of quote hash keys.
const QuoteDateLayout = "20060102"

// BarKey identifies the bar hash of one instrument within a rollup.
// Hash fields are bar dates, values are JSON bar entries.
type BarKey struct {
	Prefix     string
	Descriptor catalog.Descriptor
}

// String generates a deterministic key.
// Format: prefix:bars:ROLLUP:SYMBOL:KIND:CURRENCY[:expiry:right:strike]
//
// Example:
//
//	mdfetch:bars:AAPL:AAPL:STK:USD
func (k BarKey) String() string {
	return join(k.Prefix, "bars", k.Descriptor.RollupKey())
}

// QuoteKey identifies the quote hash of one day. Hash fields are
// rollup-qualified instrument keys, values are JSON quote entries.
type QuoteKey struct {
	Prefix string
	Day    time.Time
}

// String generates a deterministic key.
// Format: prefix:quotes:YYYYMMDD
//
// Example:
//
//	mdfetch:quotes:20250620
func (k QuoteKey) String() string {
	return join(k.Prefix, "quotes", k.Day.Format(QuoteDateLayout))
}

func join(prefix string, parts ...string) string {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.Join(append([]string{prefix}, parts...), ":")
}
