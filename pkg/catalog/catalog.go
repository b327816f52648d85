// Package catalog holds the immutable, ordered list of items fetched in
// one batch. Each entry carries a stable RequestIndex that doubles as the
// provider request id and as the correlation key of every callback.
package catalog

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when an index is outside [0, Len()).
var ErrOutOfRange = errors.New("catalog index out of range")

// RequestIndex identifies a catalog entry and the provider request
// submitted for it.
type RequestIndex int

// ControlChannel is the request id the provider uses for connection and
// farm status notices that do not belong to any request.
const ControlChannel RequestIndex = -1

// Entry is one fetchable item with its assigned index.
type Entry struct {
	Index      RequestIndex
	Descriptor Descriptor
}

// Filter decides at load time whether an item takes part in the batch.
// Filters run before indices are assigned.
type Filter func(Descriptor) bool

// RequireCurrency drops items without a currency.
func RequireCurrency(d Descriptor) bool {
	return d.Currency != ""
}

// RequireSymbol drops items without a symbol.
func RequireSymbol(d Descriptor) bool {
	return d.Symbol != ""
}

// Catalog is read-only for the lifetime of a batch.
type Catalog struct {
	entries []Entry
	dropped int
}

// New normalizes items, applies filters and assigns contiguous indices
// starting at 0 in input order.
func New(items []Descriptor, filters ...Filter) *Catalog {
	c := &Catalog{entries: make([]Entry, 0, len(items))}

	for _, item := range items {
		d := item.Normalize()
		if !keep(d, filters) {
			c.dropped++
			continue
		}
		c.entries = append(c.entries, Entry{
			Index:      RequestIndex(len(c.entries)),
			Descriptor: d,
		})
	}

	return c
}

func keep(d Descriptor, filters []Filter) bool {
	for _, f := range filters {
		if !f(d) {
			return false
		}
	}
	return true
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Dropped returns how many items the load-time filters removed.
func (c *Catalog) Dropped() int {
	return c.dropped
}

// Entries returns a copy of all entries in index order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get returns the entry for index.
func (c *Catalog) Get(index RequestIndex) (Entry, error) {
	if index < 0 || int(index) >= len(c.entries) {
		return Entry{}, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, index, len(c.entries))
	}
	return c.entries[index], nil
}
