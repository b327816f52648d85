// Package window implements admission control for outstanding provider
// requests: a bounded in-flight set plus a cursor over the catalog.
//
// Indices are admitted in strictly increasing catalog order, which keeps
// batch submission order deterministic. A Window is not safe for concurrent
// use; the scheduler serializes access to it.
package window

import (
	"fmt"
	"sort"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
)

// Window tracks submitted-but-unresolved requests and the next catalog
// index to submit.
//
// Invariants: len(inflight) <= capacity, 0 <= cursor <= catalogLen.
type Window struct {
	inflight   map[catalog.RequestIndex]struct{}
	cursor     int
	capacity   int
	catalogLen int
}

// New creates a window over a catalog of catalogLen entries.
func New(capacity, catalogLen int) (*Window, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be >= 1 (got %d)", capacity)
	}
	if catalogLen < 0 {
		return nil, fmt.Errorf("catalog length must be >= 0 (got %d)", catalogLen)
	}
	return &Window{
		inflight:   make(map[catalog.RequestIndex]struct{}, capacity),
		capacity:   capacity,
		catalogLen: catalogLen,
	}, nil
}

// AdmitMore moves catalog indices into the in-flight set until the window
// is full or the catalog is exhausted, and returns them in admission order.
// It admits nothing while ready is false.
func (w *Window) AdmitMore(ready bool) []catalog.RequestIndex {
	if !ready {
		return nil
	}

	var admitted []catalog.RequestIndex
	for len(w.inflight) < w.capacity && w.cursor < w.catalogLen {
		idx := catalog.RequestIndex(w.cursor)
		w.inflight[idx] = struct{}{}
		admitted = append(admitted, idx)
		w.cursor++
	}
	return admitted
}

// Release removes index from the in-flight set. Releasing an index that is
// not in flight is a no-op; the return value reports whether it was.
func (w *Window) Release(index catalog.RequestIndex) bool {
	if _, ok := w.inflight[index]; !ok {
		return false
	}
	delete(w.inflight, index)
	return true
}

// IsDrained reports whether nothing is in flight and every catalog entry
// has been admitted.
func (w *Window) IsDrained() bool {
	return len(w.inflight) == 0 && w.cursor >= w.catalogLen
}

// Contains reports whether index is in flight.
func (w *Window) Contains(index catalog.RequestIndex) bool {
	_, ok := w.inflight[index]
	return ok
}

// InFlight returns the in-flight indices in ascending order.
func (w *Window) InFlight() []catalog.RequestIndex {
	out := make([]catalog.RequestIndex, 0, len(w.inflight))
	for idx := range w.inflight {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of in-flight requests.
func (w *Window) Len() int { return len(w.inflight) }

// Cursor returns the next unsubmitted catalog index.
func (w *Window) Cursor() int { return w.cursor }

// Capacity returns the maximum number of in-flight requests.
func (w *Window) Capacity() int { return w.capacity }

// Reset clears the in-flight set and rewinds the cursor to 0.
func (w *Window) Reset() {
	w.inflight = make(map[catalog.RequestIndex]struct{}, w.capacity)
	w.cursor = 0
}
