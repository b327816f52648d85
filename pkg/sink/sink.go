// Package sink accumulates the payloads returned for resolved requests
// until the batch hands them to a persistence collaborator.
package sink

import (
	"sort"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
)

// Result is one payload delivered for a request. Results are never
// mutated after they are recorded.
type Result struct {
	Index      catalog.RequestIndex
	Payload    any
	ReceivedAt time.Time
}

// Sink is an append-only accumulator. It does not deduplicate: a request
// that delivers several data events (one per bar) records all of them.
type Sink struct {
	results []Result
	now     func() time.Time
}

// New returns an empty sink. A nil clock defaults to time.Now.
func New(clk func() time.Time) *Sink {
	if clk == nil {
		clk = time.Now
	}
	return &Sink{now: clk}
}

// Record appends payload for index.
func (s *Sink) Record(index catalog.RequestIndex, payload any) {
	s.results = append(s.results, Result{
		Index:      index,
		Payload:    payload,
		ReceivedAt: s.now(),
	})
}

// Len returns the number of recorded results.
func (s *Sink) Len() int {
	return len(s.results)
}

// Drain returns every recorded result in arrival order and empties the sink.
func (s *Sink) Drain() []Result {
	out := s.results
	s.results = nil
	return out
}

// Reset discards all recorded results.
func (s *Sink) Reset() {
	s.results = nil
}

// Group is the ordered output of one request.
type Group struct {
	Index    catalog.RequestIndex
	Payloads []any
}

// ByIndex regroups results by request index in catalog order. Payloads of
// one index keep their arrival order.
func ByIndex(results []Result) []Group {
	pos := make(map[catalog.RequestIndex]int)
	var groups []Group
	for _, r := range results {
		i, ok := pos[r.Index]
		if !ok {
			i = len(groups)
			pos[r.Index] = i
			groups = append(groups, Group{Index: r.Index})
		}
		groups[i].Payloads = append(groups[i].Payloads, r.Payload)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Index < groups[j].Index })
	return groups
}

// Indices returns the distinct indices present in results, ascending.
func Indices(results []Result) []catalog.RequestIndex {
	groups := ByIndex(results)
	out := make([]catalog.RequestIndex, len(groups))
	for i, g := range groups {
		out[i] = g.Index
	}
	return out
}
