package scheduler

import (
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
	"github.com/portfolio-ledger/mdscheduler/pkg/pacing"
	"github.com/portfolio-ledger/mdscheduler/pkg/sink"
)

// Skip reasons.
const (
	ReasonPermanent      = "permanent_error"
	ReasonRetryExhausted = "retry_exhausted"
	ReasonUnexpected     = "unexpected_error"
	ReasonSubmitFailed   = "submit_failed"
	ReasonRetryCancelled = "retry_cancelled"
)

// Skip describes one request resolved without completing.
type Skip struct {
	Index   catalog.RequestIndex
	Key     string
	Code    int
	Class   pacing.ErrorClass
	Reason  string
	Message string
}

// Unexpected reports whether the skip came from an unclassified code.
func (s Skip) Unexpected() bool {
	return s.Reason == ReasonUnexpected
}

// Summary is the outcome of one batch run.
type Summary struct {
	Total       int
	Submissions int
	Retries     int
	Completed   []catalog.RequestIndex
	Skipped     []Skip

	// Records are the drained sink contents in arrival order.
	Records []sink.Result

	// Drained is false when the run ended before the batch finished;
	// Pending then lists the requests still in flight and Cursor the
	// first index never submitted.
	Drained bool
	Pending []catalog.RequestIndex
	Cursor  int

	StaleCallbacks int
	Elapsed        time.Duration
}

// Resolved returns the number of requests that completed or were skipped.
func (s *Summary) Resolved() int {
	return len(s.Completed) + len(s.Skipped)
}

// Unexpected returns the skips caused by unclassified codes.
func (s *Summary) Unexpected() []Skip {
	var out []Skip
	for _, sk := range s.Skipped {
		if sk.Unexpected() {
			out = append(out, sk)
		}
	}
	return out
}
