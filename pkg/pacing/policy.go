// Package pacing classifies provider error codes into scheduler actions
// and tracks the per-request retry budget for transient pacing errors.
package pacing

import (
	"fmt"
	"time"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
)

// ErrorClass is the taxonomy a provider error code belongs to.
type ErrorClass string

const (
	// ErrorClassInformational covers connectivity and data farm status
	// notices on the control channel.
	ErrorClassInformational ErrorClass = "informational"

	// ErrorClassPermanent covers invalid contract, currency or instrument
	// errors. These are never retried.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassTransient covers pacing violations and farm congestion.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassUnclassified covers every other code on a request.
	ErrorClassUnclassified ErrorClass = "unclassified"
)

// Action is what the scheduler does with a request after an error.
type Action int

const (
	// IgnoreInformational leaves all state untouched.
	IgnoreInformational Action = iota

	// RetryAfterDelay waits Decision.Delay then resubmits the same request.
	RetryAfterDelay

	// SkipThisRequest resolves the request without data.
	SkipThisRequest

	// SkipBatchItemAsUnexpected resolves the request like SkipThisRequest
	// but flags it for operator attention.
	SkipBatchItemAsUnexpected
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case IgnoreInformational:
		return "ignore"
	case RetryAfterDelay:
		return "retry"
	case SkipThisRequest:
		return "skip"
	case SkipBatchItemAsUnexpected:
		return "skip_unexpected"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Resolves reports whether the action ends the request.
func (a Action) Resolves() bool {
	return a == SkipThisRequest || a == SkipBatchItemAsUnexpected
}

// Decision is the outcome of classifying one provider error.
type Decision struct {
	Action Action
	Class  ErrorClass
	Delay  time.Duration
	// Exhausted is set when a transient error was converted into a skip
	// because the request had no retry budget left.
	Exhausted bool
}

// Default provider code tables.
var (
	// InformationalCodes are farm and connectivity status codes that are
	// harmless when reported on the control channel.
	InformationalCodes = []int{
		2103, 2104, 2105, 2106, 2107, 2108, // market/HMDS farm (dis)connected/OK
		2158, 2159, // sec-def farm (dis)connected/OK
		1100, 1101, 1102, // connectivity between provider and gateway
	}

	// PermanentCodes mark a request as permanently invalid: no security
	// definition found (200) or unsupported currency/instrument (406).
	PermanentCodes = []int{200, 406}

	// SnapshotPermanentCodes adds the missing market data subscription
	// code (10168) raised by snapshot quote requests.
	SnapshotPermanentCodes = []int{200, 406, 10168}

	// PacingCodes are pacing violations and HMDS farm congestion.
	PacingCodes = []int{162, 321, 366}
)

// Default retry settings.
const (
	DefaultRetryBudget = 1
	DefaultRetryDelay  = 15 * time.Second
)

// Policy is a pure classifier over provider error codes.
type Policy struct {
	informational map[int]struct{}
	permanent     map[int]struct{}
	transient     map[int]struct{}

	// RetryBudget is the number of resubmissions a request may receive
	// for transient errors before it is skipped.
	RetryBudget int

	// RetryDelay is the fixed backoff before a resubmission.
	RetryDelay time.Duration
}

// NewPolicy builds a policy from explicit code tables.
func NewPolicy(informational, permanent, transient []int, budget int, delay time.Duration) Policy {
	return Policy{
		informational: set(informational),
		permanent:     set(permanent),
		transient:     set(transient),
		RetryBudget:   budget,
		RetryDelay:    delay,
	}
}

// DefaultPolicy returns the policy for historical bar requests.
func DefaultPolicy() Policy {
	return NewPolicy(InformationalCodes, PermanentCodes, PacingCodes, DefaultRetryBudget, DefaultRetryDelay)
}

// SnapshotPolicy returns the policy for snapshot quote requests.
func SnapshotPolicy() Policy {
	return NewPolicy(InformationalCodes, SnapshotPermanentCodes, PacingCodes, DefaultRetryBudget, DefaultRetryDelay)
}

// WithRetry returns a copy of p with a different retry budget and delay.
func (p Policy) WithRetry(budget int, delay time.Duration) Policy {
	p.RetryBudget = budget
	p.RetryDelay = delay
	return p
}

// ClassOf returns the error class of code on request id, ignoring the
// retry budget.
func (p Policy) ClassOf(code int, id catalog.RequestIndex) ErrorClass {
	switch {
	case id < 0:
		return ErrorClassInformational
	case has(p.permanent, code):
		return ErrorClassPermanent
	case has(p.transient, code):
		return ErrorClassTransient
	default:
		// farm status codes reported against a request still resolve it
		return ErrorClassUnclassified
	}
}

// IsKnownInformational reports whether code is in the informational table.
func (p Policy) IsKnownInformational(code int) bool {
	return has(p.informational, code)
}

// Classify decides what to do with error code reported for request id.
// attempts is the number of retries the request has already consumed.
//
// Notices on the control channel (id < 0) never change request state.
func (p Policy) Classify(code int, id catalog.RequestIndex, attempts int) Decision {
	class := p.ClassOf(code, id)

	switch class {
	case ErrorClassInformational:
		return Decision{Action: IgnoreInformational, Class: class}
	case ErrorClassPermanent:
		return Decision{Action: SkipThisRequest, Class: class}
	case ErrorClassTransient:
		if attempts < p.RetryBudget {
			return Decision{Action: RetryAfterDelay, Class: class, Delay: p.RetryDelay}
		}
		return Decision{Action: SkipThisRequest, Class: class, Exhausted: true}
	default:
		return Decision{Action: SkipBatchItemAsUnexpected, Class: class}
	}
}

func set(codes []int) map[int]struct{} {
	m := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return m
}

func has(m map[int]struct{}, code int) bool {
	_, ok := m[code]
	return ok
}
