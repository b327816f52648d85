package pacing

import (
	"errors"
	"fmt"

	"github.com/portfolio-ledger/mdscheduler/pkg/catalog"
)

// ErrContextCancelled is returned when the context is cancelled during a
// retry backoff.
var ErrContextCancelled = errors.New("context cancelled")

// ProviderError is an error code reported by the provider for a request.
type ProviderError struct {
	Index   catalog.RequestIndex
	Code    int
	Class   ErrorClass
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("provider %s notice %d: %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s error %d (request %d): %s",
		e.Class, e.Code, e.Index, e.Message)
}
