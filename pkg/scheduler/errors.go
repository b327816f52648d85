package scheduler

import "errors"

// Errors returned by Scheduler.Run.
var (
	// ErrConnect is returned when the initial connection cannot be
	// established. Nothing was submitted.
	ErrConnect = errors.New("connect to provider")

	// ErrConnectionLost is returned when the connection closes before the
	// batch drained. The summary holds the partial results.
	ErrConnectionLost = errors.New("connection closed before batch drained")

	// ErrAlreadyRunning is returned when Run is called on a scheduler that
	// is still running a batch.
	ErrAlreadyRunning = errors.New("scheduler already running")
)
