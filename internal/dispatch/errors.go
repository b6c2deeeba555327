package dispatch

import "errors"

var (
	// ErrUnknownJob is returned when a fire or query names a job that is
	// not registered with the coordinator.
	ErrUnknownJob = errors.New("dispatch: unknown job")

	// ErrAlreadyRegistered is returned by Register on a name collision.
	ErrAlreadyRegistered = errors.New("dispatch: job already registered")

	// ErrRetriesExhausted marks a fire whose every attempt failed. It is
	// terminal for that fire only; the job's schedule is unaffected.
	ErrRetriesExhausted = errors.New("dispatch: retries exhausted")
)
