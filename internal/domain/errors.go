package domain

import "errors"

var (
	// ErrValidation marks bad input. Never retried.
	ErrValidation = errors.New("validation error")
	ErrDuplicate  = errors.New("already registered")
	ErrNotFound   = errors.New("not found")
	// ErrStorage marks a failed store operation; the affected result is dropped.
	ErrStorage = errors.New("storage error")
	// ErrAlreadyRunning is returned when a cycle is requested while one is in flight.
	ErrAlreadyRunning = errors.New("check cycle already running")
	// ErrNetwork marks a probe attempt that failed before a response arrived.
	ErrNetwork = errors.New("network error")
)
