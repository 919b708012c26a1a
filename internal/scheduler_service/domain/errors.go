package domain

import "errors"

var (
	// ErrNotFound indicates that a requested job record was not found.
	ErrNotFound = errors.New("job not found")
	// ErrRetryLater asks the manager to run the job again after a backoff.
	// Jobs wrap it; the manager matches it with errors.Is.
	ErrRetryLater = errors.New("retry later")
	// ErrUnknownFactory is returned when a persisted job names an unregistered factory.
	ErrUnknownFactory = errors.New("unknown job factory")
	// ErrMissingKey is returned by Data getters for absent keys.
	ErrMissingKey = errors.New("missing job data key")
	// ErrManagerStopped is returned when jobs are added after shutdown.
	ErrManagerStopped = errors.New("job manager stopped")
)
