package session

import "errors"

// Sentinel errors for control-plane operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrSessionNotFound indicates no session carries the identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists indicates a session with the identifier is
	// already active.
	ErrSessionExists = errors.New("session already exists")

	// ErrMaxSessionsExceeded indicates the configured session capacity
	// is exhausted; the caller retries or falls back.
	ErrMaxSessionsExceeded = errors.New("maximum session count exceeded")

	// ErrManagerClosed indicates the control plane has been shut down.
	ErrManagerClosed = errors.New("session manager closed")

	// ErrAlreadyRunning indicates the stats aggregator was started
	// while its reporting loop is active.
	ErrAlreadyRunning = errors.New("stats aggregator already running")
)
