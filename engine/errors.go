package engine

import "errors"

// Sentinel errors for engine operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrChannelExists indicates a channel with the same identifier is
	// already configured.
	ErrChannelExists = errors.New("channel already exists")

	// ErrChannelNotFound indicates no channel carries the identifier.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrEngineClosed indicates the engine has been shut down.
	ErrEngineClosed = errors.New("engine closed")

	// ErrBufferMismatch indicates an input or output block does not
	// match the engine's configured quantum.
	ErrBufferMismatch = errors.New("buffer size mismatch")
)
