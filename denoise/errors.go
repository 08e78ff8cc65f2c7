package denoise

import "errors"

// Sentinel errors for denoise package operations.
// These errors enable reliable error classification using errors.Is().

// Backend errors.
var (
	// ErrBackendUnavailable indicates the backend failed initialization or
	// a health check and cannot process audio right now.
	ErrBackendUnavailable = errors.New("denoise backend unavailable")

	// ErrBackendClosed indicates the backend has been closed.
	ErrBackendClosed = errors.New("denoise backend closed")

	// ErrHardwareFailure indicates the hardware-accelerated backend hit a
	// device or driver fault.
	ErrHardwareFailure = errors.New("hardware acceleration failure")
)

// Chain configuration errors.
var (
	// ErrEmptyPriorityList indicates a fallback chain was configured with
	// no backends.
	ErrEmptyPriorityList = errors.New("empty backend priority list")

	// ErrUnknownTier indicates a priority list referenced a tier with no
	// registered backend.
	ErrUnknownTier = errors.New("unknown denoise tier")

	// ErrChainClosed indicates the fallback chain has been closed.
	ErrChainClosed = errors.New("fallback chain closed")
)
