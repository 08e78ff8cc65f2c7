package nvafx

import "errors"

// Sentinel errors for hardware acceleration operations.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrLibraryUnavailable indicates no acceleration library could be
	// initialized on this machine.
	ErrLibraryUnavailable = errors.New("acceleration library unavailable")

	// ErrInvalidContext indicates an operation referenced a context that
	// was never created or has been cleaned up.
	ErrInvalidContext = errors.New("invalid acceleration context")

	// ErrHardwareFailure indicates the device or driver faulted during
	// processing.
	ErrHardwareFailure = errors.New("hardware processing failure")

	// ErrBridgeClosed indicates the async bridge has been shut down.
	ErrBridgeClosed = errors.New("acceleration bridge closed")

	// ErrBridgeFailed indicates the bridge worker hit an unrecoverable
	// fault and the backend is degraded.
	ErrBridgeFailed = errors.New("acceleration bridge failed")
)
