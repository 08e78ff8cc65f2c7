package device

import "errors"

// Device layer errors.
// These errors enable reliable error classification using errors.Is().

var (
	// ErrNoDevice indicates no audio device is available, either
	// because none is attached or because the build excludes device
	// I/O (noaudio tag or cgo disabled).
	ErrNoDevice = errors.New("no audio device available")

	// ErrDeviceClosed indicates an operation on a closed stream.
	ErrDeviceClosed = errors.New("audio device closed")

	// ErrStreamRunning indicates Start on a stream that is already
	// running.
	ErrStreamRunning = errors.New("audio stream already running")

	// ErrControlUnavailable indicates the hardware exposes no control
	// element with the requested name.
	ErrControlUnavailable = errors.New("hardware control unavailable")
)
