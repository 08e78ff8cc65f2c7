package plugin

import "errors"

// Sentinel errors for plugin hosting operations.
// These errors enable reliable error classification using errors.Is().

// Load and handle errors.
var (
	// ErrPluginLoad indicates a plugin file is invalid or incompatible.
	ErrPluginLoad = errors.New("plugin load failed")

	// ErrPluginUnavailable indicates an operation referenced a handle
	// that has been unloaded.
	ErrPluginUnavailable = errors.New("plugin unavailable")

	// ErrHandleOwned indicates a handle is already attached to an
	// executor; handles have exactly one owner.
	ErrHandleOwned = errors.New("plugin handle already owned")

	// ErrUnknownPlugin indicates the loader has no implementation for
	// the requested plugin file.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// Executor errors.
var (
	// ErrExecutorFailed indicates the executor worker panicked or the
	// plugin crashed; the executor is permanently degraded.
	ErrExecutorFailed = errors.New("plugin executor failed")

	// ErrExecutorClosed indicates the executor has been shut down.
	ErrExecutorClosed = errors.New("plugin executor closed")

	// ErrProcessingTimeout indicates the worker missed the reply
	// deadline for a quantum. Recovered locally as passthrough.
	ErrProcessingTimeout = errors.New("plugin processing timeout")
)

// Parameter errors.
var (
	// ErrParameterRange indicates a parameter index is out of range for
	// the plugin.
	ErrParameterRange = errors.New("parameter index out of range")
)
