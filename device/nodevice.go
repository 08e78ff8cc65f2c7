//go:build !cgo || noaudio

package device

// Device I/O is compiled out: every entry point reports ErrNoDevice so
// callers fall back to callback-driven or offline operation.

// ListDevices enumerates the available capture and playback endpoints.
func ListDevices() (Devices, error) {
	return Devices{}, ErrNoDevice
}

// FindDevice looks up an endpoint by id, or nil when absent.
func FindDevice(typ Type, id string) *Device {
	return nil
}

// Stream is one open capture or playback device.
type Stream struct{}

// OpenCapture opens a capture stream delivering float32 periods to fn.
func OpenCapture(config StreamConfig, fn CaptureFunc) (*Stream, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return nil, ErrNoDevice
}

// OpenPlayback opens a playback stream pulling float32 periods from fn.
func OpenPlayback(config StreamConfig, fn PlaybackFunc) (*Stream, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return nil, ErrNoDevice
}

// Start begins the device callback loop.
func (s *Stream) Start() error { return ErrNoDevice }

// Stop halts the callback loop.
func (s *Stream) Stop() error { return ErrNoDevice }

// Close releases the device and its context.
func (s *Stream) Close() error { return nil }
