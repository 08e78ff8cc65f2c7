// Package device provides audio hardware access: device enumeration,
// capture and playback streams, and the hardware mixer control
// boundary.
//
// The stream implementation rides on malgo (miniaudio) and is only
// compiled when cgo is enabled and the noaudio build tag is absent;
// otherwise every entry point reports ErrNoDevice so the rest of the
// system runs in callback-driven or offline mode.
package device

import (
	"fmt"

	"github.com/opd-ai/phantomlink/audio"
)

// Type distinguishes capture from playback devices.
type Type string

const (
	TypeCapture  Type = "capture"
	TypePlayback Type = "playback"
)

// Device identifies one audio endpoint.
type Device struct {
	ID        string
	Name      string
	IsDefault bool
}

// Devices groups the endpoints by direction.
type Devices struct {
	Playback []Device
	Capture  []Device
}

// StreamConfig describes the stream to open. The device delivers
// signed 16-bit PCM; the stream converts to float32 at the boundary.
type StreamConfig struct {
	// DeviceID selects the endpoint; empty uses the system default.
	DeviceID string

	// SampleRate in Hz (44.1/48/96 kHz).
	SampleRate uint32

	// Channels per frame (1 for capture into the mixer, 2 for the
	// stereo mix bus).
	Channels int

	// BufferSize is the period length in frames per channel.
	BufferSize int
}

func (c StreamConfig) validate() error {
	if err := audio.ValidateSampleRate(c.SampleRate); err != nil {
		return err
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("unsupported channel count: %d", c.Channels)
	}
	if err := audio.ValidateBufferSize(c.BufferSize); err != nil {
		return err
	}
	return nil
}

// CaptureFunc receives one period of float32 samples, interleaved if
// the stream is stereo. The slice is reused across calls; the callback
// must not retain it.
type CaptureFunc func(samples []float32)

// PlaybackFunc fills one period of float32 output, interleaved if the
// stream is stereo. Samples outside [-1, 1] are clamped at the device
// boundary.
type PlaybackFunc func(out []float32)
