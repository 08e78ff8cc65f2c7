package device

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// HardwareControl is the boundary to a device's hardware mixer: input
// gain on the capture stage and the zero-latency direct monitor path.
// Implementations talk to the driver; everything above this interface
// is hardware-agnostic.
type HardwareControl interface {
	// SetInputGain sets the analog capture gain in 0.0 .. 1.0, mapped
	// onto the device's native range.
	SetInputGain(gain float64) error

	// SetDirectMonitor switches the hardware monitor path.
	SetDirectMonitor(enabled bool) error

	// Close releases the control handle.
	Close() error
}

// ControlElement models one mixer element exposed by a driver.
type ControlElement interface {
	Name() string
	SetVolume(fraction float64) error
	SetSwitch(on bool) error
}

// ElementResolver finds mixer elements by name on an open device.
type ElementResolver interface {
	Resolve(name string) (ControlElement, error)
	Close() error
}

// Element names USB class-compliant interfaces expose.
const (
	elementCapture       = "Capture"
	elementDirectMonitor = "Direct Monitor"
)

// USBControl drives a USB audio interface's mixer through named
// control elements. The capture element is required; direct monitoring
// is optional and reports ErrControlUnavailable when absent.
type USBControl struct {
	resolver ElementResolver
	capture  ControlElement
	monitor  ControlElement
}

// NewUSBControl resolves the mixer elements on the given device.
//
// Parameters:
//   - resolver: Open handle to the device's mixer elements
//
// Returns:
//   - *USBControl: Control surface over the resolved elements
//   - error: ErrControlUnavailable when the capture element is missing
func NewUSBControl(resolver ElementResolver) (*USBControl, error) {
	capture, err := resolver.Resolve(elementCapture)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrControlUnavailable, elementCapture)
	}

	// Not every interface has a monitor path.
	monitor, err := resolver.Resolve(elementDirectMonitor)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewUSBControl",
			"element":  elementDirectMonitor,
		}).Debug("Device has no direct monitor element")
		monitor = nil
	}

	return &USBControl{
		resolver: resolver,
		capture:  capture,
		monitor:  monitor,
	}, nil
}

// SetInputGain sets the analog capture gain (0.0 .. 1.0).
func (u *USBControl) SetInputGain(gain float64) error {
	if gain < 0.0 || gain > 1.0 {
		return fmt.Errorf("input gain %f out of range [0, 1]", gain)
	}
	return u.capture.SetVolume(gain)
}

// SetDirectMonitor switches the hardware monitor path.
func (u *USBControl) SetDirectMonitor(enabled bool) error {
	if u.monitor == nil {
		return fmt.Errorf("%w: %s", ErrControlUnavailable, elementDirectMonitor)
	}
	return u.monitor.SetSwitch(enabled)
}

// Close releases the underlying mixer handle.
func (u *USBControl) Close() error {
	return u.resolver.Close()
}

// NopControl is the control surface for setups without a controllable
// interface; gain and monitoring silently stay wherever the hardware
// has them.
type NopControl struct{}

func (NopControl) SetInputGain(gain float64) error {
	if gain < 0.0 || gain > 1.0 {
		return fmt.Errorf("input gain %f out of range [0, 1]", gain)
	}
	return nil
}

func (NopControl) SetDirectMonitor(enabled bool) error { return nil }

func (NopControl) Close() error { return nil }
