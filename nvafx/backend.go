package nvafx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/denoise"
)

// GPUBackend adapts the async bridge to the denoise backend contract,
// making hardware acceleration the top tier of a fallback chain.
//
// Construction never fails on an unavailable accelerator; the backend
// reports unavailable so the chain skips it, and HealthCheck re-attempts
// device initialization outside the real-time path.
//
// The running bridge sits behind an atomic pointer: Process and
// IsAvailable only load it, so the real-time thread never waits behind
// a device initialization running in openBridge.
type GPUBackend struct {
	lib    Library
	config BridgeConfig

	bridge atomic.Pointer[Bridge]
	closed atomic.Bool

	// openMu serializes bridge construction and teardown; it is never
	// taken on the real-time path.
	openMu    sync.Mutex
	period    time.Duration
	onFailure func(err error)
}

// Compile-time checks that GPUBackend slots into a fallback chain.
var (
	_ denoise.Backend       = (*GPUBackend)(nil)
	_ denoise.HealthChecker = (*GPUBackend)(nil)
)

// NewGPUBackend creates the hardware tier and attempts the first device
// initialization.
func NewGPUBackend(lib Library, config BridgeConfig) *GPUBackend {
	b := &GPUBackend{lib: lib, config: config}

	if err := b.openBridge(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "NewGPUBackend",
			"device_id": config.DeviceID,
			"error":     err.Error(),
		}).Warn("Hardware acceleration unavailable, backend starts degraded")
	}
	return b
}

// openBridge builds the bridge if one is not already running. The
// replacement is fully initialized before it is swapped in, so the
// real-time path never observes a half-built bridge. Never called from
// the real-time path.
func (b *GPUBackend) openBridge() error {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	if b.closed.Load() {
		return denoise.ErrBackendClosed
	}
	if current := b.bridge.Load(); current != nil && !current.Failed() {
		return nil
	}

	bridge, err := NewBridge(b.lib, b.config)
	if err != nil {
		return fmt.Errorf("%w: %v", denoise.ErrBackendUnavailable, err)
	}
	bridge.OnFailure = b.onFailure
	if b.period > 0 {
		bridge.SetBufferPeriod(b.period)
	}

	if old := b.bridge.Swap(bridge); old != nil {
		// A failed bridge's worker and context are already torn down.
		_ = old.Close()
	}
	return nil
}

// currentBridge returns the running bridge or nil.
func (b *GPUBackend) currentBridge() *Bridge {
	if b.closed.Load() {
		return nil
	}
	bridge := b.bridge.Load()
	if bridge == nil || bridge.Failed() {
		return nil
	}
	return bridge
}

// Process runs one quantum through the bridge with its one-buffer
// pipeline delay.
func (b *GPUBackend) Process(samples []float32) ([]float32, error) {
	bridge := b.currentBridge()
	if bridge == nil {
		return nil, fmt.Errorf("%w: no acceleration context", denoise.ErrBackendUnavailable)
	}
	out, err := bridge.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", denoise.ErrHardwareFailure, err)
	}
	return out, nil
}

// ReportedLatency is one buffer period of pipeline delay plus the
// polling deadline.
func (b *GPUBackend) ReportedLatency() time.Duration {
	timeout := b.config.Timeout
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	return timeout
}

// IsAvailable reports whether a healthy bridge is running.
func (b *GPUBackend) IsAvailable() bool {
	return b.currentBridge() != nil
}

// Tier returns denoise.TierGPU.
func (b *GPUBackend) Tier() denoise.Tier {
	return denoise.TierGPU
}

// SetBufferPeriod propagates the engine's buffer period to the bridge
// deadline cap, including bridges opened later by HealthCheck.
func (b *GPUBackend) SetBufferPeriod(period time.Duration) {
	b.openMu.Lock()
	b.period = period
	b.openMu.Unlock()

	if bridge := b.bridge.Load(); bridge != nil {
		bridge.SetBufferPeriod(period)
	}
}

// OnFailure registers the single-shot bridge failure callback, carried
// onto bridges opened later by HealthCheck. Set before processing
// starts.
func (b *GPUBackend) OnFailure(fn func(err error)) {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	b.onFailure = fn
	if bridge := b.bridge.Load(); bridge != nil {
		bridge.OnFailure = fn
	}
}

// BridgeStats returns the current bridge counters, zero when no bridge
// is running.
func (b *GPUBackend) BridgeStats() BridgeStats {
	if bridge := b.bridge.Load(); bridge != nil {
		return bridge.Stats()
	}
	return BridgeStats{}
}

// HealthCheck re-attempts device initialization when degraded.
func (b *GPUBackend) HealthCheck() error {
	return b.openBridge()
}

// Close tears down the bridge and marks the backend closed.
func (b *GPUBackend) Close() error {
	b.openMu.Lock()
	defer b.openMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if bridge := b.bridge.Swap(nil); bridge != nil {
		return bridge.Close()
	}
	return nil
}
