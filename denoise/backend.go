// Package denoise implements the tiered noise suppression backends and the
// priority-ordered fallback chain that selects between them.
//
// Four backend variants share one contract: hardware-accelerated inference,
// CPU deep-learning enhancement, classical spectral subtraction, and a
// passthrough backstop. The fallback chain degrades through them in
// priority order whenever the selected backend is unavailable or fails,
// and re-promotes only on an explicit reconfiguration or a periodic health
// re-check, never on the per-buffer path.
package denoise

import (
	"fmt"
	"strings"
	"time"
)

// Tier identifies a noise suppression backend variant, ordered from the
// highest quality tier to the backstop.
type Tier uint8

const (
	// TierGPU is hardware-accelerated inference behind the async bridge.
	TierGPU Tier = iota

	// TierDeepLearning is CPU neural enhancement through ONNX Runtime.
	TierDeepLearning

	// TierSpectral is classical spectral subtraction, always available.
	TierSpectral

	// TierPassthrough is the identity backstop.
	TierPassthrough
)

// String returns a human-readable name for the tier.
func (t Tier) String() string {
	switch t {
	case TierGPU:
		return "gpu"
	case TierDeepLearning:
		return "deep-learning"
	case TierSpectral:
		return "spectral"
	case TierPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// ParseTier converts a configuration string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gpu":
		return TierGPU, nil
	case "deep-learning", "deeplearning", "deep":
		return TierDeepLearning, nil
	case "spectral":
		return TierSpectral, nil
	case "passthrough":
		return TierPassthrough, nil
	default:
		return TierPassthrough, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// DefaultPriority returns the standard backend ordering, best tier first.
func DefaultPriority() []Tier {
	return []Tier{TierGPU, TierDeepLearning, TierSpectral, TierPassthrough}
}

// Backend is the contract every noise suppression variant implements.
//
// Process must be safe to call from the real-time thread: it either
// returns the suppressed samples or an error the fallback chain turns
// into a degrade, and it never blocks unboundedly.
type Backend interface {
	// Process applies noise suppression to one quantum of mono samples.
	// The returned slice may alias internal storage valid until the next
	// Process call.
	Process(samples []float32) ([]float32, error)

	// ReportedLatency returns the algorithmic delay the backend adds.
	ReportedLatency() time.Duration

	// IsAvailable reports whether the backend can process audio right now.
	IsAvailable() bool

	// Tier identifies the variant for chain ordering and stats.
	Tier() Tier

	// Close releases backend resources. Process calls after Close fail
	// with ErrBackendClosed.
	Close() error
}

// HealthChecker is implemented by backends that can re-attempt
// initialization outside the real-time path.
type HealthChecker interface {
	HealthCheck() error
}

// Passthrough is the identity backend, the backstop when every other
// variant has failed.
type Passthrough struct {
	closed bool
}

// NewPassthrough creates the identity backend.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

// Process returns the input unchanged.
func (p *Passthrough) Process(samples []float32) ([]float32, error) {
	if p.closed {
		return nil, ErrBackendClosed
	}
	return samples, nil
}

// ReportedLatency is always zero for the identity backend.
func (p *Passthrough) ReportedLatency() time.Duration {
	return 0
}

// IsAvailable is true until the backend is closed.
func (p *Passthrough) IsAvailable() bool {
	return !p.closed
}

// Tier returns TierPassthrough.
func (p *Passthrough) Tier() Tier {
	return TierPassthrough
}

// Close marks the backend closed.
func (p *Passthrough) Close() error {
	p.closed = true
	return nil
}
