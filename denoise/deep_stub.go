//go:build !cgo

package denoise

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DeepBackend is the deep-learning enhancement tier. Without cgo the
// ONNX Runtime binding cannot build, so this stand-in always reports
// unavailable and the fallback chain skips the tier.
type DeepBackend struct {
	config DeepConfig
	closed atomic.Bool
}

// NewDeepBackend creates the deep-learning backend. Without cgo the
// backend starts degraded and stays that way; construction still
// validates the configuration so misconfiguration surfaces identically
// on every build.
func NewDeepBackend(config DeepConfig) (*DeepBackend, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "NewDeepBackend",
		"model_path": config.ModelPath,
		"strength":   config.Strength,
	}).Info("Creating deep-learning denoise backend")

	if err := validateDeepConfig(config); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewDeepBackend",
		"model_path": config.ModelPath,
	}).Warn("ONNX Runtime requires cgo, backend starts degraded")

	return &DeepBackend{config: config}, nil
}

// Process always fails so the fallback chain degrades past this tier.
func (b *DeepBackend) Process(samples []float32) ([]float32, error) {
	if b.closed.Load() {
		return nil, ErrBackendClosed
	}
	return nil, fmt.Errorf("%w: model not loaded", ErrBackendUnavailable)
}

// ReportedLatency returns the model's analysis lookahead.
func (b *DeepBackend) ReportedLatency() time.Duration {
	return deepLatency()
}

// IsAvailable is always false without cgo.
func (b *DeepBackend) IsAvailable() bool {
	return false
}

// Tier returns TierDeepLearning.
func (b *DeepBackend) Tier() Tier {
	return TierDeepLearning
}

// HealthCheck reports the tier permanently unavailable.
func (b *DeepBackend) HealthCheck() error {
	if b.closed.Load() {
		return ErrBackendClosed
	}
	return fmt.Errorf("%w: onnxruntime requires cgo", ErrBackendUnavailable)
}

// Close marks the backend closed.
func (b *DeepBackend) Close() error {
	b.closed.CompareAndSwap(false, true)
	return nil
}
