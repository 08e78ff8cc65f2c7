package denoise

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Deep-learning backend framing, matching the model's training configuration:
// 48 kHz, 10 ms hop, 20 ms analysis window.
const (
	deepSampleRate = 48000
	deepHopSize    = 480
	deepFFTSize    = 960
	deepNumFreqs   = deepFFTSize/2 + 1
)

// DeepConfig configures the CPU deep-learning enhancement backend.
type DeepConfig struct {
	// ModelPath locates the spectral-mask ONNX model on disk.
	ModelPath string

	// LibraryPath optionally overrides the ONNX Runtime shared library
	// location. Empty uses the onnxruntime_go default.
	LibraryPath string

	// Strength scales the predicted suppression mask (0.0 = bypass,
	// 1.0 = full model output).
	Strength float64
}

// DefaultDeepConfig returns the standard deep backend configuration.
func DefaultDeepConfig(modelPath string) DeepConfig {
	return DeepConfig{
		ModelPath: modelPath,
		Strength:  1.0,
	}
}

// validateDeepConfig checks the tag-independent configuration fields.
func validateDeepConfig(config DeepConfig) error {
	if config.Strength < 0.0 || config.Strength > 1.0 {
		logrus.WithFields(logrus.Fields{
			"function": "NewDeepBackend",
			"strength": config.Strength,
			"error":    "strength must be between 0.0 and 1.0",
		}).Error("Strength validation failed")
		return fmt.Errorf("strength must be between 0.0 and 1.0: %f", config.Strength)
	}
	return nil
}

// deepLatency is the model's analysis lookahead: one window minus one
// hop.
func deepLatency() time.Duration {
	return time.Duration(deepFFTSize-deepHopSize) * time.Second / deepSampleRate
}
