package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts audio between the sample rates negotiable at the
// device boundary (44.1, 48 and 96 kHz).
//
// Uses linear interpolation, which is adequate for voice material and
// keeps the conversion dependency-free. State carries across calls so
// consecutive blocks join without discontinuities.
type Resampler struct {
	inputRate   uint32
	outputRate  uint32
	channels    int
	lastSamples []float32 // final frame of the previous block
	position    float64   // fractional read position into the input stream
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of audio channels (1=mono, 2=stereo)
}

// NewResampler creates a new sample rate converter.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: Any error that occurred during validation
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Info("Creating audio resampler")

	if config.InputRate == 0 || config.OutputRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "NewResampler",
			"input_rate":  config.InputRate,
			"output_rate": config.OutputRate,
			"error":       "invalid sample rates",
		}).Error("Sample rate validation failed")
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", config.InputRate, config.OutputRate)
	}

	if config.Channels < 1 || config.Channels > 2 {
		logrus.WithFields(logrus.Fields{
			"function": "NewResampler",
			"channels": config.Channels,
			"error":    "unsupported channel count",
		}).Error("Channel count validation failed")
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", config.Channels)
	}

	resampler := &Resampler{
		inputRate:   config.InputRate,
		outputRate:  config.OutputRate,
		channels:    config.Channels,
		lastSamples: make([]float32, config.Channels),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  resampler.inputRate,
		"output_rate": resampler.outputRate,
		"channels":    resampler.channels,
		"ratio":       float64(config.InputRate) / float64(config.OutputRate),
	}).Info("Audio resampler created successfully")

	return resampler, nil
}

// validateResamplerInput checks that the input block is non-empty and
// aligned to the configured channel count.
func validateResamplerInput(input []float32, channels int) error {
	if len(input) == 0 {
		return fmt.Errorf("empty input samples")
	}
	if len(input)%channels != 0 {
		return fmt.Errorf("input samples (%d) not aligned to channel count (%d)", len(input), channels)
	}
	return nil
}

// interpolateSample computes one output sample for one channel, handling
// the block boundaries where a neighbor sample is unavailable.
func interpolateSample(input []float32, inputIndex int, frac float64, ch, channels, inputFrames int, lastSamples []float32) float32 {
	if inputIndex < 0 {
		if len(lastSamples) > ch {
			return lastSamples[ch]
		}
		return 0
	}
	if inputIndex >= inputFrames-1 {
		if inputIndex < inputFrames {
			return input[inputIndex*channels+ch]
		}
		if len(input) > ch {
			return input[len(input)-channels+ch]
		}
		return 0
	}
	s1 := float64(input[inputIndex*channels+ch])
	s2 := float64(input[(inputIndex+1)*channels+ch])
	return float32(s1*(1.0-frac) + s2*frac)
}

// updateResamplerState advances the fractional position and stores the
// final frame for continuity with the next block.
func (r *Resampler) updateResamplerState(input []float32, inputFrames int) {
	r.position -= float64(inputFrames)
	if len(input) >= r.channels {
		copy(r.lastSamples, input[len(input)-r.channels:])
	}
}

// Resample converts one block of samples from the input rate to the
// output rate.
//
// Output length varies by one frame between calls depending on the
// fractional position. The same-rate case returns a copy of the input.
// This runs on the device feed path, so the conversion loop itself does
// not log.
//
// Parameters:
//   - input: Interleaved samples at the input rate
//
// Returns:
//   - []float32: Interleaved samples at the output rate
//   - error: Any error that occurred during validation
func (r *Resampler) Resample(input []float32) ([]float32, error) {
	if err := validateResamplerInput(input, r.channels); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Resample",
			"error":    err.Error(),
		}).Error("Input validation failed")
		return nil, err
	}

	if r.inputRate == r.outputRate {
		result := make([]float32, len(input))
		copy(result, input)
		return result, nil
	}

	ratio := float64(r.inputRate) / float64(r.outputRate)
	inputFrames := len(input) / r.channels
	outputFrames := int(float64(inputFrames)/ratio + 0.5)
	output := make([]float32, 0, outputFrames*r.channels)

	for outputFrame := 0; outputFrame < outputFrames; outputFrame++ {
		inputPos := r.position
		inputIndex := int(inputPos)
		frac := inputPos - float64(inputIndex)

		for ch := 0; ch < r.channels; ch++ {
			output = append(output, interpolateSample(input, inputIndex, frac, ch, r.channels, inputFrames, r.lastSamples))
		}

		r.position += ratio
	}

	r.updateResamplerState(input, inputFrames)

	return output, nil
}

// GetInputRate returns the configured input sample rate.
func (r *Resampler) GetInputRate() uint32 {
	return r.inputRate
}

// GetOutputRate returns the configured output sample rate.
func (r *Resampler) GetOutputRate() uint32 {
	return r.outputRate
}

// Reset clears interpolation state so the next block starts fresh.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastSamples {
		r.lastSamples[i] = 0
	}
}
