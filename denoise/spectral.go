package denoise

import (
	"fmt"
	"math"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
)

// Spectral subtraction tuning. The noise floor is learned from the first
// frames of the stream, then subtracted with an over-subtraction factor
// and a spectral floor that prevents musical noise artifacts.
const (
	noiseLearnFrames   = 10
	noiseFloorAlpha    = 0.8
	overSubtraction    = 2.0
	spectralFloorRatio = 0.1
)

// SpectralBackend implements classical spectral subtraction. It is the
// always-available software fallback tier.
//
// The algorithm operates on overlapping Hann-windowed frames: forward
// FFT, magnitude subtraction against the estimated noise floor, inverse
// FFT and overlap-add reconstruction.
type SpectralBackend struct {
	suppressionLevel float64
	frameSize        int
	overlapSize      int
	sampleRate       uint32

	windowBuffer []float64
	noiseFloor   []float64
	initialized  bool
	frameCount   int
	closed       bool

	// Scratch storage sized at construction so Process does not allocate
	// beyond the FFT library's internal working memory.
	floatIn   []float64
	outAccum  []float64
	frame     []float64
	windowed  []float64
	magnitude []float64
	synth     []float64
	out32     []float32
}

// NewSpectralBackend creates the spectral subtraction backend.
//
// Parameters:
//   - suppressionLevel: Suppression strength (0.0 = none, 1.0 = maximum)
//   - frameSize: FFT frame size in samples, between 64 and 4096
//   - sampleRate: Stream sample rate in Hz
//
// Returns:
//   - *SpectralBackend: New backend instance
//   - error: Validation error if parameters are invalid
func NewSpectralBackend(suppressionLevel float64, frameSize int, sampleRate uint32) (*SpectralBackend, error) {
	logrus.WithFields(logrus.Fields{
		"function":          "NewSpectralBackend",
		"suppression_level": suppressionLevel,
		"frame_size":        frameSize,
		"sample_rate":       sampleRate,
	}).Info("Creating spectral denoise backend")

	if suppressionLevel < 0.0 || suppressionLevel > 1.0 {
		logrus.WithFields(logrus.Fields{
			"function":          "NewSpectralBackend",
			"suppression_level": suppressionLevel,
			"error":             "suppression level must be between 0.0 and 1.0",
		}).Error("Suppression level validation failed")
		return nil, fmt.Errorf("suppression level must be between 0.0 and 1.0: %f", suppressionLevel)
	}

	if frameSize < 64 || frameSize > 4096 {
		logrus.WithFields(logrus.Fields{
			"function":   "NewSpectralBackend",
			"frame_size": frameSize,
			"error":      "frame size must be between 64 and 4096",
		}).Error("Frame size validation failed")
		return nil, fmt.Errorf("frame size must be between 64 and 4096: %d", frameSize)
	}

	if err := audio.ValidateSampleRate(sampleRate); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewSpectralBackend",
			"sample_rate": sampleRate,
			"error":       err.Error(),
		}).Error("Sample rate validation failed")
		return nil, err
	}

	backend := &SpectralBackend{
		suppressionLevel: suppressionLevel,
		frameSize:        frameSize,
		overlapSize:      frameSize / 2,
		sampleRate:       sampleRate,
		windowBuffer:     window.Hann(frameSize),
		noiseFloor:       make([]float64, frameSize/2+1),
		floatIn:          make([]float64, audio.MaxBufferSize),
		outAccum:         make([]float64, audio.MaxBufferSize),
		frame:            make([]float64, frameSize),
		windowed:         make([]float64, frameSize),
		magnitude:        make([]float64, frameSize/2+1),
		synth:            make([]float64, frameSize),
		out32:            make([]float32, audio.MaxBufferSize),
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewSpectralBackend",
		"frame_size":   backend.frameSize,
		"overlap_size": backend.overlapSize,
	}).Info("Spectral denoise backend created successfully")

	return backend, nil
}

// Process applies spectral subtraction to one quantum of mono samples.
//
// The first frames of a stream train the noise floor estimate; until
// training completes the signal passes through the analysis chain without
// subtraction. The returned slice aliases internal storage valid until
// the next Process call.
func (s *SpectralBackend) Process(samples []float32) ([]float32, error) {
	if s.closed {
		return nil, ErrBackendClosed
	}
	if len(samples) == 0 {
		return samples, nil
	}
	if len(samples) > len(s.floatIn) {
		return nil, fmt.Errorf("input of %d samples exceeds maximum of %d", len(samples), len(s.floatIn))
	}

	n := len(samples)
	for i := 0; i < n; i++ {
		s.floatIn[i] = float64(samples[i])
		s.outAccum[i] = 0
	}

	s.processOverlapping(s.floatIn[:n], s.outAccum[:n])

	for i := 0; i < n; i++ {
		v := s.outAccum[i]
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s.out32[i] = float32(v)
	}

	return s.out32[:n], nil
}

// processOverlapping runs 50% overlapped frames through the spectral
// subtraction core and overlap-adds the results into output.
func (s *SpectralBackend) processOverlapping(input, output []float64) {
	hopSize := s.frameSize - s.overlapSize

	for pos := 0; pos < len(input); pos += hopSize {
		frameEnd := pos + s.frameSize
		if frameEnd > len(input) {
			frameEnd = len(input)
		}

		for i := range s.frame {
			s.frame[i] = 0
		}
		copy(s.frame, input[pos:frameEnd])

		processed := s.processFrame(s.frame)

		for i, val := range processed {
			outPos := pos + i
			if outPos < len(output) {
				output[outPos] += val
			}
		}
	}
}

// processFrame applies spectral subtraction to one windowed frame and
// returns the reconstructed time-domain samples.
func (s *SpectralBackend) processFrame(frame []float64) []float64 {
	for i := range frame {
		s.windowed[i] = frame[i] * s.windowBuffer[i]
	}

	spectrum := fft.FFTReal(s.windowed)

	magnitude := s.magnitudeSpectrum(spectrum)
	s.updateNoiseFloor(magnitude)
	s.applySubtraction(spectrum, magnitude)

	return s.reconstruct(spectrum)
}

// magnitudeSpectrum extracts the half-spectrum magnitudes into scratch.
func (s *SpectralBackend) magnitudeSpectrum(spectrum []complex128) []float64 {
	for i := 0; i <= s.frameSize/2; i++ {
		s.magnitude[i] = math.Sqrt(real(spectrum[i])*real(spectrum[i]) + imag(spectrum[i])*imag(spectrum[i]))
	}
	return s.magnitude
}

// updateNoiseFloor learns the noise spectrum from the initial frames.
func (s *SpectralBackend) updateNoiseFloor(magnitude []float64) {
	if s.frameCount >= noiseLearnFrames {
		return
	}
	for i := range s.noiseFloor {
		if s.frameCount == 0 {
			s.noiseFloor[i] = magnitude[i]
		} else {
			s.noiseFloor[i] = noiseFloorAlpha*s.noiseFloor[i] + (1-noiseFloorAlpha)*magnitude[i]
		}
	}
	s.frameCount++
	if s.frameCount >= noiseLearnFrames {
		s.initialized = true
		logrus.WithFields(logrus.Fields{
			"function":     "SpectralBackend.updateNoiseFloor",
			"learn_frames": noiseLearnFrames,
		}).Info("Noise floor estimation completed")
	}
}

// applySubtraction scales spectral bins by the subtraction ratio, keeping
// the spectral floor and mirroring onto the negative frequencies.
func (s *SpectralBackend) applySubtraction(spectrum []complex128, magnitude []float64) {
	if !s.initialized {
		return
	}
	for i := range magnitude {
		subtracted := magnitude[i] - overSubtraction*s.suppressionLevel*s.noiseFloor[i]

		floor := spectralFloorRatio * magnitude[i]
		if subtracted < floor {
			subtracted = floor
		}

		if magnitude[i] > 0 {
			ratio := subtracted / magnitude[i]
			spectrum[i] = complex(real(spectrum[i])*ratio, imag(spectrum[i])*ratio)
			if mirror := s.frameSize - i; i > 0 && mirror != i && mirror < s.frameSize {
				spectrum[mirror] = complex(real(spectrum[mirror])*ratio, imag(spectrum[mirror])*ratio)
			}
		}
	}
}

// reconstruct inverse-transforms the spectrum into scratch and applies
// the synthesis window for overlap-add. The result is valid until the
// next frame.
func (s *SpectralBackend) reconstruct(spectrum []complex128) []float64 {
	timeDomain := fft.IFFT(spectrum)

	for i := range s.synth {
		s.synth[i] = real(timeDomain[i]) * s.windowBuffer[i]
	}
	return s.synth
}

// ReportedLatency returns the overlap delay introduced by framing.
func (s *SpectralBackend) ReportedLatency() time.Duration {
	return time.Duration(s.overlapSize) * time.Second / time.Duration(s.sampleRate)
}

// IsAvailable is true until the backend is closed. Spectral subtraction
// has no external dependencies to fail.
func (s *SpectralBackend) IsAvailable() bool {
	return !s.closed
}

// Tier returns TierSpectral.
func (s *SpectralBackend) Tier() Tier {
	return TierSpectral
}

// Reset clears the learned noise floor so the next stream re-trains it.
func (s *SpectralBackend) Reset() {
	for i := range s.noiseFloor {
		s.noiseFloor[i] = 0
	}
	s.frameCount = 0
	s.initialized = false
}

// Close marks the backend closed.
func (s *SpectralBackend) Close() error {
	s.closed = true
	return nil
}
