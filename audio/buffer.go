// Package audio provides the buffer, sample format and level measurement
// primitives shared by every stage of the PhantomLink processing pipeline.
//
// All pipeline stages exchange normalized float32 samples in the range
// [-1.0, 1.0]. Integer PCM only appears at the device and file boundaries,
// where the conversion helpers in format.go translate to and from the
// internal representation.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Buffer size limits for one processing quantum, in samples per channel.
const (
	MinBufferSize = 32
	MaxBufferSize = 2048
)

// Buffer is the unit of audio data moved between pipeline stages.
//
// A Buffer has a fixed sample rate and channel count for its lifetime.
// Once handed to a downstream stage it must be treated as immutable;
// stages that transform audio write into their own destination storage.
type Buffer struct {
	// Samples holds interleaved samples when Channels > 1.
	Samples    []float32
	SampleRate uint32
	Channels   int
}

// NewBuffer creates a zeroed buffer holding frames samples per channel.
//
// Parameters:
//   - frames: Number of samples per channel (MinBufferSize..MaxBufferSize)
//   - channels: Channel count (1 or 2)
//   - sampleRate: Sample rate in Hz
//
// Returns:
//   - *Buffer: New buffer instance
//   - error: Validation error for out-of-range parameters
func NewBuffer(frames, channels int, sampleRate uint32) (*Buffer, error) {
	if err := ValidateBufferSize(frames); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewBuffer",
			"frames":   frames,
			"error":    err.Error(),
		}).Error("Buffer size validation failed")
		return nil, err
	}
	if channels < 1 || channels > 2 {
		logrus.WithFields(logrus.Fields{
			"function": "NewBuffer",
			"channels": channels,
			"error":    "unsupported channel count",
		}).Error("Channel count validation failed")
		return nil, fmt.Errorf("unsupported channel count: %d (must be 1 or 2)", channels)
	}
	if err := ValidateSampleRate(sampleRate); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewBuffer",
			"sample_rate": sampleRate,
			"error":       err.Error(),
		}).Error("Sample rate validation failed")
		return nil, err
	}

	return &Buffer{
		Samples:    make([]float32, frames*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback time covered by the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate == 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Clone returns a deep copy that shares no storage with the original.
func (b *Buffer) Clone() *Buffer {
	samples := make([]float32, len(b.Samples))
	copy(samples, b.Samples)
	return &Buffer{
		Samples:    samples,
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// ValidateBufferSize checks that frames is within the supported quantum range.
func ValidateBufferSize(frames int) error {
	if frames < MinBufferSize || frames > MaxBufferSize {
		return fmt.Errorf("buffer size %d out of range [%d, %d]", frames, MinBufferSize, MaxBufferSize)
	}
	return nil
}

// BufferPeriod returns the real-time deadline for one quantum of the given
// size: frames / sampleRate.
func BufferPeriod(frames int, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// BufferPool recycles fixed-size sample slices so that per-quantum
// allocations stay off the real-time path.
//
// All slices handed out have the same length; Put silently drops slices
// of any other length so a misuse cannot poison the pool.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of float32 slices of the given length.
//
// The pool is pre-warmed with a small number of slices so the first
// processing quanta do not allocate.
func NewBufferPool(size int) *BufferPool {
	logrus.WithFields(logrus.Fields{
		"function": "NewBufferPool",
		"size":     size,
	}).Debug("Creating buffer pool")

	bp := &BufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]float32, size)
			},
		},
	}
	for i := 0; i < 4; i++ {
		bp.pool.Put(make([]float32, size))
	}
	return bp
}

// Get returns a slice of the pool's configured length. Contents are
// unspecified; callers overwrite every element.
func (bp *BufferPool) Get() []float32 {
	return bp.pool.Get().([]float32)
}

// Put returns a slice to the pool for reuse.
func (bp *BufferPool) Put(buf []float32) {
	if len(buf) != bp.size {
		return
	}
	bp.pool.Put(buf) //nolint:staticcheck // slice headers are small
}

// Size returns the slice length this pool hands out.
func (bp *BufferPool) Size() int {
	return bp.size
}

// InterleaveStereo packs separate left and right channels into dst as
// [L0, R0, L1, R1, ...]. dst must hold len(left)+len(right) samples.
// No allocation; safe on the real-time path.
func InterleaveStereo(dst, left, right []float32) {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	for i := 0; i < n; i++ {
		dst[i*2] = left[i]
		dst[i*2+1] = right[i]
	}
}

// DeinterleaveStereo splits interleaved stereo src into left and right.
// No allocation; safe on the real-time path.
func DeinterleaveStereo(left, right, src []float32) {
	n := len(src) / 2
	if len(left) < n {
		n = len(left)
	}
	if len(right) < n {
		n = len(right)
	}
	for i := 0; i < n; i++ {
		left[i] = src[i*2]
		right[i] = src[i*2+1]
	}
}

// MonoToStereo duplicates a mono signal into interleaved stereo storage.
// No allocation; safe on the real-time path.
func MonoToStereo(dst, src []float32) {
	n := len(src)
	if len(dst)/2 < n {
		n = len(dst) / 2
	}
	for i := 0; i < n; i++ {
		dst[i*2] = src[i]
		dst[i*2+1] = src[i]
	}
}
