package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
)

// Config describes the engine's fixed stream format.
type Config struct {
	// SampleRate in Hz (44.1/48/96 kHz).
	SampleRate uint32

	// BufferSize is the quantum in samples per channel (32..2048).
	BufferSize int
}

// EngineStats is a snapshot of engine-wide counters.
type EngineStats struct {
	ProcessedBuffers uint64
	ClippedSamples   uint64
	Channels         int
	Output           audio.Levels
}

// Engine owns the set of channel processors and is driven once per
// hardware buffer period by the audio I/O callback.
//
// Process is the only method with real-time responsibilities. The
// channel set is kept in a copy-on-write slice behind an atomic
// pointer: Process reads it with a single load while AddChannel and
// RemoveChannel build replacement slices under a mutex off the
// real-time path.
type Engine struct {
	sampleRate uint32
	bufferSize int

	mu       sync.Mutex
	channels atomic.Pointer[[]*ChannelProcessor]
	closed   atomic.Bool

	music     atomic.Pointer[audio.MusicSource]
	musicGain atomic.Uint64

	mixL []float32
	mixR []float32

	processedBuffers atomic.Uint64
	clippedSamples   atomic.Uint64
	levelsPacked     atomic.Uint64
}

// New creates an engine with no channels configured.
//
// Parameters:
//   - config: Stream format; validated against the supported ranges
//
// Returns:
//   - *Engine: New engine instance
//   - error: Validation error for out-of-range format parameters
func New(config Config) (*Engine, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "engine.New",
		"sample_rate": config.SampleRate,
		"buffer_size": config.BufferSize,
	}).Info("Creating audio engine")

	if err := audio.ValidateSampleRate(config.SampleRate); err != nil {
		return nil, err
	}
	if err := audio.ValidateBufferSize(config.BufferSize); err != nil {
		return nil, err
	}

	e := &Engine{
		sampleRate: config.SampleRate,
		bufferSize: config.BufferSize,
		mixL:       make([]float32, config.BufferSize),
		mixR:       make([]float32, config.BufferSize),
	}
	empty := make([]*ChannelProcessor, 0)
	e.channels.Store(&empty)
	e.musicGain.Store(math.Float64bits(1.0))
	return e, nil
}

// SampleRate returns the engine's stream rate in Hz.
func (e *Engine) SampleRate() uint32 {
	return e.sampleRate
}

// BufferSize returns the quantum in samples per channel.
func (e *Engine) BufferSize() int {
	return e.bufferSize
}

// BufferPeriod returns the real-time deadline for one quantum.
func (e *Engine) BufferPeriod() time.Duration {
	return audio.BufferPeriod(e.bufferSize, e.sampleRate)
}

// AddChannel registers a channel processor. Never called from the
// real-time path.
func (e *Engine) AddChannel(c *ChannelProcessor) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.channels.Load()
	for _, existing := range current {
		if existing.ID() == c.ID() {
			return fmt.Errorf("%w: %d", ErrChannelExists, c.ID())
		}
	}

	next := make([]*ChannelProcessor, len(current)+1)
	copy(next, current)
	next[len(current)] = c
	e.channels.Store(&next)

	logrus.WithFields(logrus.Fields{
		"function": "Engine.AddChannel",
		"channel":  c.ID(),
		"channels": len(next),
	}).Info("Channel added to engine")

	return nil
}

// RemoveChannel unregisters a channel and returns it for teardown by
// the caller. Never called from the real-time path.
func (e *Engine) RemoveChannel(id uint32) (*ChannelProcessor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := *e.channels.Load()
	idx := -1
	for i, c := range current {
		if c.ID() == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, id)
	}

	removed := current[idx]
	next := make([]*ChannelProcessor, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	e.channels.Store(&next)

	logrus.WithFields(logrus.Fields{
		"function": "Engine.RemoveChannel",
		"channel":  id,
		"channels": len(next),
	}).Info("Channel removed from engine")

	return removed, nil
}

// Channel returns the processor with the given identifier.
func (e *Engine) Channel(id uint32) (*ChannelProcessor, error) {
	for _, c := range *e.channels.Load() {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrChannelNotFound, id)
}

// Channels returns the current channel processors in mix order.
func (e *Engine) Channels() []*ChannelProcessor {
	current := *e.channels.Load()
	out := make([]*ChannelProcessor, len(current))
	copy(out, current)
	return out
}

// SetMusicSource attaches a background program source mixed under the
// voice channels, nil to detach. Swapped atomically between quanta.
func (e *Engine) SetMusicSource(source *audio.MusicSource) {
	e.music.Store(source)
}

// SetMusicGain scales the background program level.
func (e *Engine) SetMusicGain(gain float64) error {
	if gain < 0 {
		return fmt.Errorf("music gain cannot be negative: %f", gain)
	}
	e.musicGain.Store(math.Float64bits(gain))
	return nil
}

// Process runs one quantum: every channel's pipeline, constant-power
// pan placement, summing, the optional music bed, and output clipping.
//
// inputs maps channel ID to that channel's mono input block; channels
// with no entry process silence. out receives interleaved stereo and
// must hold 2*BufferSize samples. Called once per hardware buffer
// period from the real-time thread; never allocates and never blocks
// beyond the executors' bounded polls.
func (e *Engine) Process(inputs map[uint32][]float32, out []float32) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if len(out) != e.bufferSize*2 {
		return fmt.Errorf("%w: output of %d samples, want %d", ErrBufferMismatch, len(out), e.bufferSize*2)
	}

	n := e.bufferSize
	for i := 0; i < n; i++ {
		e.mixL[i] = 0
		e.mixR[i] = 0
	}

	channels := *e.channels.Load()
	anySolo := false
	for _, c := range channels {
		if c.Soloed() {
			anySolo = true
			break
		}
	}

	for _, c := range channels {
		if c.Muted() || (anySolo && !c.Soloed()) {
			continue
		}
		input, ok := inputs[c.ID()]
		if !ok || len(input) != n {
			continue
		}

		processed := c.process(input)

		// Constant-power pan law.
		angle := (c.Pan() + 1.0) * math.Pi / 4.0
		gl := float32(math.Cos(angle))
		gr := float32(math.Sin(angle))
		for i := 0; i < n; i++ {
			e.mixL[i] += processed[i] * gl
			e.mixR[i] += processed[i] * gr
		}
	}

	e.mixMusic(n)

	clipped := uint64(0)
	for i := 0; i < n; i++ {
		l := audio.Clamp(e.mixL[i])
		r := audio.Clamp(e.mixR[i])
		if l != e.mixL[i] || r != e.mixR[i] {
			clipped++
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	if clipped > 0 {
		e.clippedSamples.Add(clipped)
	}

	e.processedBuffers.Add(1)
	e.levelsPacked.Store(audio.PackLevels(audio.Measure(out)))
	return nil
}

// mixMusic adds the ready background frame, if any, under the voice mix.
func (e *Engine) mixMusic(n int) {
	source := e.music.Load()
	if source == nil {
		return
	}
	frame := source.NextFrame()
	if frame == nil {
		return
	}

	gain := float32(math.Float64frombits(e.musicGain.Load()))
	m := len(frame)
	if m > n {
		m = n
	}
	for i := 0; i < m; i++ {
		e.mixL[i] += frame[i] * gain
		e.mixR[i] += frame[i] * gain
	}
	source.Recycle(frame)
}

// Levels returns the latest output peak/RMS snapshot.
func (e *Engine) Levels() audio.Levels {
	return audio.UnpackLevels(e.levelsPacked.Load())
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		ProcessedBuffers: e.processedBuffers.Load(),
		ClippedSamples:   e.clippedSamples.Load(),
		Channels:         len(*e.channels.Load()),
		Output:           e.Levels(),
	}
}

// Close tears down every channel. Executors detached during teardown
// are closed here, off the real-time path.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	channels := *e.channels.Load()
	empty := make([]*ChannelProcessor, 0)
	e.channels.Store(&empty)
	e.mu.Unlock()

	var errs []error
	for _, c := range channels {
		executor, err := c.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("closing channel %d: %w", c.ID(), err))
		}
		if executor != nil {
			if err := executor.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing channel %d executor: %w", c.ID(), err))
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Engine.Close",
		"channels":  len(channels),
		"processed": e.processedBuffers.Load(),
	}).Info("Audio engine closed")

	return errors.Join(errs...)
}
