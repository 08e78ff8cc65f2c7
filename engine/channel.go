// Package engine implements the real-time mixing core: per-channel
// processing chains composed into an engine driven once per hardware
// buffer period.
//
// The processing path never allocates, never takes a lock another
// thread can hold for unbounded time, and never performs I/O. Channel
// configuration (gain, pan, plugin attachment) is staged from other
// goroutines through atomics and applied between quanta, never
// mid-buffer.
package engine

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
	"github.com/opd-ai/phantomlink/denoise"
	"github.com/opd-ai/phantomlink/plugin"
)

// ChannelConfig describes one input channel at creation time.
type ChannelConfig struct {
	// ID is the channel identifier, unique within an engine.
	ID uint32

	// Gain is the input gain applied before denoising (default 1.0).
	Gain float64

	// Volume is the output level applied after effects (default 1.0).
	Volume float64

	// Pan positions the channel in the stereo field (-1 left .. +1
	// right, 0 center).
	Pan float64
}

// ChannelStats is a snapshot of per-channel counters.
type ChannelStats struct {
	ProcessedBuffers uint64
	PluginTimeouts   uint64
	PluginDropped    uint64
	PluginErrors     uint64
	ActiveBackend    denoise.Tier
	Levels           audio.Levels
	LastProcessTime  time.Duration
}

// ChannelProcessor owns the processing state for one input channel and
// composes its fixed pipeline: input gain, denoise fallback chain,
// optional plugin executor, output volume. Pan placement happens in the
// engine's mix stage.
//
// Exactly one ChannelProcessor owns one channel's state; control-plane
// goroutines adjust parameters through atomic setters and the engine
// goroutine reads them once per quantum.
type ChannelProcessor struct {
	id    uint32
	chain *denoise.FallbackChain

	gainBits   atomic.Uint64
	volumeBits atomic.Uint64
	panBits    atomic.Uint64
	muted      atomic.Bool
	soloed     atomic.Bool

	executor atomic.Pointer[plugin.Executor]

	scratch []float32
	post    []float32

	processedBuffers atomic.Uint64
	pluginErrors     atomic.Uint64
	levelsPacked     atomic.Uint64
	processNs        atomic.Int64
}

// NewChannelProcessor creates a channel over the given denoise chain.
//
// Parameters:
//   - config: Channel identity and initial gain staging
//   - chain: Denoise fallback chain, owned by the channel from now on
//
// Returns:
//   - *ChannelProcessor: New channel instance
//   - error: Validation error for out-of-range parameters
func NewChannelProcessor(config ChannelConfig, chain *denoise.FallbackChain) (*ChannelProcessor, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewChannelProcessor",
		"channel":  config.ID,
		"gain":     config.Gain,
		"volume":   config.Volume,
		"pan":      config.Pan,
	}).Info("Creating channel processor")

	if config.Pan < -1.0 || config.Pan > 1.0 {
		return nil, fmt.Errorf("pan %f out of range [-1, 1]", config.Pan)
	}
	if config.Gain < 0 {
		return nil, fmt.Errorf("gain cannot be negative: %f", config.Gain)
	}
	if config.Volume < 0 {
		return nil, fmt.Errorf("volume cannot be negative: %f", config.Volume)
	}

	c := &ChannelProcessor{
		id:      config.ID,
		chain:   chain,
		scratch: make([]float32, audio.MaxBufferSize),
		post:    make([]float32, audio.MaxBufferSize),
	}
	c.gainBits.Store(math.Float64bits(config.Gain))
	c.volumeBits.Store(math.Float64bits(config.Volume))
	c.panBits.Store(math.Float64bits(config.Pan))
	return c, nil
}

// ID returns the channel identifier.
func (c *ChannelProcessor) ID() uint32 {
	return c.id
}

// Chain returns the channel's denoise fallback chain.
func (c *ChannelProcessor) Chain() *denoise.FallbackChain {
	return c.chain
}

// SetGain updates the input gain. Applied from the next quantum on.
func (c *ChannelProcessor) SetGain(gain float64) error {
	if gain < 0 {
		return fmt.Errorf("gain cannot be negative: %f", gain)
	}
	c.gainBits.Store(math.Float64bits(gain))
	return nil
}

// Gain returns the current input gain.
func (c *ChannelProcessor) Gain() float64 {
	return math.Float64frombits(c.gainBits.Load())
}

// SetVolume updates the output volume. Applied from the next quantum on.
func (c *ChannelProcessor) SetVolume(volume float64) error {
	if volume < 0 {
		return fmt.Errorf("volume cannot be negative: %f", volume)
	}
	c.volumeBits.Store(math.Float64bits(volume))
	return nil
}

// Volume returns the current output volume.
func (c *ChannelProcessor) Volume() float64 {
	return math.Float64frombits(c.volumeBits.Load())
}

// SetPan positions the channel in the stereo field (-1..1).
func (c *ChannelProcessor) SetPan(pan float64) error {
	if pan < -1.0 || pan > 1.0 {
		return fmt.Errorf("pan %f out of range [-1, 1]", pan)
	}
	c.panBits.Store(math.Float64bits(pan))
	return nil
}

// Pan returns the current stereo position.
func (c *ChannelProcessor) Pan() float64 {
	return math.Float64frombits(c.panBits.Load())
}

// SetMute mutes or unmutes the channel.
func (c *ChannelProcessor) SetMute(muted bool) {
	c.muted.Store(muted)
}

// Muted reports whether the channel is muted.
func (c *ChannelProcessor) Muted() bool {
	return c.muted.Load()
}

// SetSolo marks the channel soloed; when any channel is soloed the
// engine mixes only soloed channels.
func (c *ChannelProcessor) SetSolo(soloed bool) {
	c.soloed.Store(soloed)
}

// Soloed reports whether the channel is soloed.
func (c *ChannelProcessor) Soloed() bool {
	return c.soloed.Load()
}

// AttachExecutor hands the plugin executor to the channel. The swap is
// a single atomic pointer store, so it lands between quanta, never
// mid-buffer. Any previously attached executor is returned for the
// caller to close off the real-time path.
func (c *ChannelProcessor) AttachExecutor(e *plugin.Executor) *plugin.Executor {
	previous := c.executor.Swap(e)

	logrus.WithFields(logrus.Fields{
		"function": "ChannelProcessor.AttachExecutor",
		"channel":  c.id,
		"replaced": previous != nil,
	}).Info("Plugin executor attached")

	return previous
}

// DetachExecutor removes the plugin attachment and returns the detached
// executor, nil when none was attached. Detaching a never-attached
// plugin is a no-op. In-flight replies are simply ignored when they
// arrive; the caller closes the executor off the real-time path.
func (c *ChannelProcessor) DetachExecutor() *plugin.Executor {
	previous := c.executor.Swap(nil)
	if previous != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ChannelProcessor.DetachExecutor",
			"channel":  c.id,
		}).Info("Plugin executor detached")
	}
	return previous
}

// Executor returns the currently attached executor, nil when none.
func (c *ChannelProcessor) Executor() *plugin.Executor {
	return c.executor.Load()
}

// process runs one quantum through the channel pipeline and returns the
// post-volume mono samples. The returned slice is channel-owned scratch
// valid until the next call. Real-time path: no allocation, no locks.
func (c *ChannelProcessor) process(input []float32) []float32 {
	start := time.Now()
	n := len(input)

	// Stage 1: input gain.
	gain := float32(math.Float64frombits(c.gainBits.Load()))
	for i := 0; i < n; i++ {
		c.scratch[i] = input[i] * gain
	}
	staged := c.scratch[:n]

	// Stage 2: denoise through the fallback chain. On total failure the
	// chain already returned the input unchanged.
	denoised, err := c.chain.Process(staged)
	if err != nil {
		denoised = staged
	}

	// Stage 3: plugin executor, most recent completed reply. Timeouts,
	// staleness and failures all come back as the pre-plugin buffer.
	processed := denoised
	if e := c.executor.Load(); e != nil {
		out, err := e.Process(denoised)
		if err != nil {
			c.pluginErrors.Add(1)
			out = denoised
		}
		processed = out
	}

	// Stage 4: output volume into the post buffer, which also decouples
	// the result from backend-owned scratch.
	volume := float32(math.Float64frombits(c.volumeBits.Load()))
	for i := 0; i < n; i++ {
		c.post[i] = processed[i] * volume
	}

	c.processedBuffers.Add(1)
	c.levelsPacked.Store(audio.PackLevels(audio.Measure(c.post[:n])))
	c.processNs.Store(time.Since(start).Nanoseconds())
	return c.post[:n]
}

// Stats returns a snapshot of channel counters.
func (c *ChannelProcessor) Stats() ChannelStats {
	stats := ChannelStats{
		ProcessedBuffers: c.processedBuffers.Load(),
		PluginErrors:     c.pluginErrors.Load(),
		ActiveBackend:    c.chain.ActiveTier(),
		Levels:           audio.UnpackLevels(c.levelsPacked.Load()),
		LastProcessTime:  time.Duration(c.processNs.Load()),
	}
	if e := c.executor.Load(); e != nil {
		es := e.Stats()
		stats.PluginTimeouts = es.Timeouts
		stats.PluginDropped = es.DroppedRequests
	}
	return stats
}

// Close detaches any executor and closes the denoise chain. The caller
// closes the returned executor.
func (c *ChannelProcessor) Close() (*plugin.Executor, error) {
	detached := c.DetachExecutor()
	err := c.chain.Close()

	logrus.WithFields(logrus.Fields{
		"function":  "ChannelProcessor.Close",
		"channel":   c.id,
		"processed": c.processedBuffers.Load(),
	}).Info("Channel processor closed")

	return detached, err
}
