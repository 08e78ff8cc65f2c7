// Package phantomlink is the top-level facade over the virtual mixer:
// it assembles the audio engine, the per-channel denoise fallback
// chains, the plugin host and the session control plane, and exposes
// the operations a front end or headless runner needs.
package phantomlink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
	"github.com/opd-ai/phantomlink/denoise"
	"github.com/opd-ai/phantomlink/engine"
	"github.com/opd-ai/phantomlink/nvafx"
	"github.com/opd-ai/phantomlink/plugin"
	"github.com/opd-ai/phantomlink/record"
	"github.com/opd-ai/phantomlink/session"
)

// ErrNotRunning indicates an operation on a killed mixer.
var ErrNotRunning = errors.New("mixer not running")

// Options contains configuration options for creating a Mixer
// instance.
type Options struct {
	// SampleRate in Hz (44.1/48/96 kHz).
	SampleRate uint32

	// BufferSize is the quantum in samples per channel.
	BufferSize int

	// Channels is the number of input strips created up front.
	Channels int

	// MaxSessions caps the control plane's session map.
	MaxSessions int

	// PluginTimeout is the plugin reply deadline ceiling.
	PluginTimeout time.Duration

	// BridgeTimeout is the GPU bridge reply deadline ceiling.
	BridgeTimeout time.Duration

	// HealthCheckInterval paces backend re-probing from Iterate.
	HealthCheckInterval time.Duration

	// BackendPriority orders the denoise tiers, best first.
	BackendPriority []denoise.Tier

	// ModelPath locates the deep-learning denoise model; empty leaves
	// that tier unavailable.
	ModelPath string

	// PluginDirs extends the plugin search path.
	PluginDirs []string

	// GPULibrary is the accelerator binding; nil uses the simulation.
	GPULibrary nvafx.Library

	// MusicPath optionally names an Ogg/Opus file mixed under the
	// voice channels.
	MusicPath string

	// MusicGain scales the background program level.
	MusicGain float64
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		SampleRate:          session.DefaultSampleRate,
		BufferSize:          session.DefaultFrameSize,
		Channels:            2,
		MaxSessions:         64,
		PluginTimeout:       plugin.DefaultExecutorTimeout,
		BridgeTimeout:       nvafx.DefaultBridgeTimeout,
		HealthCheckInterval: 5 * time.Second,
		BackendPriority:     denoise.DefaultPriority(),
		MusicGain:           0.5,
	}
}

// FallbackCallback is called when a channel's denoise chain degrades.
type FallbackCallback func(channel uint32, from, to denoise.Tier)

// PluginFailureCallback is called when a channel's plugin executor
// fails terminally.
type PluginFailureCallback func(channel uint32, err error)

// LevelsCallback is called from Iterate with the mix bus levels.
type LevelsCallback func(levels audio.Levels)

// channelMonitor tracks one channel's adaptive tier ceiling alongside
// the priority order it filters.
type channelMonitor struct {
	monitor    *denoise.PerformanceMonitor
	priorities []denoise.Tier
	applied    denoise.Tier
}

// Mixer represents a running virtual mixer instance.
type Mixer struct {
	options *Options

	engine   *engine.Engine
	sessions *session.Manager
	host     *plugin.Host
	scanner  *plugin.Scanner

	music    *audio.MusicSource
	recorder atomic.Pointer[record.Recorder]

	running    atomic.Bool
	lastHealth time.Time

	monitorMu sync.Mutex
	monitors  map[uint32]*channelMonitor

	callbackMu sync.RWMutex
	onFallback FallbackCallback
	onPlugin   PluginFailureCallback
	onLevels   LevelsCallback
}

// New creates a new Mixer instance with the given options.
//
// Parameters:
//   - options: Mixer configuration; nil uses NewOptions defaults
//
// Returns:
//   - *Mixer: Running mixer with options.Channels strips configured
//   - error: Engine or channel construction failure
func New(options *Options) (*Mixer, error) {
	if options == nil {
		options = NewOptions()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "phantomlink.New",
		"sample_rate": options.SampleRate,
		"buffer_size": options.BufferSize,
		"channels":    options.Channels,
	}).Info("Creating mixer")

	eng, err := engine.New(engine.Config{
		SampleRate: options.SampleRate,
		BufferSize: options.BufferSize,
	})
	if err != nil {
		return nil, err
	}

	loader := plugin.NewBuiltinLoader()
	m := &Mixer{
		options: options,
		engine:  eng,
		host:    plugin.NewHost(loader),
		scanner: plugin.NewScanner(loader, options.PluginDirs...),
	}
	m.sessions = session.NewManager(eng, session.ManagerConfig{
		MaxSessions: options.MaxSessions,
	})
	m.monitors = make(map[uint32]*channelMonitor)

	for i := 0; i < options.Channels; i++ {
		if err := m.AddChannel(engine.ChannelConfig{
			ID:     uint32(i),
			Gain:   1.0,
			Volume: 1.0,
		}); err != nil {
			_ = eng.Close()
			return nil, err
		}
	}

	if options.MusicPath != "" {
		if err := m.openMusic(); err != nil {
			// A bad program file degrades to silence, not startup
			// failure.
			logrus.WithFields(logrus.Fields{
				"function": "phantomlink.New",
				"path":     options.MusicPath,
				"error":    err.Error(),
			}).Warn("Background music unavailable")
		}
	}

	m.running.Store(true)
	return m, nil
}

// openMusic starts the background program decoder and attaches it.
func (m *Mixer) openMusic() error {
	source, err := audio.NewMusicSource(audio.MusicSourceConfig{
		Path:       m.options.MusicPath,
		SampleRate: m.options.SampleRate,
		FrameSize:  m.options.BufferSize,
		Loop:       true,
	})
	if err != nil {
		return err
	}
	if err := source.Start(); err != nil {
		return err
	}
	m.music = source
	m.engine.SetMusicSource(source)
	return m.engine.SetMusicGain(m.options.MusicGain)
}

// newChain assembles one channel's denoise ladder according to the
// configured priority order.
func (m *Mixer) newChain(channel uint32) (*denoise.FallbackChain, error) {
	lib := m.options.GPULibrary
	if lib == nil {
		lib = nvafx.NewSimulation()
	}

	backends := make(map[denoise.Tier]denoise.Backend, len(m.options.BackendPriority))
	for _, tier := range m.options.BackendPriority {
		switch tier {
		case denoise.TierGPU:
			gpu := nvafx.NewGPUBackend(lib, nvafx.BridgeConfig{
				SampleRate: m.options.SampleRate,
				Timeout:    m.options.BridgeTimeout,
			})
			gpu.SetBufferPeriod(m.engine.BufferPeriod())
			backends[tier] = gpu
		case denoise.TierDeepLearning:
			deep, err := denoise.NewDeepBackend(denoise.DefaultDeepConfig(m.options.ModelPath))
			if err != nil {
				return nil, err
			}
			backends[tier] = deep
		case denoise.TierSpectral:
			spectral, err := denoise.NewSpectralBackend(0.7, m.options.BufferSize, m.options.SampleRate)
			if err != nil {
				return nil, err
			}
			backends[tier] = spectral
		case denoise.TierPassthrough:
			backends[tier] = denoise.NewPassthrough()
		}
	}

	chain, err := denoise.NewFallbackChain(backends, m.options.BackendPriority)
	if err != nil {
		return nil, err
	}
	chain.OnFallback = func(from, to denoise.Tier) {
		m.callbackMu.RLock()
		cb := m.onFallback
		m.callbackMu.RUnlock()
		if cb != nil {
			cb(channel, from, to)
		}
	}
	return chain, nil
}

// AddChannel creates a channel strip with its own denoise ladder.
func (m *Mixer) AddChannel(config engine.ChannelConfig) error {
	chain, err := m.newChain(config.ID)
	if err != nil {
		return err
	}
	c, err := engine.NewChannelProcessor(config, chain)
	if err != nil {
		_ = chain.Close()
		return err
	}
	if err := m.engine.AddChannel(c); err != nil {
		_ = chain.Close()
		return err
	}

	best := bestTier(m.options.BackendPriority)
	m.monitorMu.Lock()
	m.monitors[config.ID] = &channelMonitor{
		monitor:    denoise.NewPerformanceMonitor(denoise.DefaultMonitorConfig(), best),
		priorities: append([]denoise.Tier(nil), m.options.BackendPriority...),
		applied:    best,
	}
	m.monitorMu.Unlock()
	return nil
}

// bestTier returns the highest-quality tier in the priority order.
func bestTier(priorities []denoise.Tier) denoise.Tier {
	best := denoise.TierPassthrough
	for _, tier := range priorities {
		if tier < best {
			best = tier
		}
	}
	return best
}

// tiersAtOrBelow filters the priority order to tiers no better than the
// given ceiling, preserving relative order.
func tiersAtOrBelow(priorities []denoise.Tier, ceiling denoise.Tier) []denoise.Tier {
	filtered := make([]denoise.Tier, 0, len(priorities))
	for _, tier := range priorities {
		if tier >= ceiling {
			filtered = append(filtered, tier)
		}
	}
	return filtered
}

// RemoveChannel tears down a channel strip and its plugin, if any.
func (m *Mixer) RemoveChannel(id uint32) error {
	c, err := m.engine.RemoveChannel(id)
	if err != nil {
		return err
	}
	m.monitorMu.Lock()
	delete(m.monitors, id)
	m.monitorMu.Unlock()
	executor, err := c.Close()
	if executor != nil {
		_ = executor.Close()
	}
	return err
}

// ConfigureChannel replaces a channel's denoise priority order and
// resets its adaptive ceiling to the best tier of the new order.
func (m *Mixer) ConfigureChannel(id uint32, priorities []denoise.Tier) error {
	if err := m.sessions.Configure(id, priorities); err != nil {
		return err
	}

	best := bestTier(priorities)
	m.monitorMu.Lock()
	if cm := m.monitors[id]; cm != nil {
		cm.priorities = append([]denoise.Tier(nil), priorities...)
		cm.applied = best
		cm.monitor.Reset(best)
	}
	m.monitorMu.Unlock()
	return nil
}

// SetChannelGain sets a channel's input gain.
func (m *Mixer) SetChannelGain(id uint32, gain float64) error {
	c, err := m.engine.Channel(id)
	if err != nil {
		return err
	}
	return c.SetGain(gain)
}

// SetChannelVolume sets a channel's output level.
func (m *Mixer) SetChannelVolume(id uint32, volume float64) error {
	c, err := m.engine.Channel(id)
	if err != nil {
		return err
	}
	return c.SetVolume(volume)
}

// SetChannelPan positions a channel in the stereo field.
func (m *Mixer) SetChannelPan(id uint32, pan float64) error {
	c, err := m.engine.Channel(id)
	if err != nil {
		return err
	}
	return c.SetPan(pan)
}

// SetChannelMute mutes or unmutes a channel.
func (m *Mixer) SetChannelMute(id uint32, muted bool) error {
	c, err := m.engine.Channel(id)
	if err != nil {
		return err
	}
	c.SetMute(muted)
	return nil
}

// AttachPlugin loads the plugin at path onto the channel, replacing
// and releasing any previous attachment. The swap happens between
// quanta, never mid-buffer.
//
// Parameters:
//   - id: Channel identifier
//   - path: Plugin file path (.so)
//
// Returns:
//   - error: Load, instantiation or channel lookup failure
func (m *Mixer) AttachPlugin(id uint32, path string) error {
	c, err := m.engine.Channel(id)
	if err != nil {
		return err
	}

	handle, err := m.host.Load(path)
	if err != nil {
		return err
	}

	executor, err := plugin.NewExecutor(handle, m.host.Loader(), plugin.ExecutorConfig{
		Timeout: m.options.PluginTimeout,
	})
	if err != nil {
		_ = m.host.Unload(handle)
		return err
	}
	executor.SetBufferPeriod(m.engine.BufferPeriod())
	executor.OnFailure = func(err error) {
		m.callbackMu.RLock()
		cb := m.onPlugin
		m.callbackMu.RUnlock()
		if cb != nil {
			cb(id, err)
		}
	}

	if previous := c.AttachExecutor(executor); previous != nil {
		_ = previous.Close()
	}
	return nil
}

// DetachPlugin removes and releases the channel's plugin. Detaching
// when nothing is attached is a no-op.
func (m *Mixer) DetachPlugin(id uint32) error {
	c, err := m.engine.Channel(id)
	if err != nil {
		return err
	}
	if previous := c.DetachExecutor(); previous != nil {
		return previous.Close()
	}
	return nil
}

// ScanPlugins probes the search directories for loadable plugins.
func (m *Mixer) ScanPlugins() ([]plugin.Info, error) {
	return m.scanner.Scan()
}

// CreateSession registers a voice-processing session for a channel.
func (m *Mixer) CreateSession(id uint32, config session.Config) error {
	return m.sessions.CreateSession(id, config)
}

// DestroySession removes a session.
func (m *Mixer) DestroySession(id uint32) error {
	return m.sessions.DestroySession(id)
}

// SessionStats reports a session's processing statistics.
func (m *Mixer) SessionStats(id uint32) (session.ProcessingStats, error) {
	return m.sessions.GetStats(id)
}

// SetRecorder attaches a mix-bus recorder, nil to detach. The previous
// recorder, if any, is returned still open; the caller closes it.
func (m *Mixer) SetRecorder(r *record.Recorder) *record.Recorder {
	return m.recorder.Swap(r)
}

// Process runs one quantum through every channel into the interleaved
// stereo output and taps the result to the recorder, if attached.
// Called from the audio I/O callback.
func (m *Mixer) Process(inputs map[uint32][]float32, out []float32) error {
	if !m.running.Load() {
		return ErrNotRunning
	}
	if err := m.engine.Process(inputs, out); err != nil {
		return err
	}
	if r := m.recorder.Load(); r != nil {
		r.Submit(out)
	}
	return nil
}

// OnFallback sets the callback for denoise chain degradation.
func (m *Mixer) OnFallback(callback FallbackCallback) {
	m.callbackMu.Lock()
	m.onFallback = callback
	m.callbackMu.Unlock()
}

// OnPluginFailure sets the callback for terminal plugin failures.
func (m *Mixer) OnPluginFailure(callback PluginFailureCallback) {
	m.callbackMu.Lock()
	m.onPlugin = callback
	m.callbackMu.Unlock()
}

// OnLevels sets the callback for mix bus level reports from Iterate.
func (m *Mixer) OnLevels(callback LevelsCallback) {
	m.callbackMu.Lock()
	m.onLevels = callback
	m.callbackMu.Unlock()
}

// Iterate performs one round of mixer housekeeping: backend health
// checks at the configured interval, idle session sweeping and level
// reporting. Call it from the application loop, never from the audio
// callback.
func (m *Mixer) Iterate() {
	if !m.running.Load() {
		return
	}

	now := time.Now()
	if now.Sub(m.lastHealth) >= m.options.HealthCheckInterval {
		m.lastHealth = now
		for _, c := range m.engine.Channels() {
			c.Chain().HealthCheck()
		}
	}

	m.adaptTiers()
	m.sessions.SweepIdle()

	m.callbackMu.RLock()
	cb := m.onLevels
	m.callbackMu.RUnlock()
	if cb != nil {
		cb(m.engine.Levels())
	}
}

// adaptTiers feeds each channel's latest processing time into its
// performance monitor and narrows or widens the chain's priority order
// when the recommended ceiling moves.
func (m *Mixer) adaptTiers() {
	period := m.engine.BufferPeriod()
	for _, c := range m.engine.Channels() {
		m.monitorMu.Lock()
		cm := m.monitors[c.ID()]
		m.monitorMu.Unlock()
		if cm == nil {
			continue
		}

		stats := c.Stats()
		if stats.LastProcessTime > 0 {
			meas := denoise.Measurement{Latency: stats.LastProcessTime}
			if period > 0 {
				meas.CPUFraction = float64(stats.LastProcessTime) / float64(period)
			}
			cm.monitor.Record(meas)
		}

		ceiling := cm.monitor.Adapt()
		if ceiling == cm.applied {
			continue
		}
		filtered := tiersAtOrBelow(cm.priorities, ceiling)
		if len(filtered) == 0 {
			continue
		}
		if err := c.Chain().Configure(filtered); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Mixer.adaptTiers",
				"channel":  c.ID(),
				"ceiling":  ceiling.String(),
				"error":    err.Error(),
			}).Warn("Tier ceiling change rejected")
			continue
		}
		cm.applied = ceiling
	}
}

// IterationInterval returns the recommended interval between Iterate
// calls.
func (m *Mixer) IterationInterval() time.Duration {
	return 100 * time.Millisecond
}

// IsRunning checks if the mixer instance is still running.
func (m *Mixer) IsRunning() bool {
	return m.running.Load()
}

// Engine exposes the underlying audio engine for device wiring.
func (m *Mixer) Engine() *engine.Engine {
	return m.engine
}

// Kill stops the mixer and releases all resources.
func (m *Mixer) Kill() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Mixer.Kill",
	}).Info("Stopping mixer")

	var errs []error
	if r := m.recorder.Swap(nil); r != nil {
		errs = append(errs, r.Close())
	}
	if m.music != nil {
		errs = append(errs, m.music.Stop())
	}
	errs = append(errs,
		m.scanner.Close(),
		m.sessions.Close(),
		m.engine.Close(),
	)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mixer shutdown: %w", err)
	}
	return nil
}
