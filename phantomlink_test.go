package phantomlink

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/phantomlink/audio"
	"github.com/opd-ai/phantomlink/denoise"
	"github.com/opd-ai/phantomlink/engine"
	"github.com/opd-ai/phantomlink/nvafx"
	"github.com/opd-ai/phantomlink/session"
)

func writeBuiltinPlugin(t *testing.T, basename string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), basename)
	require.NoError(t, os.WriteFile(path, []byte("builtin"), 0o644))
	return path
}

func newTestMixer(t *testing.T, options *Options) *Mixer {
	t.Helper()
	m, err := New(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Kill() })
	return m
}

func TestNewDefaults(t *testing.T) {
	m := newTestMixer(t, nil)
	assert.True(t, m.IsRunning())
	assert.Len(t, m.Engine().Channels(), 2)
	assert.Greater(t, m.IterationInterval().Nanoseconds(), int64(0))
}

func TestNewRejectsBadFormat(t *testing.T) {
	options := NewOptions()
	options.SampleRate = 12345
	_, err := New(options)
	assert.Error(t, err)
}

func TestChannelControls(t *testing.T) {
	m := newTestMixer(t, nil)

	require.NoError(t, m.SetChannelGain(0, 1.5))
	require.NoError(t, m.SetChannelVolume(0, 0.8))
	require.NoError(t, m.SetChannelPan(0, -0.5))
	require.NoError(t, m.SetChannelMute(0, true))

	c, err := m.Engine().Channel(0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, c.Gain())
	assert.Equal(t, 0.8, c.Volume())
	assert.Equal(t, -0.5, c.Pan())
	assert.True(t, c.Muted())
}

func TestChannelControlsUnknownChannel(t *testing.T) {
	m := newTestMixer(t, nil)

	assert.Error(t, m.SetChannelGain(99, 1.0))
	assert.Error(t, m.SetChannelVolume(99, 1.0))
	assert.Error(t, m.SetChannelPan(99, 0))
	assert.Error(t, m.SetChannelMute(99, true))
	assert.Error(t, m.DetachPlugin(99))
}

func TestAddRemoveChannel(t *testing.T) {
	m := newTestMixer(t, nil)

	require.NoError(t, m.AddChannel(engine.ChannelConfig{ID: 5, Gain: 1, Volume: 1}))
	assert.Len(t, m.Engine().Channels(), 3)

	require.NoError(t, m.RemoveChannel(5))
	assert.Len(t, m.Engine().Channels(), 2)

	assert.Error(t, m.RemoveChannel(5))
}

func TestProcessRoundTrip(t *testing.T) {
	m := newTestMixer(t, nil)

	input := make([]float32, 480)
	for i := range input {
		input[i] = 0.1
	}
	out := make([]float32, 960)
	require.NoError(t, m.Process(map[uint32][]float32{0: input}, out))

	var sum float32
	for _, s := range out {
		if s < 0 {
			s = -s
		}
		sum += s
	}
	assert.Greater(t, sum, float32(0))
}

func TestProcessAfterKill(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	require.NoError(t, m.Kill())

	assert.False(t, m.IsRunning())
	err = m.Process(map[uint32][]float32{}, make([]float32, 960))
	assert.ErrorIs(t, err, ErrNotRunning)

	// Kill is idempotent.
	require.NoError(t, m.Kill())
}

func TestAttachDetachPlugin(t *testing.T) {
	m := newTestMixer(t, nil)
	path := writeBuiltinPlugin(t, "phantom_gain.so")

	require.NoError(t, m.AttachPlugin(0, path))

	c, err := m.Engine().Channel(0)
	require.NoError(t, err)
	assert.NotNil(t, c.Executor())

	require.NoError(t, m.DetachPlugin(0))
	assert.Nil(t, c.Executor())

	// Detach with nothing attached is a no-op.
	require.NoError(t, m.DetachPlugin(0))
}

func TestAttachPluginUnknownPath(t *testing.T) {
	m := newTestMixer(t, nil)
	err := m.AttachPlugin(0, filepath.Join(t.TempDir(), "missing.so"))
	assert.Error(t, err)
}

func TestAttachPluginReplacesPrevious(t *testing.T) {
	m := newTestMixer(t, nil)
	gain := writeBuiltinPlugin(t, "phantom_gain.so")
	comp := writeBuiltinPlugin(t, "phantom_comp.so")

	require.NoError(t, m.AttachPlugin(0, gain))
	c, err := m.Engine().Channel(0)
	require.NoError(t, err)
	first := c.Executor()

	require.NoError(t, m.AttachPlugin(0, comp))
	second := c.Executor()
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestSessionPassthroughs(t *testing.T) {
	m := newTestMixer(t, nil)

	require.NoError(t, m.CreateSession(0, session.VoiceChatConfig()))

	stats, err := m.SessionStats(0)
	require.NoError(t, err)
	assert.False(t, stats.Active)

	require.NoError(t, m.DestroySession(0))
	_, err = m.SessionStats(0)
	assert.Error(t, err)
}

func TestConfigureChannelReordersChain(t *testing.T) {
	options := NewOptions()
	options.BackendPriority = []denoise.Tier{denoise.TierSpectral, denoise.TierPassthrough}
	m := newTestMixer(t, options)

	c, err := m.Engine().Channel(0)
	require.NoError(t, err)
	assert.Equal(t, denoise.TierSpectral, c.Chain().ActiveTier())

	require.NoError(t, m.ConfigureChannel(0, []denoise.Tier{denoise.TierPassthrough, denoise.TierSpectral}))
	assert.Equal(t, denoise.TierPassthrough, c.Chain().ActiveTier())
}

func TestFallbackCallbackFires(t *testing.T) {
	sim := nvafx.NewSimulation()
	sim.FailProcess = true

	options := NewOptions()
	options.Channels = 1
	options.GPULibrary = sim
	options.BackendPriority = []denoise.Tier{denoise.TierGPU, denoise.TierPassthrough}
	m := newTestMixer(t, options)

	var mu sync.Mutex
	var events []denoise.Tier
	m.OnFallback(func(channel uint32, from, to denoise.Tier) {
		mu.Lock()
		events = append(events, to)
		mu.Unlock()
		assert.Equal(t, uint32(0), channel)
	})

	input := make([]float32, 480)
	for i := range input {
		input[i] = 0.2
	}
	out := make([]float32, 960)
	for i := 0; i < 20; i++ {
		require.NoError(t, m.Process(map[uint32][]float32{0: input}, out))
	}

	c, err := m.Engine().Channel(0)
	require.NoError(t, err)
	assert.Equal(t, denoise.TierPassthrough, c.Chain().ActiveTier())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, denoise.TierPassthrough, events[len(events)-1])
}

func TestIterateReportsLevels(t *testing.T) {
	m := newTestMixer(t, nil)

	input := make([]float32, 480)
	for i := range input {
		input[i] = 0.5
	}
	out := make([]float32, 960)
	require.NoError(t, m.Process(map[uint32][]float32{0: input}, out))

	reported := false
	m.OnLevels(func(levels audio.Levels) {
		reported = true
		assert.Greater(t, levels.Peak, float32(0))
	})
	m.Iterate()
	assert.True(t, reported)
}

func TestScanPluginsFindsConfiguredDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "phantom_gain.so"), []byte("builtin"), 0o644))

	options := NewOptions()
	options.PluginDirs = []string{dir}
	m := newTestMixer(t, options)

	infos, err := m.ScanPlugins()
	require.NoError(t, err)

	found := false
	for _, info := range infos {
		if filepath.Dir(info.Path) == dir {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBestTier(t *testing.T) {
	assert.Equal(t, denoise.TierGPU, bestTier([]denoise.Tier{
		denoise.TierSpectral, denoise.TierGPU, denoise.TierPassthrough,
	}))
	assert.Equal(t, denoise.TierSpectral, bestTier([]denoise.Tier{
		denoise.TierPassthrough, denoise.TierSpectral,
	}))
	assert.Equal(t, denoise.TierPassthrough, bestTier(nil))
}

func TestTiersAtOrBelow(t *testing.T) {
	priorities := []denoise.Tier{
		denoise.TierGPU, denoise.TierSpectral, denoise.TierPassthrough,
	}

	assert.Equal(t, priorities, tiersAtOrBelow(priorities, denoise.TierGPU))
	assert.Equal(t,
		[]denoise.Tier{denoise.TierSpectral, denoise.TierPassthrough},
		tiersAtOrBelow(priorities, denoise.TierDeepLearning))
	assert.Empty(t, tiersAtOrBelow([]denoise.Tier{denoise.TierGPU}, denoise.TierSpectral))
}

func TestAdaptiveCeilingNarrowsChain(t *testing.T) {
	options := NewOptions()
	options.Channels = 1
	options.BackendPriority = []denoise.Tier{
		denoise.TierGPU, denoise.TierSpectral, denoise.TierPassthrough,
	}
	m := newTestMixer(t, options)

	c, err := m.Engine().Channel(0)
	require.NoError(t, err)
	require.Equal(t, denoise.TierGPU, c.Chain().ActiveTier())

	// Replace the channel's monitor with one that re-evaluates on every
	// call and considers any measurable latency over budget.
	config := denoise.DefaultMonitorConfig()
	config.AdaptInterval = time.Nanosecond
	config.MaxLatency = time.Nanosecond
	config.MaxCPUFraction = 0.0001
	monitor := denoise.NewPerformanceMonitor(config, denoise.TierGPU)
	m.monitorMu.Lock()
	cm := m.monitors[0]
	cm.monitor = monitor
	m.monitorMu.Unlock()

	for i := 0; i < 10; i++ {
		monitor.Record(denoise.Measurement{
			Latency:     50 * time.Millisecond,
			CPUFraction: 1.0,
		})
	}
	time.Sleep(time.Millisecond)
	m.adaptTiers()

	assert.Equal(t, denoise.TierDeepLearning, cm.applied)
	assert.Equal(t, denoise.TierSpectral, c.Chain().ActiveTier())

	// A manual reconfigure restores the full order and resets the
	// ceiling to its best tier.
	require.NoError(t, m.ConfigureChannel(0, options.BackendPriority))
	assert.Equal(t, denoise.TierGPU, cm.applied)
	assert.Equal(t, denoise.TierGPU, c.Chain().ActiveTier())
}
