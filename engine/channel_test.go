package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/phantomlink/denoise"
	"github.com/opd-ai/phantomlink/plugin"
)

// passthroughChain builds a chain holding only the identity backend.
func passthroughChain(t testing.TB) *denoise.FallbackChain {
	t.Helper()
	chain, err := denoise.NewFallbackChain(
		map[denoise.Tier]denoise.Backend{denoise.TierPassthrough: denoise.NewPassthrough()},
		[]denoise.Tier{denoise.TierPassthrough},
	)
	require.NoError(t, err)
	return chain
}

// doublerLoader instantiates an effect that multiplies samples by two.
type doublerLoader struct{}

func (doublerLoader) Probe(path string) (plugin.Info, error) {
	return plugin.Info{Name: "Doubler", Inputs: 1, Outputs: 1}, nil
}

func (doublerLoader) Instantiate(path string) (plugin.Instance, error) {
	return &doublerInstance{}, nil
}

type doublerInstance struct{}

func (doublerInstance) Info() plugin.Info { return plugin.Info{Name: "Doubler", Inputs: 1, Outputs: 1} }

func (doublerInstance) Process(samples []float32) error {
	for i := range samples {
		samples[i] *= 2
	}
	return nil
}

func (doublerInstance) SetParameter(index int32, value float32) error { return nil }
func (doublerInstance) Release() error                                { return nil }

// stallingLoader instantiates an effect that never returns from
// Process.
type stallingLoader struct {
	gate chan struct{}
	once sync.Once
}

func newStallingLoader() *stallingLoader {
	return &stallingLoader{gate: make(chan struct{})}
}

func (l *stallingLoader) Probe(path string) (plugin.Info, error) {
	return plugin.Info{Name: "Staller", Inputs: 1, Outputs: 1}, nil
}

func (l *stallingLoader) Instantiate(path string) (plugin.Instance, error) {
	return &stallingInstance{gate: l.gate}, nil
}

func (l *stallingLoader) Unstall() {
	l.once.Do(func() { close(l.gate) })
}

type stallingInstance struct {
	gate chan struct{}
}

func (s *stallingInstance) Info() plugin.Info                             { return plugin.Info{Name: "Staller"} }
func (s *stallingInstance) Process(samples []float32) error               { <-s.gate; return nil }
func (s *stallingInstance) SetParameter(index int32, value float32) error { return nil }
func (s *stallingInstance) Release() error                                { return nil }

func readyExecutor(t *testing.T, loader plugin.Loader, timeout time.Duration) *plugin.Executor {
	t.Helper()
	host := plugin.NewHost(loader)
	handle, err := host.Load(writeTestPlugin(t))
	require.NoError(t, err)
	e, err := plugin.NewExecutor(handle, loader, plugin.ExecutorConfig{Timeout: timeout})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.State() == plugin.StateReady },
		time.Second, time.Millisecond)
	return e
}

func TestNewChannelProcessorValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  ChannelConfig
		wantErr bool
	}{
		{"valid", ChannelConfig{ID: 0, Gain: 1, Volume: 1, Pan: 0}, false},
		{"pan left edge", ChannelConfig{Gain: 1, Volume: 1, Pan: -1}, false},
		{"pan out of range", ChannelConfig{Gain: 1, Volume: 1, Pan: 1.5}, true},
		{"negative gain", ChannelConfig{Gain: -0.1, Volume: 1}, true},
		{"negative volume", ChannelConfig{Gain: 1, Volume: -0.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChannelProcessor(tt.config, passthroughChain(t))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.config.ID, c.ID())
		})
	}
}

func TestChannelGainStagingIdentity(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{ID: 1, Gain: 0.5, Volume: 0.8}, passthroughChain(t))
	require.NoError(t, err)

	input := []float32{0.4, -0.4, 1.0}
	out := c.process(input)

	// Passthrough denoise, no plugin: output is exactly input scaled by
	// gain and volume.
	require.Len(t, out, 3)
	for i := range input {
		assert.InDelta(t, float64(input[i])*0.5*0.8, float64(out[i]), 1e-6)
	}
}

func TestChannelParameterAccessors(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)

	require.NoError(t, c.SetGain(2.0))
	require.NoError(t, c.SetVolume(0.5))
	require.NoError(t, c.SetPan(-0.25))
	c.SetMute(true)
	c.SetSolo(true)

	assert.Equal(t, 2.0, c.Gain())
	assert.Equal(t, 0.5, c.Volume())
	assert.Equal(t, -0.25, c.Pan())
	assert.True(t, c.Muted())
	assert.True(t, c.Soloed())

	assert.Error(t, c.SetGain(-1))
	assert.Error(t, c.SetVolume(-1))
	assert.Error(t, c.SetPan(2))
}

func TestChannelPluginApplied(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)
	e := readyExecutor(t, doublerLoader{}, 100*time.Millisecond)
	defer e.Close()

	require.Nil(t, c.AttachExecutor(e))

	out := c.process([]float32{0.1, 0.2})

	assert.InDelta(t, 0.2, out[0], 1e-6)
	assert.InDelta(t, 0.4, out[1], 1e-6)
}

func TestChannelDetachNeverAttachedIsNoOp(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)

	assert.Nil(t, c.DetachExecutor())
	assert.Nil(t, c.Executor())
}

func TestChannelAttachReturnsPrevious(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)
	e1 := readyExecutor(t, doublerLoader{}, 100*time.Millisecond)
	defer e1.Close()
	e2 := readyExecutor(t, doublerLoader{}, 100*time.Millisecond)
	defer e2.Close()

	require.Nil(t, c.AttachExecutor(e1))
	previous := c.AttachExecutor(e2)

	assert.Same(t, e1, previous)
	assert.Same(t, e2, c.Executor())
}

func TestChannelStalledPluginPassesThrough(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)
	loader := newStallingLoader()
	e := readyExecutor(t, loader, 5*time.Millisecond)
	defer func() {
		loader.Unstall()
		e.Close()
	}()
	c.AttachExecutor(e)

	input := []float32{0.3, -0.3}
	out := c.process(input)

	// Plugin never replies: output equals the pre-plugin buffer.
	assert.InDelta(t, 0.3, out[0], 1e-6)
	assert.InDelta(t, -0.3, out[1], 1e-6)
	assert.Equal(t, uint64(1), c.Stats().PluginTimeouts)
}

func TestChannelStatsReflectBackend(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)

	c.process(make([]float32, 64))
	stats := c.Stats()

	assert.Equal(t, uint64(1), stats.ProcessedBuffers)
	assert.Equal(t, denoise.TierPassthrough, stats.ActiveBackend)
}

func TestChannelCloseReturnsExecutor(t *testing.T) {
	c, err := NewChannelProcessor(ChannelConfig{Gain: 1, Volume: 1}, passthroughChain(t))
	require.NoError(t, err)
	e := readyExecutor(t, doublerLoader{}, 100*time.Millisecond)
	c.AttachExecutor(e)

	detached, err := c.Close()

	require.NoError(t, err)
	require.Same(t, e, detached)
	require.NoError(t, detached.Close())
}
