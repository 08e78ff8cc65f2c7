package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGainPluginUnityByDefault(t *testing.T) {
	g := NewGainPlugin()
	samples := []float32{0.25, -0.5}

	require.NoError(t, g.Process(samples))

	assert.Equal(t, []float32{0.25, -0.5}, samples)
}

func TestGainPluginAppliesLevel(t *testing.T) {
	g := NewGainPlugin()
	require.NoError(t, g.SetParameter(GainParamLevel, 2.0))

	samples := []float32{0.25, -0.25}
	require.NoError(t, g.Process(samples))

	assert.InDelta(t, 0.5, samples[0], 1e-6)
	assert.InDelta(t, -0.5, samples[1], 1e-6)
}

func TestGainPluginClipsAtFullScale(t *testing.T) {
	g := NewGainPlugin()
	require.NoError(t, g.SetParameter(GainParamLevel, 4.0))

	samples := []float32{0.9, -0.9}
	require.NoError(t, g.Process(samples))

	assert.Equal(t, float32(1.0), samples[0])
	assert.Equal(t, float32(-1.0), samples[1])
}

func TestGainPluginParameterClamping(t *testing.T) {
	g := NewGainPlugin()

	require.NoError(t, g.SetParameter(GainParamLevel, -1.0))
	samples := []float32{0.5}
	require.NoError(t, g.Process(samples))
	assert.Equal(t, float32(0), samples[0])

	assert.ErrorIs(t, g.SetParameter(99, 1.0), ErrParameterRange)
}

func TestGainPluginInfo(t *testing.T) {
	info := NewGainPlugin().Info()

	assert.Equal(t, "Phantom Gain", info.Name)
	assert.Equal(t, 1, info.Parameters)
	assert.False(t, info.IsSynth)
}

func TestCompressorPluginReducesLoudPeaks(t *testing.T) {
	c := NewCompressorPlugin(48000)

	// A sustained full-scale burst must come out quieter than it went
	// in once the envelope has charged.
	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = 0.95
	}
	require.NoError(t, c.Process(samples))

	assert.Less(t, samples[len(samples)-1], float32(0.95))
	assert.Greater(t, samples[len(samples)-1], float32(0))
}

func TestCompressorPluginLeavesQuietSignalAlone(t *testing.T) {
	c := NewCompressorPlugin(48000)

	// -40 dB input sits far under the -20 dB threshold.
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 0.01
	}
	require.NoError(t, c.Process(samples))

	for _, s := range samples {
		assert.InDelta(t, 0.01, s, 1e-4)
	}
}

func TestCompressorPluginParameters(t *testing.T) {
	c := NewCompressorPlugin(48000)

	require.NoError(t, c.SetParameter(CompParamThreshold, -30))
	require.NoError(t, c.SetParameter(CompParamRatio, 0.5)) // clamped to 1.0
	require.NoError(t, c.SetParameter(CompParamAttack, 0.01))
	require.NoError(t, c.SetParameter(CompParamRelease, 0.1))
	assert.ErrorIs(t, c.SetParameter(42, 1.0), ErrParameterRange)

	// Parameters arrive as float32; compare within conversion precision.
	assert.InDelta(t, 1.0, c.ratio, 1e-6)
	assert.InDelta(t, 0.1, c.attackMs, 1e-6)
	assert.InDelta(t, 1.0, c.releaseMs, 1e-6)
}

func TestCompressorPluginReleaseResetsEnvelope(t *testing.T) {
	c := NewCompressorPlugin(48000)

	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = 0.95
	}
	require.NoError(t, c.Process(samples))
	require.Greater(t, c.peak, 0.0)

	require.NoError(t, c.Release())
	assert.Zero(t, c.peak)
}

func BenchmarkCompressorProcess(b *testing.B) {
	c := NewCompressorPlugin(48000)
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = float32(i%100)/100.0 - 0.5
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Process(samples); err != nil {
			b.Fatal(err)
		}
	}
}
