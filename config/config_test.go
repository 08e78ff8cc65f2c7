package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/phantomlink/denoise"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(48000), cfg.SampleRate)
	assert.Equal(t, 480, cfg.BufferSize)
	assert.Len(t, cfg.Channels, 2)
	require.NoError(t, cfg.Validate())

	tiers, err := cfg.Priorities()
	require.NoError(t, err)
	assert.Equal(t, denoise.DefaultPriority(), tiers)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phantomlink.toml")

	cfg := Default()
	cfg.SampleRate = 96000
	cfg.BufferSize = 256
	cfg.PluginDirs = []string{"/opt/plugins"}
	cfg.BackendPriority = []string{"spectral", "passthrough"}
	cfg.Channels = []Channel{
		{ID: 3, Gain: 1.5, Volume: 0.8, Pan: -0.5, Muted: true, Plugin: "/usr/lib/vst/comp.so"},
	}
	cfg.Device = Device{CaptureID: "mic0", InputGain: 0.4, DirectMonitor: true}
	cfg.Recorder = Recorder{Enabled: true, Path: "mix.ogg", Bitrate: 96000}
	cfg.Music = Music{Path: "bed.opus", Gain: 0.3}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cfg.toml")
	require.NoError(t, Save(path, Default()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad sample rate", "sample_rate = 12345\nbuffer_size = 480\n"},
		{"bad buffer size", "sample_rate = 48000\nbuffer_size = 7\n"},
		{"bad tier name", "sample_rate = 48000\nbuffer_size = 480\nbackend_priority = [\"quantum\"]\n"},
		{"bad pan", "sample_rate = 48000\nbuffer_size = 480\n[[channels]]\nid = 1\npan = 2.0\n"},
		{"not toml", "{\"json\": true}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestValidateDuplicateChannels(t *testing.T) {
	cfg := Default()
	cfg.Channels = []Channel{{ID: 1, Gain: 1, Volume: 1}, {ID: 1, Gain: 1, Volume: 1}}
	assert.Error(t, cfg.Validate())
}

func TestValidateDeviceGainRange(t *testing.T) {
	cfg := Default()
	cfg.Device.InputGain = 1.5
	assert.Error(t, cfg.Validate())
}

func TestPrioritiesEmptyFallsBack(t *testing.T) {
	cfg := Config{SampleRate: 48000, BufferSize: 480}
	tiers, err := cfg.Priorities()
	require.NoError(t, err)
	assert.Equal(t, denoise.DefaultPriority(), tiers)
}

func TestPrioritiesParsesNames(t *testing.T) {
	cfg := Default()
	cfg.BackendPriority = []string{"Spectral", " gpu ", "deep"}
	tiers, err := cfg.Priorities()
	require.NoError(t, err)
	assert.Equal(t, []denoise.Tier{denoise.TierSpectral, denoise.TierGPU, denoise.TierDeepLearning}, tiers)
}
