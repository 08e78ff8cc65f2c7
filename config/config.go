// Package config loads and persists mixer configuration as TOML:
// stream format, channel strip settings, plugin directories, denoise
// backend priorities, device preferences and the recorder.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
	"github.com/opd-ai/phantomlink/denoise"
)

// Channel is one channel strip's persisted state.
type Channel struct {
	ID     uint32  `toml:"id"`
	Gain   float64 `toml:"gain"`
	Volume float64 `toml:"volume"`
	Pan    float64 `toml:"pan"`
	Muted  bool    `toml:"muted"`

	// Plugin is the path of the effect loaded on this strip; empty
	// means none.
	Plugin string `toml:"plugin,omitempty"`
}

// Device holds hardware preferences.
type Device struct {
	CaptureID     string  `toml:"capture_id,omitempty"`
	PlaybackID    string  `toml:"playback_id,omitempty"`
	InputGain     float64 `toml:"input_gain"`
	DirectMonitor bool    `toml:"direct_monitor"`
}

// Recorder holds the mix-bus recorder settings.
type Recorder struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"`
	Bitrate int    `toml:"bitrate"`
}

// Music holds the background-music source settings.
type Music struct {
	Path string  `toml:"path,omitempty"`
	Gain float64 `toml:"gain"`
}

// Config is the full persisted mixer state.
type Config struct {
	SampleRate uint32 `toml:"sample_rate"`
	BufferSize int    `toml:"buffer_size"`

	// PluginDirs extends the well-known plugin search path.
	PluginDirs []string `toml:"plugin_dirs,omitempty"`

	// BackendPriority orders the denoise tiers by preference.
	BackendPriority []string `toml:"backend_priority"`

	// ModelPath locates the deep-learning denoise model; empty
	// disables that tier.
	ModelPath string `toml:"model_path,omitempty"`

	Channels []Channel `toml:"channels"`
	Device   Device    `toml:"device"`
	Recorder Recorder  `toml:"recorder"`
	Music    Music     `toml:"music"`
}

// Default returns the configuration used when no file exists: two
// channel strips at unity over the full fallback ladder.
func Default() Config {
	priorities := denoise.DefaultPriority()
	names := make([]string, len(priorities))
	for i, tier := range priorities {
		names[i] = tier.String()
	}

	return Config{
		SampleRate:      48000,
		BufferSize:      480,
		BackendPriority: names,
		Channels: []Channel{
			{ID: 0, Gain: 1.0, Volume: 1.0},
			{ID: 1, Gain: 1.0, Volume: 1.0},
		},
		Device:   Device{InputGain: 0.7},
		Recorder: Recorder{Bitrate: 128000},
		Music:    Music{Gain: 0.5},
	}
}

// Load reads the configuration file, falling back to Default when the
// file does not exist.
//
// Parameters:
//   - path: TOML file location
//
// Returns:
//   - Config: Parsed and validated configuration
//   - error: Parse or validation failure; a missing file is not an
//     error
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function": "config.Load",
			"path":     path,
		}).Info("Config file not found, using defaults")
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Load",
		"path":     path,
		"channels": len(cfg.Channels),
	}).Info("Config loaded")
	return cfg, nil
}

// Save writes the configuration, creating parent directories as
// needed.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "config.Save",
		"path":     path,
	}).Info("Config saved")
	return nil
}

// Validate checks every field against the supported ranges.
func (c Config) Validate() error {
	if err := audio.ValidateSampleRate(c.SampleRate); err != nil {
		return err
	}
	if err := audio.ValidateBufferSize(c.BufferSize); err != nil {
		return err
	}
	if _, err := c.Priorities(); err != nil {
		return err
	}

	seen := make(map[uint32]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("duplicate channel id: %d", ch.ID)
		}
		seen[ch.ID] = struct{}{}

		if ch.Gain < 0 {
			return fmt.Errorf("channel %d: gain cannot be negative", ch.ID)
		}
		if ch.Volume < 0 {
			return fmt.Errorf("channel %d: volume cannot be negative", ch.ID)
		}
		if ch.Pan < -1.0 || ch.Pan > 1.0 {
			return fmt.Errorf("channel %d: pan %f out of range [-1, 1]", ch.ID, ch.Pan)
		}
	}

	if c.Device.InputGain < 0.0 || c.Device.InputGain > 1.0 {
		return fmt.Errorf("device input gain %f out of range [0, 1]", c.Device.InputGain)
	}
	if c.Music.Gain < 0.0 {
		return fmt.Errorf("music gain cannot be negative: %f", c.Music.Gain)
	}
	return nil
}

// Priorities parses the backend priority names into tiers.
func (c Config) Priorities() ([]denoise.Tier, error) {
	if len(c.BackendPriority) == 0 {
		return denoise.DefaultPriority(), nil
	}
	tiers := make([]denoise.Tier, 0, len(c.BackendPriority))
	for _, name := range c.BackendPriority {
		tier, err := denoise.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("backend priority: %w", err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}
