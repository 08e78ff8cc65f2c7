// Command phantomlink runs the virtual mixer headless: it loads the
// TOML configuration, wires the audio device when one is available and
// processes until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink"
	"github.com/opd-ai/phantomlink/config"
	"github.com/opd-ai/phantomlink/denoise"
	"github.com/opd-ai/phantomlink/device"
	"github.com/opd-ai/phantomlink/engine"
	"github.com/opd-ai/phantomlink/record"
)

type options struct {
	Config      string `short:"c" long:"config" description:"Configuration file" default:"phantomlink.toml"`
	ListDevices bool   `long:"list-devices" description:"List audio devices and exit"`
	Channels    int    `long:"channels" description:"Override channel count"`
	BufferSize  int    `long:"buffer-size" description:"Override buffer size in samples"`
	SampleRate  uint32 `long:"sample-rate" description:"Override sample rate in Hz"`
	Record      string `long:"record" description:"Record the mix bus to this Ogg/Opus file"`
	Verbose     bool   `short:"v" long:"verbose" description:"Debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(1)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if err := run(opts); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("phantomlink exited with error")
	}
}

func run(opts options) error {
	if opts.ListDevices {
		return listDevices()
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, opts)

	priorities, err := cfg.Priorities()
	if err != nil {
		return err
	}

	mixerOptions := phantomlink.NewOptions()
	mixerOptions.SampleRate = cfg.SampleRate
	mixerOptions.BufferSize = cfg.BufferSize
	mixerOptions.Channels = 0 // strips come from the config below
	mixerOptions.BackendPriority = priorities
	mixerOptions.ModelPath = cfg.ModelPath
	mixerOptions.PluginDirs = cfg.PluginDirs
	mixerOptions.MusicPath = cfg.Music.Path
	mixerOptions.MusicGain = cfg.Music.Gain

	mixer, err := phantomlink.New(mixerOptions)
	if err != nil {
		return err
	}
	defer mixer.Kill()

	if err := applyChannels(mixer, cfg); err != nil {
		return err
	}

	mixer.OnFallback(func(channel uint32, from, to denoise.Tier) {
		logrus.WithFields(logrus.Fields{
			"channel": channel,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Denoise backend degraded")
	})
	mixer.OnPluginFailure(func(channel uint32, err error) {
		logrus.WithFields(logrus.Fields{
			"channel": channel,
			"error":   err.Error(),
		}).Error("Plugin failed, channel continues clean")
	})

	if path := recordPath(cfg, opts); path != "" {
		closeRecorder, err := startRecorder(mixer, cfg, path)
		if err != nil {
			return err
		}
		defer closeRecorder()
	}

	stopAudio, err := startAudio(mixer, cfg)
	if err != nil {
		return err
	}
	defer stopAudio()

	logrus.WithFields(logrus.Fields{
		"function":    "run",
		"sample_rate": cfg.SampleRate,
		"buffer_size": cfg.BufferSize,
		"channels":    len(cfg.Channels),
	}).Info("phantomlink running, press Ctrl-C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(mixer.IterationInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			mixer.Iterate()
		case <-sig:
			logrus.Info("Shutting down")
			return nil
		}
	}
}

func listDevices() error {
	devices, err := device.ListDevices()
	if err != nil {
		return err
	}

	fmt.Println("Capture devices:")
	for _, d := range devices.Capture {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, d.Name)
	}
	fmt.Println("Playback devices:")
	for _, d := range devices.Playback {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, d.Name)
	}
	return nil
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.SampleRate != 0 {
		cfg.SampleRate = opts.SampleRate
	}
	if opts.BufferSize != 0 {
		cfg.BufferSize = opts.BufferSize
	}
	if opts.Channels != 0 {
		channels := make([]config.Channel, opts.Channels)
		for i := range channels {
			channels[i] = config.Channel{ID: uint32(i), Gain: 1.0, Volume: 1.0}
		}
		cfg.Channels = channels
	}
}

// applyChannels builds the configured channel strips.
func applyChannels(mixer *phantomlink.Mixer, cfg config.Config) error {
	for _, ch := range cfg.Channels {
		if err := mixer.AddChannel(engine.ChannelConfig{
			ID:     ch.ID,
			Gain:   ch.Gain,
			Volume: ch.Volume,
			Pan:    ch.Pan,
		}); err != nil {
			return fmt.Errorf("channel %d: %w", ch.ID, err)
		}
		if ch.Muted {
			if err := mixer.SetChannelMute(ch.ID, true); err != nil {
				return err
			}
		}
		if ch.Plugin != "" {
			if err := mixer.AttachPlugin(ch.ID, ch.Plugin); err != nil {
				logrus.WithFields(logrus.Fields{
					"channel": ch.ID,
					"plugin":  ch.Plugin,
					"error":   err.Error(),
				}).Warn("Plugin unavailable, channel runs clean")
			}
		}
	}
	return nil
}

func recordPath(cfg config.Config, opts options) string {
	if opts.Record != "" {
		return opts.Record
	}
	if cfg.Recorder.Enabled {
		return cfg.Recorder.Path
	}
	return ""
}

func startRecorder(mixer *phantomlink.Mixer, cfg config.Config, path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record file: %w", err)
	}
	recorder, err := record.New(f, record.Config{
		SampleRate: cfg.SampleRate,
		Channels:   2,
		FrameSize:  cfg.BufferSize,
		Bitrate:    cfg.Recorder.Bitrate,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	mixer.SetRecorder(recorder)

	return func() {
		mixer.SetRecorder(nil)
		if err := recorder.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "startRecorder",
				"error":    err.Error(),
			}).Warn("Recorder close failed")
		}
		f.Close()
	}, nil
}

// startAudio wires the hardware: the capture callback feeds channel 0
// and the playback callback pulls the processed stereo mix. Without a
// usable device the mixer idles and stays available to Process calls.
func startAudio(mixer *phantomlink.Mixer, cfg config.Config) (func(), error) {
	var mu sync.Mutex
	captured := make([]float32, cfg.BufferSize)

	captureStream, err := device.OpenCapture(device.StreamConfig{
		DeviceID:   cfg.Device.CaptureID,
		SampleRate: cfg.SampleRate,
		Channels:   1,
		BufferSize: cfg.BufferSize,
	}, func(samples []float32) {
		mu.Lock()
		copy(captured, samples)
		mu.Unlock()
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "startAudio",
			"error":    err.Error(),
		}).Warn("No capture device, running without hardware input")
		return func() {}, nil
	}

	input := make([]float32, cfg.BufferSize)
	playbackStream, err := device.OpenPlayback(device.StreamConfig{
		DeviceID:   cfg.Device.PlaybackID,
		SampleRate: cfg.SampleRate,
		Channels:   2,
		BufferSize: cfg.BufferSize,
	}, func(out []float32) {
		mu.Lock()
		copy(input, captured)
		mu.Unlock()
		if err := mixer.Process(map[uint32][]float32{0: input}, out); err != nil {
			for i := range out {
				out[i] = 0
			}
		}
	})
	if err != nil {
		captureStream.Close()
		return nil, err
	}

	if err := captureStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return nil, err
	}
	if err := playbackStream.Start(); err != nil {
		captureStream.Close()
		playbackStream.Close()
		return nil, err
	}

	return func() {
		_ = captureStream.Stop()
		_ = playbackStream.Stop()
		captureStream.Close()
		playbackStream.Close()
	}, nil
}
