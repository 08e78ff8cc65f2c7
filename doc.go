// Package phantomlink implements a real-time virtual audio mixer with
// resilient voice enhancement.
//
// Each input channel runs a fixed pipeline: input gain, a noise
// suppression fallback chain, an optional thread-isolated plugin, and
// output volume with constant-power pan into the stereo mix bus. The
// suppression chain degrades tier by tier (GPU accelerator, CPU
// deep-learning model, spectral subtraction, passthrough) whenever the
// active backend is unavailable or fails, always inside the same
// processing call, so the audio callback never misses its deadline.
// Plugins and the GPU bridge run on dedicated goroutines behind
// bounded, sequence-numbered message channels; a stalled or crashed
// plugin costs at most one bounded timeout and the channel keeps
// playing the unprocessed signal.
//
// # Getting Started
//
// Create a mixer with options and drive it from an audio callback:
//
//	options := phantomlink.NewOptions()
//	options.Channels = 2
//
//	mixer, err := phantomlink.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mixer.Kill()
//
//	mixer.OnFallback(func(channel uint32, from, to denoise.Tier) {
//	    fmt.Printf("channel %d degraded %s -> %s\n", channel, from, to)
//	})
//
//	// From the audio I/O callback, once per buffer period:
//	err = mixer.Process(map[uint32][]float32{0: micSamples}, stereoOut)
//
//	// From the application loop:
//	for mixer.IsRunning() {
//	    mixer.Iterate()
//	    time.Sleep(mixer.IterationInterval())
//	}
//
// # Architecture
//
// The facade composes the subsystem packages:
//
//   - audio: buffers, sample formats, levels, resampling and the
//     background-music decoder
//   - engine: the mix loop and per-channel processors
//   - denoise: the suppression backends and the fallback chain
//   - nvafx: the GPU accelerator bridge with its worker isolation
//   - plugin: the plugin host, scanner and thread-isolated executor
//   - session: the control plane with per-session configuration and
//     statistics
//   - device: hardware capture/playback and mixer control
//   - record: the Ogg/Opus mix-bus recorder
//   - config: TOML persistence for all of the above
//
// Control-plane methods are safe to call from any goroutine; Process
// is reserved for the audio callback and never blocks on locks, the
// plugin worker or the accelerator.
package phantomlink
