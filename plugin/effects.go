package plugin

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// GainPlugin parameter indices.
const (
	GainParamLevel int32 = iota
	gainParamCount
)

// GainPlugin is a builtin linear gain effect with clipping protection.
//
// Gain values: 0.0 = silence, 1.0 = no change, up to 4.0 amplification.
type GainPlugin struct {
	mu   sync.Mutex
	gain float64
}

// NewGainPlugin creates a unity-gain instance.
func NewGainPlugin() *GainPlugin {
	return &GainPlugin{gain: 1.0}
}

// Info describes the builtin gain effect.
func (g *GainPlugin) Info() Info {
	return Info{
		Name:       "Phantom Gain",
		Vendor:     "PhantomLink",
		Category:   CategoryEffect,
		UniqueID:   0x70674f31,
		Version:    "1.0",
		Inputs:     1,
		Outputs:    1,
		Parameters: int(gainParamCount),
	}
}

// Process applies gain in place with clipping protection.
func (g *GainPlugin) Process(samples []float32) error {
	g.mu.Lock()
	gain := g.gain
	g.mu.Unlock()

	clipped := 0
	for i, sample := range samples {
		v := float64(sample) * gain
		if v > 1.0 {
			v = 1.0
			clipped++
		} else if v < -1.0 {
			v = -1.0
			clipped++
		}
		samples[i] = float32(v)
	}

	if clipped > 0 {
		logrus.WithFields(logrus.Fields{
			"function":      "GainPlugin.Process",
			"clipped_count": clipped,
			"gain":          gain,
		}).Debug("Clipping protection applied")
	}
	return nil
}

// SetParameter maps index 0 onto the gain level (0.0..4.0).
func (g *GainPlugin) SetParameter(index int32, value float32) error {
	if index != GainParamLevel {
		return ErrParameterRange
	}

	v := float64(value)
	if v < 0.0 {
		v = 0.0
	} else if v > 4.0 {
		v = 4.0
	}

	g.mu.Lock()
	g.gain = v
	g.mu.Unlock()
	return nil
}

// Release is a no-op for the builtin gain effect.
func (g *GainPlugin) Release() error {
	return nil
}

// CompressorPlugin parameter indices.
const (
	CompParamThreshold int32 = iota
	CompParamRatio
	CompParamAttack
	CompParamRelease
	compParamCount
)

// CompressorPlugin is a builtin soft-knee dynamics compressor with
// attack/release envelope following.
type CompressorPlugin struct {
	mu sync.Mutex

	thresholdDB float64
	ratio       float64
	attackMs    float64
	releaseMs   float64
	sampleRate  float64

	peak          float64
	threshold     float64
	attackFactor  float64
	releaseFactor float64
	slopeRecip    float64
}

// NewCompressorPlugin creates a compressor with voice-friendly defaults
// (-20 dB threshold, 4:1 ratio, 10 ms attack, 100 ms release).
func NewCompressorPlugin(sampleRate float64) *CompressorPlugin {
	c := &CompressorPlugin{
		thresholdDB: -20.0,
		ratio:       4.0,
		attackMs:    10.0,
		releaseMs:   100.0,
		sampleRate:  sampleRate,
	}
	c.updateCoefficients()
	return c
}

// updateCoefficients recomputes the cached linear values. Caller holds
// no lock; updateCoefficients takes it.
func (c *CompressorPlugin) updateCoefficients() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.threshold = math.Pow(10.0, c.thresholdDB/20.0)
	c.slopeRecip = 1.0/c.ratio - 1.0
	c.attackFactor = math.Exp(-1.0 / (c.sampleRate * c.attackMs * 0.001))
	c.releaseFactor = math.Exp(-1.0 / (c.sampleRate * c.releaseMs * 0.001))
}

// Info describes the builtin compressor.
func (c *CompressorPlugin) Info() Info {
	return Info{
		Name:       "Phantom Compressor",
		Vendor:     "PhantomLink",
		Category:   CategoryMastering,
		UniqueID:   0x70634f32,
		Version:    "1.0",
		Inputs:     1,
		Outputs:    1,
		Parameters: int(compParamCount),
	}
}

// Process applies compression in place using a peak-following envelope.
func (c *CompressorPlugin) Process(samples []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sample := range samples {
		level := math.Abs(float64(sample))
		if level > c.peak {
			c.peak = level + c.attackFactor*(c.peak-level)
		} else {
			c.peak = level + c.releaseFactor*(c.peak-level)
		}

		gain := 1.0
		if c.peak > c.threshold {
			gain = math.Pow(c.peak/c.threshold, c.slopeRecip)
		}
		samples[i] = float32(float64(sample) * gain)
	}
	return nil
}

// SetParameter adjusts threshold (dB), ratio, attack (ms) or release
// (ms) by index.
func (c *CompressorPlugin) SetParameter(index int32, value float32) error {
	c.mu.Lock()
	switch index {
	case CompParamThreshold:
		c.thresholdDB = float64(value)
	case CompParamRatio:
		if value < 1.0 {
			value = 1.0
		}
		c.ratio = float64(value)
	case CompParamAttack:
		if value < 0.1 {
			value = 0.1
		}
		c.attackMs = float64(value)
	case CompParamRelease:
		if value < 1.0 {
			value = 1.0
		}
		c.releaseMs = float64(value)
	default:
		c.mu.Unlock()
		return ErrParameterRange
	}
	c.mu.Unlock()

	c.updateCoefficients()
	return nil
}

// Release resets the envelope state.
func (c *CompressorPlugin) Release() error {
	c.mu.Lock()
	c.peak = 0
	c.mu.Unlock()
	return nil
}
