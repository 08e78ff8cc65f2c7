package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeasureSilence(t *testing.T) {
	levels := Measure(make([]float32, 480))

	assert.Equal(t, float32(0), levels.Peak)
	assert.Equal(t, float32(0), levels.RMS)
	assert.Equal(t, float32(silenceFloorDB), levels.PeakDB())
	assert.Equal(t, float32(silenceFloorDB), levels.RMSDB())
}

func TestMeasureEmpty(t *testing.T) {
	levels := Measure(nil)
	assert.Equal(t, Levels{}, levels)
}

func TestMeasureFullScale(t *testing.T) {
	samples := make([]float32, 128)
	for i := range samples {
		samples[i] = 1.0
	}

	levels := Measure(samples)

	assert.Equal(t, float32(1.0), levels.Peak)
	assert.InDelta(t, 1.0, levels.RMS, 1e-6)
	assert.InDelta(t, 0.0, levels.PeakDB(), 1e-4)
}

func TestMeasureSine(t *testing.T) {
	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*float64(i)/48.0))
	}

	levels := Measure(samples)

	assert.InDelta(t, 0.5, levels.Peak, 1e-3)
	// Sine RMS is amplitude divided by sqrt(2).
	assert.InDelta(t, 0.5/math.Sqrt2, levels.RMS, 1e-3)
}

func TestMeasureNegativePeak(t *testing.T) {
	levels := Measure([]float32{0.1, -0.8, 0.2})
	assert.InDelta(t, 0.8, levels.Peak, 1e-6)
}

func TestPackUnpackLevels(t *testing.T) {
	original := Levels{Peak: 0.75, RMS: 0.33}

	packed := PackLevels(original)
	restored := UnpackLevels(packed)

	assert.Equal(t, original, restored)
}

func BenchmarkMeasure(b *testing.B) {
	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = float32(i%100) / 100.0
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Measure(samples)
	}
}
