package audio

import "math"

// Levels holds the aggregate level measurement for one block of samples.
type Levels struct {
	Peak float32
	RMS  float32
}

// Measure computes peak and RMS levels over one block.
//
// No allocation; safe on the real-time path. The engine publishes the
// result through an atomic snapshot for external meters to read.
func Measure(samples []float32) Levels {
	var peak float32
	var sumSquares float64
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
		sumSquares += float64(s) * float64(s)
	}
	if len(samples) == 0 {
		return Levels{}
	}
	return Levels{
		Peak: peak,
		RMS:  float32(math.Sqrt(sumSquares / float64(len(samples)))),
	}
}

// PeakDB returns the peak level in decibels relative to full scale.
// Silence reports -96 dB rather than negative infinity.
func (l Levels) PeakDB() float32 {
	return toDB(l.Peak)
}

// RMSDB returns the RMS level in decibels relative to full scale.
func (l Levels) RMSDB() float32 {
	return toDB(l.RMS)
}

const silenceFloorDB = -96.0

func toDB(v float32) float32 {
	if v <= 0 {
		return silenceFloorDB
	}
	db := float32(20 * math.Log10(float64(v)))
	if db < silenceFloorDB {
		return silenceFloorDB
	}
	return db
}

// PackLevels encodes a Levels pair into one uint64 for lock-free
// publication via atomics.
func PackLevels(l Levels) uint64 {
	return uint64(math.Float32bits(l.Peak))<<32 | uint64(math.Float32bits(l.RMS))
}

// UnpackLevels decodes a value produced by PackLevels.
func UnpackLevels(v uint64) Levels {
	return Levels{
		Peak: math.Float32frombits(uint32(v >> 32)),
		RMS:  math.Float32frombits(uint32(v)),
	}
}
