package audio

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// SampleFormat identifies the integer or float encoding used by a device
// or file boundary. Internally the pipeline always works on float32.
type SampleFormat uint8

const (
	// FormatS16LE is 16-bit signed little-endian PCM.
	FormatS16LE SampleFormat = iota
	// FormatS24LE is 24-bit signed little-endian PCM, 3 bytes per sample.
	FormatS24LE
	// FormatS32LE is 32-bit signed little-endian PCM.
	FormatS32LE
	// FormatF32LE is 32-bit IEEE float little-endian.
	FormatF32LE
)

// String returns a human-readable name for the sample format.
func (f SampleFormat) String() string {
	switch f {
	case FormatS16LE:
		return "s16le"
	case FormatS24LE:
		return "s24le"
	case FormatS32LE:
		return "s32le"
	case FormatF32LE:
		return "f32le"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the storage width of one sample in this format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16LE:
		return 2
	case FormatS24LE:
		return 3
	case FormatS32LE, FormatF32LE:
		return 4
	default:
		return 0
	}
}

// SupportedSampleRates lists the sample rates negotiable at the audio I/O
// boundary, in Hz.
var SupportedSampleRates = []uint32{44100, 48000, 96000}

// ValidateSampleRate checks rate against the supported set.
func ValidateSampleRate(rate uint32) error {
	for _, r := range SupportedSampleRates {
		if rate == r {
			return nil
		}
	}
	return fmt.Errorf("unsupported sample rate: %d Hz (supported: 44100, 48000, 96000)", rate)
}

// Normalization scale factors. Both directions use the full negative
// range so that float→PCM→float round trips are symmetric; encoding
// clamps the positive rail at the integer maximum (32768.0 has no
// int16 representation).
const (
	scale16 = 32768.0
	scale24 = 8388608.0
	scale32 = 2147483648.0
)

// PCM16ToFloat32 converts signed 16-bit samples to normalized float32.
//
// dst and src may differ in length; the shorter bound wins. Returns the
// number of samples converted. No allocation; safe on the real-time path.
func PCM16ToFloat32(dst []float32, src []int16) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = float32(src[i]) / scale16
	}
	return n
}

// Float32ToPCM16 converts normalized float32 samples to signed 16-bit PCM
// with clipping protection.
//
// Returns the number of samples converted and the number that had to be
// clipped into range. No allocation; safe on the real-time path.
func Float32ToPCM16(dst []int16, src []float32) (n, clipped int) {
	n = len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		s := src[i]
		if s > 1.0 || s < -1.0 {
			clipped++
			s = clampf(s)
		}
		v := s * scale16
		if v > 32767.0 {
			v = 32767.0
		}
		dst[i] = int16(v)
	}
	return n, clipped
}

// BytesToFloat32 decodes little-endian PCM bytes into normalized float32
// samples.
//
// Parameters:
//   - dst: Destination samples
//   - src: Raw bytes from the device or file boundary
//   - format: Wire format of src
//
// Returns:
//   - int: Number of samples decoded
//   - error: Unsupported format or short source data
func BytesToFloat32(dst []float32, src []byte, format SampleFormat) (int, error) {
	bps := format.BytesPerSample()
	if bps == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "BytesToFloat32",
			"format":   format.String(),
		}).Error("Unsupported sample format")
		return 0, fmt.Errorf("unsupported sample format: %s", format)
	}
	n := len(src) / bps
	if len(dst) < n {
		n = len(dst)
	}

	switch format {
	case FormatS16LE:
		for i := 0; i < n; i++ {
			v := int16(uint16(src[i*2]) | uint16(src[i*2+1])<<8)
			dst[i] = float32(v) / scale16
		}
	case FormatS24LE:
		for i := 0; i < n; i++ {
			v := int32(uint32(src[i*3]) | uint32(src[i*3+1])<<8 | uint32(src[i*3+2])<<16)
			// Sign-extend from 24 bits.
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			dst[i] = float32(v) / scale24
		}
	case FormatS32LE:
		for i := 0; i < n; i++ {
			v := int32(uint32(src[i*4]) | uint32(src[i*4+1])<<8 | uint32(src[i*4+2])<<16 | uint32(src[i*4+3])<<24)
			dst[i] = float32(float64(v) / scale32)
		}
	case FormatF32LE:
		for i := 0; i < n; i++ {
			bits := uint32(src[i*4]) | uint32(src[i*4+1])<<8 | uint32(src[i*4+2])<<16 | uint32(src[i*4+3])<<24
			dst[i] = math.Float32frombits(bits)
		}
	}
	return n, nil
}

// Float32ToBytes encodes normalized float32 samples as little-endian PCM
// bytes, clipping integer formats into range.
//
// Returns the number of samples encoded and any unsupported-format error.
func Float32ToBytes(dst []byte, src []float32, format SampleFormat) (int, error) {
	bps := format.BytesPerSample()
	if bps == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Float32ToBytes",
			"format":   format.String(),
		}).Error("Unsupported sample format")
		return 0, fmt.Errorf("unsupported sample format: %s", format)
	}
	n := len(src)
	if len(dst)/bps < n {
		n = len(dst) / bps
	}

	switch format {
	case FormatS16LE:
		for i := 0; i < n; i++ {
			v := clampf(src[i]) * scale16
			if v > 32767.0 {
				v = 32767.0
			}
			s := int16(v)
			dst[i*2] = byte(uint16(s))
			dst[i*2+1] = byte(uint16(s) >> 8)
		}
	case FormatS24LE:
		for i := 0; i < n; i++ {
			v := clampf(src[i]) * scale24
			if v > 8388607.0 {
				v = 8388607.0
			}
			s := int32(v)
			dst[i*3] = byte(uint32(s))
			dst[i*3+1] = byte(uint32(s) >> 8)
			dst[i*3+2] = byte(uint32(s) >> 16)
		}
	case FormatS32LE:
		for i := 0; i < n; i++ {
			v := float64(clampf(src[i])) * scale32
			if v > 2147483647.0 {
				v = 2147483647.0
			}
			s := int32(v)
			dst[i*4] = byte(uint32(s))
			dst[i*4+1] = byte(uint32(s) >> 8)
			dst[i*4+2] = byte(uint32(s) >> 16)
			dst[i*4+3] = byte(uint32(s) >> 24)
		}
	case FormatF32LE:
		for i := 0; i < n; i++ {
			bits := math.Float32bits(src[i])
			dst[i*4] = byte(bits)
			dst[i*4+1] = byte(bits >> 8)
			dst[i*4+2] = byte(bits >> 16)
			dst[i*4+3] = byte(bits >> 24)
		}
	}
	return n, nil
}

// Clamp clamps a sample into the normalized [-1, 1] range.
func Clamp(v float32) float32 {
	return clampf(v)
}

func clampf(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
