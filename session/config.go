// Package session implements the control plane: the session map keyed
// by numeric channel identifiers, per-session voice-processing
// configuration, and aggregated processing statistics.
//
// The session map is touched only under a short-held lock for
// lookup, insert and remove; no buffer processing ever happens while it
// is held.
package session

import (
	"time"
)

// EnhancementMode selects the voice enhancement character for a session.
type EnhancementMode uint8

const (
	// ModeBalanced trades suppression strength against naturalness;
	// the default for conversational audio.
	ModeBalanced EnhancementMode = iota

	// ModeAggressive maximizes noise suppression at some cost to voice
	// timbre.
	ModeAggressive

	// ModeStudioQuality prioritizes fidelity, applying the gentlest
	// processing the chain supports.
	ModeStudioQuality
)

// String returns a human-readable mode name.
func (m EnhancementMode) String() string {
	switch m {
	case ModeBalanced:
		return "balanced"
	case ModeAggressive:
		return "aggressive"
	case ModeStudioQuality:
		return "studio-quality"
	default:
		return "unknown"
	}
}

// Default voice processing profile: 48 kHz, 10 ms frames, 50 ms target.
const (
	DefaultSampleRate    = 48000
	DefaultFrameSize     = 480
	DefaultTargetLatency = 50 * time.Millisecond
)

// Config is one session's voice-processing configuration.
type Config struct {
	// Mode selects the enhancement character.
	Mode EnhancementMode

	// TargetLatency is the end-to-end processing budget.
	TargetLatency time.Duration

	// QualityProfile weighs quality against resource cost (0.0 cheap
	// .. 1.0 best).
	QualityProfile float64

	// NoiseReduction scales suppression strength (0.0 .. 1.0).
	NoiseReduction float64

	// VoiceClarity scales the post-suppression clarity boost
	// (0.0 .. 1.0).
	VoiceClarity float64
}

// VoiceChatConfig returns the profile for interactive conversation:
// balanced enhancement under a tight latency budget.
func VoiceChatConfig() Config {
	return Config{
		Mode:           ModeBalanced,
		TargetLatency:  DefaultTargetLatency,
		QualityProfile: 0.7,
		NoiseReduction: 0.7,
		VoiceClarity:   0.5,
	}
}

// LiveStreamingConfig returns the profile for one-way broadcast:
// studio-quality enhancement with a relaxed latency budget.
func LiveStreamingConfig() Config {
	return Config{
		Mode:           ModeStudioQuality,
		TargetLatency:  150 * time.Millisecond,
		QualityProfile: 0.9,
		NoiseReduction: 0.8,
		VoiceClarity:   0.7,
	}
}

// WithLowLatency halves the latency budget, clamped to one frame.
func (c Config) WithLowLatency() Config {
	c.TargetLatency /= 2
	frame := time.Duration(DefaultFrameSize) * time.Second / DefaultSampleRate
	if c.TargetLatency < frame {
		c.TargetLatency = frame
	}
	return c
}

// WithEnhancement replaces the enhancement mode.
func (c Config) WithEnhancement(mode EnhancementMode) Config {
	c.Mode = mode
	return c
}
