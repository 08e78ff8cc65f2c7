package denoise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierString(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierGPU, "gpu"},
		{TierDeepLearning, "deep-learning"},
		{TierSpectral, "spectral"},
		{TierPassthrough, "passthrough"},
		{Tier(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tier.String())
		})
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Tier
		wantErr bool
	}{
		{"gpu", "gpu", TierGPU, false},
		{"deep hyphenated", "deep-learning", TierDeepLearning, false},
		{"deep short", "deep", TierDeepLearning, false},
		{"spectral padded", "  Spectral ", TierSpectral, false},
		{"passthrough", "passthrough", TierPassthrough, false},
		{"unknown", "quantum", TierPassthrough, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, err := ParseTier(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownTier)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}
}

func TestDefaultPriority(t *testing.T) {
	priorities := DefaultPriority()

	require.Len(t, priorities, 4)
	assert.Equal(t, TierGPU, priorities[0])
	assert.Equal(t, TierPassthrough, priorities[3])
}

func TestPassthroughIdentity(t *testing.T) {
	p := NewPassthrough()
	input := []float32{0.1, -0.5, 0.9}

	output, err := p.Process(input)

	require.NoError(t, err)
	assert.Equal(t, input, output)
	assert.True(t, p.IsAvailable())
	assert.Equal(t, TierPassthrough, p.Tier())
	assert.Zero(t, p.ReportedLatency())
}

func TestPassthroughClosed(t *testing.T) {
	p := NewPassthrough()
	require.NoError(t, p.Close())

	assert.False(t, p.IsAvailable())

	_, err := p.Process([]float32{0.1})
	assert.ErrorIs(t, err, ErrBackendClosed)
}
