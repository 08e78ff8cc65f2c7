package nvafx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulationLifecycle(t *testing.T) {
	sim := NewSimulation()

	ctx, err := sim.Init(0, 48000)
	require.NoError(t, err)
	assert.Equal(t, 1, sim.ActiveContexts())

	require.NoError(t, sim.Cleanup(ctx))
	assert.Equal(t, 0, sim.ActiveContexts())

	// Cleanup on a released context reports invalid, never corrupts.
	assert.ErrorIs(t, sim.Cleanup(ctx), ErrInvalidContext)
}

func TestSimulationInitFailureInjection(t *testing.T) {
	sim := NewSimulation()
	sim.FailInit = true

	_, err := sim.Init(0, 48000)
	assert.ErrorIs(t, err, ErrLibraryUnavailable)
}

func TestSimulationProcessGate(t *testing.T) {
	sim := NewSimulation()
	ctx, err := sim.Init(0, 48000)
	require.NoError(t, err)

	input := []float32{0.005, -0.005, 0.5, -0.5, 0.95}
	output := make([]float32, len(input))

	require.NoError(t, sim.Process(ctx, input, output, len(input)))

	// Sub-threshold samples are gated, the rest boosted and clamped.
	assert.InDelta(t, 0.0005, output[0], 1e-6)
	assert.InDelta(t, -0.0005, output[1], 1e-6)
	assert.InDelta(t, 0.55, output[2], 1e-6)
	assert.InDelta(t, -0.55, output[3], 1e-6)
	assert.InDelta(t, 1.0, output[4], 1e-6)
}

func TestSimulationProcessInvalidContext(t *testing.T) {
	sim := NewSimulation()

	err := sim.Process("not a context", make([]float32, 4), make([]float32, 4), 4)
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestSimulationProcessFailureInjection(t *testing.T) {
	sim := NewSimulation()
	ctx, err := sim.Init(0, 48000)
	require.NoError(t, err)

	sim.FailProcess = true
	err = sim.Process(ctx, make([]float32, 4), make([]float32, 4), 4)
	assert.ErrorIs(t, err, ErrHardwareFailure)
}

func TestSimulationProcessShortBuffer(t *testing.T) {
	sim := NewSimulation()
	ctx, err := sim.Init(0, 48000)
	require.NoError(t, err)

	err = sim.Process(ctx, make([]float32, 2), make([]float32, 8), 8)
	assert.ErrorIs(t, err, ErrHardwareFailure)
}
