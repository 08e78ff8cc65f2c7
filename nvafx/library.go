// Package nvafx wraps hardware-accelerated voice enhancement behind the
// denoise backend contract.
//
// The acceleration library itself is an external black box reached
// through the Library interface: init a device context, process blocks,
// clean up. Because its latency is unpredictable, the real-time thread
// never calls it directly; all processing goes through the async Bridge,
// which trades one buffer of pipeline delay for a hard polling deadline.
// A deterministic Simulation stands in on machines without the library.
package nvafx

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Context is an opaque handle to one initialized device session. Only
// the Library that produced it can interpret it.
type Context interface{}

// Library is the FFI-shaped boundary to a hardware acceleration
// runtime. Implementations are consumed, never implemented, by the
// processing core; Process must tolerate being called from a worker
// goroutine at audio rate.
type Library interface {
	// Init creates a processing context on the given device.
	Init(deviceID int, sampleRate uint32) (Context, error)

	// Process enhances n samples from input into output. Both slices
	// must hold at least n samples.
	Process(ctx Context, input, output []float32, n int) error

	// Cleanup releases the context. The context is invalid afterwards.
	Cleanup(ctx Context) error
}

// Simulation is a deterministic software stand-in for the acceleration
// library, used in tests and on machines without the real runtime.
//
// Its processing applies a simple voice-gate model: samples under the
// gate threshold are attenuated as noise, the rest receive a slight
// clarity boost, and everything is clamped to full scale.
type Simulation struct {
	mu       sync.Mutex
	contexts map[int]*simContext
	nextID   int

	// Fault injection for tests.
	FailInit    bool
	FailProcess bool
}

type simContext struct {
	id         int
	deviceID   int
	sampleRate uint32
}

// Simulation gate tuning, mirroring the reference voice model.
const (
	simGateThreshold = 0.01
	simGateReduction = 0.1
	simClarityBoost  = 1.1
)

// NewSimulation creates the software acceleration stand-in.
func NewSimulation() *Simulation {
	return &Simulation{contexts: make(map[int]*simContext)}
}

// Init creates a simulated device context.
func (s *Simulation) Init(deviceID int, sampleRate uint32) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailInit {
		return nil, fmt.Errorf("%w: simulated init failure", ErrLibraryUnavailable)
	}

	s.nextID++
	ctx := &simContext{id: s.nextID, deviceID: deviceID, sampleRate: sampleRate}
	s.contexts[ctx.id] = ctx

	logrus.WithFields(logrus.Fields{
		"function":    "Simulation.Init",
		"device_id":   deviceID,
		"sample_rate": sampleRate,
		"context_id":  ctx.id,
	}).Debug("Simulated acceleration context created")

	return ctx, nil
}

// Process runs the simulated voice gate over n samples.
func (s *Simulation) Process(ctx Context, input, output []float32, n int) error {
	sc, ok := ctx.(*simContext)
	if !ok {
		return ErrInvalidContext
	}

	s.mu.Lock()
	_, live := s.contexts[sc.id]
	fail := s.FailProcess
	s.mu.Unlock()

	if !live {
		return ErrInvalidContext
	}
	if fail {
		return fmt.Errorf("%w: simulated device fault", ErrHardwareFailure)
	}
	if len(input) < n || len(output) < n {
		return fmt.Errorf("%w: block of %d samples exceeds buffer", ErrHardwareFailure, n)
	}

	for i := 0; i < n; i++ {
		v := input[i]
		if v > -simGateThreshold && v < simGateThreshold {
			v *= simGateReduction
		} else {
			v *= simClarityBoost
		}
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		output[i] = v
	}
	return nil
}

// Cleanup releases a simulated context.
func (s *Simulation) Cleanup(ctx Context) error {
	sc, ok := ctx.(*simContext)
	if !ok {
		return ErrInvalidContext
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, live := s.contexts[sc.id]; !live {
		return ErrInvalidContext
	}
	delete(s.contexts, sc.id)

	logrus.WithFields(logrus.Fields{
		"function":   "Simulation.Cleanup",
		"context_id": sc.id,
	}).Debug("Simulated acceleration context released")

	return nil
}

// ActiveContexts returns the number of live simulated contexts.
func (s *Simulation) ActiveContexts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}
