package nvafx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/phantomlink/audio"
)

// stallingLibrary blocks Process until released, simulating an
// accelerator that never meets its deadline.
type stallingLibrary struct {
	release chan struct{}
	once    sync.Once
}

func newStallingLibrary() *stallingLibrary {
	return &stallingLibrary{release: make(chan struct{})}
}

func (l *stallingLibrary) Init(deviceID int, sampleRate uint32) (Context, error) {
	return "stall", nil
}

func (l *stallingLibrary) Process(ctx Context, input, output []float32, n int) error {
	<-l.release
	copy(output[:n], input[:n])
	return nil
}

func (l *stallingLibrary) Cleanup(ctx Context) error { return nil }

func (l *stallingLibrary) Release() {
	l.once.Do(func() { close(l.release) })
}

// panickyLibrary panics inside Process after a given number of calls.
type panickyLibrary struct {
	calls atomic.Int32
	after int32
}

func (l *panickyLibrary) Init(deviceID int, sampleRate uint32) (Context, error) {
	return "panic", nil
}

func (l *panickyLibrary) Process(ctx Context, input, output []float32, n int) error {
	if l.calls.Add(1) > l.after {
		panic("accelerator driver fault")
	}
	copy(output[:n], input[:n])
	return nil
}

func (l *panickyLibrary) Cleanup(ctx Context) error { return nil }

func testBridgeConfig() BridgeConfig {
	return BridgeConfig{DeviceID: 0, SampleRate: 48000, Timeout: 100 * time.Millisecond}
}

func TestNewBridgeInitFailure(t *testing.T) {
	sim := NewSimulation()
	sim.FailInit = true

	_, err := NewBridge(sim, testBridgeConfig())
	assert.ErrorIs(t, err, ErrLibraryUnavailable)
}

func TestBridgeProcessesThroughSimulation(t *testing.T) {
	sim := NewSimulation()
	bridge, err := NewBridge(sim, testBridgeConfig())
	require.NoError(t, err)
	defer bridge.Close()

	input := make([]float32, 480)
	for i := range input {
		input[i] = 0.5
	}

	// With a generous deadline the reply for each quantum arrives
	// within the same Process call.
	out, err := bridge.Process(input)
	require.NoError(t, err)
	require.Len(t, out, len(input))
	assert.InDelta(t, 0.55, out[0], 1e-6)
	assert.Equal(t, uint64(1), bridge.Stats().Processed)
}

func TestBridgeStalledWorkerReturnsInput(t *testing.T) {
	lib := newStallingLibrary()
	config := testBridgeConfig()
	config.Timeout = 5 * time.Millisecond
	bridge, err := NewBridge(lib, config)
	require.NoError(t, err)
	defer func() {
		lib.Release()
		bridge.Close()
	}()

	input := []float32{0.1, 0.2, 0.3}

	start := time.Now()
	out, err := bridge.Process(input)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, uint64(1), bridge.Stats().Timeouts)

	// The worker dequeued the first request before stalling, so the
	// second submit still lands in the queue and times out too.
	out, err = bridge.Process(input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Equal(t, uint64(2), bridge.Stats().Timeouts)
	assert.Equal(t, uint64(0), bridge.Stats().DroppedRequests)

	// Now the queue itself is occupied; the third submit is dropped
	// rather than queued behind the stuck quantum.
	out, err = bridge.Process(input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
	assert.Equal(t, uint64(1), bridge.Stats().DroppedRequests)
}

func TestBridgeStaleReplyRejection(t *testing.T) {
	// Drive the acceptance rule directly: replies 1, 3, 2 must resolve
	// to accepting 3 and discarding the late 2.
	b := &Bridge{
		replies: make(chan processingReply, 3),
		pool:    audio.NewBufferPool(8),
		out:     make([]float32, 8),
	}
	b.timeoutNs.Store((2 * time.Millisecond).Nanoseconds())

	push := func(seq uint64, value float32) {
		buf := b.pool.Get()
		buf[0] = value
		b.replies <- processingReply{seq: seq, samples: buf, n: 1}
	}
	fallback := []float32{-1}

	push(1, 0.1)
	out, err := b.poll(fallback)
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), out[0])

	push(3, 0.3)
	push(2, 0.2)
	out, err = b.poll(fallback)
	require.NoError(t, err)
	assert.Equal(t, float32(0.3), out[0])

	// Only the late reply 2 remains; it is discarded as stale and the
	// poll falls back on its deadline.
	out, err = b.poll(fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, out)
	assert.Equal(t, uint64(1), b.Stats().StaleReplies)
	assert.Equal(t, uint64(2), b.Stats().Processed)
}

func TestBridgeWorkerPanicFailsOnce(t *testing.T) {
	lib := &panickyLibrary{after: 0}
	bridge, err := NewBridge(lib, testBridgeConfig())
	require.NoError(t, err)
	defer bridge.Close()

	var notifications atomic.Int32
	bridge.OnFailure = func(err error) {
		notifications.Add(1)
	}

	input := []float32{0.5}
	out, err := bridge.Process(input)
	// The panic lands either inside this call's deadline or before the
	// next; the quantum itself always comes back as passthrough.
	assert.Equal(t, input, out)
	_ = err

	require.Eventually(t, bridge.Failed, time.Second, time.Millisecond)

	out, err = bridge.Process(input)
	assert.Equal(t, input, out)
	assert.ErrorIs(t, err, ErrBridgeFailed)
	assert.Equal(t, int32(1), notifications.Load())
}

func TestBridgeHardwareErrorFails(t *testing.T) {
	sim := NewSimulation()
	bridge, err := NewBridge(sim, testBridgeConfig())
	require.NoError(t, err)
	defer bridge.Close()

	sim.FailProcess = true

	input := []float32{0.5}
	out, err := bridge.Process(input)

	assert.Equal(t, input, out)
	assert.ErrorIs(t, err, ErrHardwareFailure)
	assert.True(t, bridge.Failed())
	assert.Equal(t, uint64(1), bridge.Stats().HardwareErrors)
}

func TestBridgeCloseReleasesContext(t *testing.T) {
	sim := NewSimulation()
	bridge, err := NewBridge(sim, testBridgeConfig())
	require.NoError(t, err)
	require.Equal(t, 1, sim.ActiveContexts())

	require.NoError(t, bridge.Close())

	assert.Equal(t, 0, sim.ActiveContexts())

	input := []float32{0.5}
	out, err := bridge.Process(input)
	assert.Equal(t, input, out)
	assert.ErrorIs(t, err, ErrBridgeClosed)

	// Double close is a no-op.
	assert.NoError(t, bridge.Close())
}

func TestBridgeSetBufferPeriodCapsDeadline(t *testing.T) {
	sim := NewSimulation()
	config := testBridgeConfig()
	config.Timeout = 10 * time.Millisecond
	bridge, err := NewBridge(sim, config)
	require.NoError(t, err)
	defer bridge.Close()

	bridge.SetBufferPeriod(time.Millisecond)
	assert.Equal(t, time.Millisecond.Nanoseconds(), bridge.timeoutNs.Load())

	// A period above the ceiling leaves the configured deadline alone.
	bridge.SetBufferPeriod(time.Second)
	assert.Equal(t, (10 * time.Millisecond).Nanoseconds(), bridge.timeoutNs.Load())
}

func BenchmarkBridgeProcess(b *testing.B) {
	sim := NewSimulation()
	bridge, err := NewBridge(sim, testBridgeConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer bridge.Close()

	samples := make([]float32, 480)
	for i := range samples {
		samples[i] = float32(i%100)/100.0 - 0.5
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := bridge.Process(samples); err != nil {
			b.Fatal(fmt.Errorf("process: %w", err))
		}
	}
}
