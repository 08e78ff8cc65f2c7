package nvafx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
)

// Bridge states.
const (
	bridgeRunning int32 = iota
	bridgeFailed
	bridgeClosed
)

// DefaultBridgeTimeout is the polling deadline for one quantum. The
// effective deadline is capped at the buffer period (see SetBufferPeriod).
const DefaultBridgeTimeout = 3 * time.Millisecond

// processingRequest carries one quantum to the bridge worker.
type processingRequest struct {
	seq     uint64
	samples []float32
	n       int
}

// processingReply carries one processed quantum back.
type processingReply struct {
	seq     uint64
	samples []float32
	n       int
	err     error
}

// BridgeStats is a snapshot of bridge counters.
type BridgeStats struct {
	Processed       uint64
	Timeouts        uint64
	DroppedRequests uint64
	StaleReplies    uint64
	HardwareErrors  uint64
}

// BridgeConfig configures the async bridge.
type BridgeConfig struct {
	// DeviceID selects the accelerator device.
	DeviceID int

	// SampleRate is the stream rate in Hz.
	SampleRate uint32

	// Timeout is the polling deadline ceiling (default: 3ms). The
	// effective deadline is min(Timeout, buffer period).
	Timeout time.Duration
}

// Bridge runs hardware-accelerated processing on a dedicated worker
// goroutine, one quantum behind the real-time thread.
//
// Process submits the current quantum through a bounded non-blocking
// channel and polls, with a hard deadline, for the previous quantum's
// completed result. A full request channel drops the quantum (the worker
// is still busy); a missed deadline or a stale sequence number returns
// the input unchanged. The real-time thread therefore never waits on the
// accelerator for longer than the configured deadline.
type Bridge struct {
	lib Library
	ctx Context

	requests chan processingRequest
	replies  chan processingReply
	stop     chan struct{}
	done     chan struct{}

	state      atomic.Int32
	seq        atomic.Uint64
	accepted   atomic.Uint64
	timeoutNs  atomic.Int64
	ceilingNs  int64
	pool       *audio.BufferPool
	out        []float32
	closeOnce  sync.Once
	notifyOnce sync.Once

	processed       atomic.Uint64
	timeouts        atomic.Uint64
	droppedRequests atomic.Uint64
	staleReplies    atomic.Uint64
	hardwareErrors  atomic.Uint64

	// OnFailure, when set before processing starts, is invoked exactly
	// once when the bridge enters the failed state.
	OnFailure func(err error)
}

// NewBridge initializes a device context and starts the worker.
//
// Parameters:
//   - lib: Acceleration library implementation
//   - config: Device, rate and deadline settings
//
// Returns:
//   - *Bridge: Running bridge owning the device context
//   - error: Context initialization failure
func NewBridge(lib Library, config BridgeConfig) (*Bridge, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewBridge",
		"device_id":   config.DeviceID,
		"sample_rate": config.SampleRate,
		"timeout":     config.Timeout.String(),
	}).Info("Creating acceleration bridge")

	if config.Timeout <= 0 {
		config.Timeout = DefaultBridgeTimeout
	}

	ctx, err := lib.Init(config.DeviceID, config.SampleRate)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "NewBridge",
			"device_id": config.DeviceID,
			"error":     err.Error(),
		}).Warn("Acceleration context init failed")
		return nil, fmt.Errorf("initializing acceleration context: %w", err)
	}

	b := &Bridge{
		lib:       lib,
		ctx:       ctx,
		requests:  make(chan processingRequest, 1),
		replies:   make(chan processingReply, 2),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ceilingNs: config.Timeout.Nanoseconds(),
		pool:      audio.NewBufferPool(audio.MaxBufferSize),
		out:       make([]float32, audio.MaxBufferSize),
	}
	b.timeoutNs.Store(b.ceilingNs)

	go b.workerLoop()
	return b, nil
}

// SetBufferPeriod caps the effective polling deadline at the engine's
// buffer period. Called on configuration changes, not per buffer.
func (b *Bridge) SetBufferPeriod(period time.Duration) {
	effective := b.ceilingNs
	if p := period.Nanoseconds(); p > 0 && p < effective {
		effective = p
	}
	b.timeoutNs.Store(effective)

	logrus.WithFields(logrus.Fields{
		"function":  "Bridge.SetBufferPeriod",
		"period":    period.String(),
		"effective": time.Duration(effective).String(),
	}).Debug("Bridge polling deadline updated")
}

// workerLoop consumes requests and runs the accelerator. It owns the
// device context: cleanup happens here, never on the real-time thread.
func (b *Bridge) workerLoop() {
	defer close(b.done)
	defer func() {
		if r := recover(); r != nil {
			b.fail(fmt.Errorf("%w: worker panic: %v", ErrBridgeFailed, r))
			b.cleanup()
		}
	}()

	for {
		select {
		case <-b.stop:
			b.drain()
			b.cleanup()
			return
		case req := <-b.requests:
			out := b.pool.Get()
			err := b.lib.Process(b.ctx, req.samples[:req.n], out[:req.n], req.n)
			b.pool.Put(req.samples)

			reply := processingReply{seq: req.seq, samples: out, n: req.n, err: err}
			select {
			case b.replies <- reply:
			default:
				// Reply channel full: the real-time side has stopped
				// consuming. Drop rather than block the worker.
				b.pool.Put(out)
			}
		}
	}
}

// drain discards queued requests during shutdown.
func (b *Bridge) drain() {
	for {
		select {
		case req := <-b.requests:
			b.pool.Put(req.samples)
		default:
			return
		}
	}
}

// cleanup releases the device context on the worker goroutine.
func (b *Bridge) cleanup() {
	if err := b.lib.Cleanup(b.ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.cleanup",
			"error":    err.Error(),
		}).Warn("Acceleration context cleanup failed")
	}
}

// fail moves the bridge to the failed state and notifies once.
func (b *Bridge) fail(err error) {
	if !b.state.CompareAndSwap(bridgeRunning, bridgeFailed) {
		return
	}
	b.notifyOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "Bridge.fail",
			"error":    err.Error(),
		}).Error("Acceleration bridge failed, degrading to passthrough")
		if b.OnFailure != nil {
			b.OnFailure(err)
		}
	})
}

// Process submits samples and returns the newest completed quantum.
//
// Called from the real-time thread. The returned slice is valid until
// the next Process call. Until the first reply arrives, and whenever the
// deadline is missed, the input is returned unchanged.
func (b *Bridge) Process(samples []float32) ([]float32, error) {
	switch b.state.Load() {
	case bridgeFailed:
		return samples, ErrBridgeFailed
	case bridgeClosed:
		return samples, ErrBridgeClosed
	}
	if len(samples) == 0 || len(samples) > b.pool.Size() {
		return samples, nil
	}

	b.submit(samples)
	return b.poll(samples)
}

// submit copies the quantum into pooled storage and hands it to the
// worker without blocking. A full channel means the worker is still on
// the previous quantum; the new one is dropped by design.
func (b *Bridge) submit(samples []float32) {
	buf := b.pool.Get()
	n := copy(buf, samples)
	req := processingRequest{seq: b.seq.Add(1), samples: buf, n: n}

	select {
	case b.requests <- req:
	default:
		b.pool.Put(buf)
		b.droppedRequests.Add(1)
	}
}

// poll waits, bounded by the effective deadline, for a non-stale reply.
func (b *Bridge) poll(fallback []float32) ([]float32, error) {
	timer := time.NewTimer(time.Duration(b.timeoutNs.Load()))
	defer timer.Stop()

	for {
		select {
		case reply := <-b.replies:
			if reply.seq <= b.accepted.Load() {
				// Stale reply from before a timeout; discard and keep
				// waiting within the same deadline.
				b.staleReplies.Add(1)
				b.pool.Put(reply.samples)
				continue
			}
			b.accepted.Store(reply.seq)

			if reply.err != nil {
				b.pool.Put(reply.samples)
				b.hardwareErrors.Add(1)
				b.fail(fmt.Errorf("accelerator fault: %w", reply.err))
				return fallback, reply.err
			}

			n := copy(b.out, reply.samples[:reply.n])
			b.pool.Put(reply.samples)
			b.processed.Add(1)
			return b.out[:n], nil
		case <-timer.C:
			b.timeouts.Add(1)
			return fallback, nil
		}
	}
}

// Failed reports whether the bridge has entered the failed state.
func (b *Bridge) Failed() bool {
	return b.state.Load() == bridgeFailed
}

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Processed:       b.processed.Load(),
		Timeouts:        b.timeouts.Load(),
		DroppedRequests: b.droppedRequests.Load(),
		StaleReplies:    b.staleReplies.Load(),
		HardwareErrors:  b.hardwareErrors.Load(),
	}
}

// Close stops the worker, releases the device context on the worker
// goroutine and joins. Safe to call more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		wasFailed := !b.state.CompareAndSwap(bridgeRunning, bridgeClosed)
		close(b.stop)
		<-b.done
		if wasFailed {
			b.state.Store(bridgeClosed)
		}

		logrus.WithFields(logrus.Fields{
			"function":  "Bridge.Close",
			"processed": b.processed.Load(),
			"timeouts":  b.timeouts.Load(),
		}).Info("Acceleration bridge closed")
	})
	return nil
}
