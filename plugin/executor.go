package plugin

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
)

// State tracks the executor lifecycle.
type State int32

const (
	// StateLoading: the worker is instantiating the plugin.
	StateLoading State = iota

	// StateReady: the plugin is processing requests.
	StateReady

	// StateFailed: terminal; the worker panicked or the load failed,
	// and every process call short-circuits to passthrough.
	StateFailed

	// StateUnloading: teardown in progress.
	StateUnloading

	// StateClosed: terminal; the worker has joined and the plugin
	// instance is released.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateUnloading:
		return "unloading"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultExecutorTimeout is the reply deadline ceiling for one quantum.
// The effective deadline is capped at the buffer period.
const DefaultExecutorTimeout = 10 * time.Millisecond

// executorRequest carries one quantum to the worker.
type executorRequest struct {
	seq     uint64
	samples []float32
	n       int
}

// executorReply carries one processed quantum back.
type executorReply struct {
	seq     uint64
	samples []float32
	n       int
	err     error
}

// ExecutorConfig configures a plugin executor.
type ExecutorConfig struct {
	// Timeout is the reply deadline ceiling (default: 10ms). The
	// effective deadline is min(Timeout, buffer period).
	Timeout time.Duration
}

// ExecutorStats is a snapshot of executor counters.
type ExecutorStats struct {
	Processed       uint64
	Timeouts        uint64
	DroppedRequests uint64
	StaleReplies    uint64
	ProcessErrors   uint64
}

// Executor runs one plugin instance on a dedicated worker goroutine.
//
// The plugin is instantiated on the worker and exclusively owned by it
// for its entire lifetime; the real-time thread only ever exchanges
// sequence-numbered buffers with it through bounded channels. A full
// request channel drops the quantum, a missed deadline or stale reply
// returns the pre-plugin buffer unchanged, and a worker panic moves the
// executor to the terminal failed state with a single notification so
// the control layer can clear the channel's attachment. Per channel,
// quanta are processed in submission order: requests travel a FIFO
// channel to a single worker.
type Executor struct {
	id     uuid.UUID
	handle *Handle
	loader Loader

	requests chan executorRequest
	replies  chan executorReply
	stop     chan struct{}
	done     chan struct{}

	state     atomic.Int32
	seq       atomic.Uint64
	accepted  atomic.Uint64
	timeoutNs atomic.Int64
	ceilingNs int64

	pool       *audio.BufferPool
	out        []float32
	closeOnce  sync.Once
	notifyOnce sync.Once

	processed       atomic.Uint64
	timeouts        atomic.Uint64
	droppedRequests atomic.Uint64
	staleReplies    atomic.Uint64
	processErrors   atomic.Uint64

	// OnFailure, when set before processing starts, is invoked exactly
	// once when the executor enters the failed state.
	OnFailure func(err error)
}

// NewExecutor acquires the handle and starts the worker, which loads
// the plugin asynchronously. The executor is initially in the loading
// state; process calls before the load completes pass through.
//
// Parameters:
//   - handle: Exclusively-acquired plugin handle
//   - loader: Loader that will instantiate the plugin on the worker
//   - config: Deadline settings
//
// Returns:
//   - *Executor: Running executor owning the handle
//   - error: ErrPluginUnavailable for an unloaded handle, ErrHandleOwned
//     for a handle already attached elsewhere
func NewExecutor(handle *Handle, loader Loader, config ExecutorConfig) (*Executor, error) {
	if handle == nil {
		return nil, ErrPluginUnavailable
	}
	if err := handle.acquire(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultExecutorTimeout
	}

	e := &Executor{
		id:        uuid.New(),
		handle:    handle,
		loader:    loader,
		requests:  make(chan executorRequest, 1),
		replies:   make(chan executorReply, 2),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		ceilingNs: config.Timeout.Nanoseconds(),
		pool:      audio.NewBufferPool(audio.MaxBufferSize),
		out:       make([]float32, audio.MaxBufferSize),
	}
	e.timeoutNs.Store(e.ceilingNs)

	logrus.WithFields(logrus.Fields{
		"function": "NewExecutor",
		"executor": e.id.String(),
		"plugin":   handle.Info().Name,
		"timeout":  config.Timeout.String(),
	}).Info("Starting plugin executor")

	go e.workerLoop()
	return e, nil
}

// ID returns the executor's unique identifier.
func (e *Executor) ID() uuid.UUID {
	return e.id
}

// Handle returns the attached plugin handle.
func (e *Executor) Handle() *Handle {
	return e.handle
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	return State(e.state.Load())
}

// SetBufferPeriod caps the effective reply deadline at the engine's
// buffer period. Called on configuration changes, not per buffer.
func (e *Executor) SetBufferPeriod(period time.Duration) {
	effective := e.ceilingNs
	if p := period.Nanoseconds(); p > 0 && p < effective {
		effective = p
	}
	e.timeoutNs.Store(effective)
}

// workerLoop instantiates, runs and finally releases the plugin. The
// instance never leaves this goroutine.
func (e *Executor) workerLoop() {
	defer close(e.done)

	var instance Instance
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("%w: worker panic: %v", ErrExecutorFailed, r))
			releaseQuietly(instance)
		}
	}()

	instance, err := e.loader.Instantiate(e.handle.Path())
	if err != nil {
		e.fail(fmt.Errorf("%w: instantiating %s: %v", ErrExecutorFailed, e.handle.Path(), err))
		return
	}
	if !e.state.CompareAndSwap(int32(StateLoading), int32(StateReady)) {
		// Closed or failed while loading; undo the load.
		releaseQuietly(instance)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Executor.workerLoop",
		"executor": e.id.String(),
		"plugin":   instance.Info().Name,
	}).Info("Plugin instance ready")

	for {
		select {
		case <-e.stop:
			e.drain()
			releaseQuietly(instance)
			return
		case req := <-e.requests:
			err := instance.Process(req.samples[:req.n])
			reply := executorReply{seq: req.seq, samples: req.samples, n: req.n, err: err}
			select {
			case e.replies <- reply:
			default:
				// The real-time side stopped consuming; drop rather
				// than block the worker.
				e.pool.Put(req.samples)
			}
		}
	}
}

// releaseQuietly guards Release against a plugin that panics during its
// own teardown.
func releaseQuietly(instance Instance) {
	if instance == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "releaseQuietly",
				"panic":    fmt.Sprintf("%v", r),
			}).Warn("Plugin panicked during release")
		}
	}()
	if err := instance.Release(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "releaseQuietly",
			"error":    err.Error(),
		}).Warn("Plugin release failed")
	}
}

// drain discards queued requests during shutdown.
func (e *Executor) drain() {
	for {
		select {
		case req := <-e.requests:
			e.pool.Put(req.samples)
		default:
			return
		}
	}
}

// fail moves the executor to the terminal failed state and notifies the
// control layer exactly once.
func (e *Executor) fail(err error) {
	swapped := e.state.CompareAndSwap(int32(StateLoading), int32(StateFailed)) ||
		e.state.CompareAndSwap(int32(StateReady), int32(StateFailed))
	if !swapped {
		return
	}

	e.notifyOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "Executor.fail",
			"executor": e.id.String(),
			"error":    err.Error(),
		}).Error("Plugin executor failed, degrading to passthrough")
		if e.OnFailure != nil {
			e.OnFailure(err)
		}
	})
}

// Process submits one quantum and returns the newest completed reply.
//
// Called from the real-time thread. On any degraded condition — plugin
// still loading, worker busy, deadline missed, stale reply, failure —
// the input comes back unchanged so the pipeline never stalls. The
// returned slice is valid until the next Process call.
func (e *Executor) Process(samples []float32) ([]float32, error) {
	switch State(e.state.Load()) {
	case StateReady:
	case StateLoading:
		return samples, nil
	case StateFailed:
		return samples, ErrExecutorFailed
	default:
		return samples, ErrExecutorClosed
	}
	if len(samples) == 0 || len(samples) > e.pool.Size() {
		return samples, nil
	}

	e.submit(samples)
	return e.poll(samples)
}

// submit copies the quantum into pooled storage and hands it to the
// worker without blocking. A full channel means the previous request is
// still in flight; dropping the new one trades completeness for timing.
func (e *Executor) submit(samples []float32) {
	buf := e.pool.Get()
	n := copy(buf, samples)
	req := executorRequest{seq: e.seq.Add(1), samples: buf, n: n}

	select {
	case e.requests <- req:
	default:
		e.pool.Put(buf)
		e.droppedRequests.Add(1)
	}
}

// poll waits, bounded by the effective deadline, for a reply matching
// the most recently submitted sequence number or newer. Older replies
// are stale and discarded.
func (e *Executor) poll(fallback []float32) ([]float32, error) {
	timer := time.NewTimer(time.Duration(e.timeoutNs.Load()))
	defer timer.Stop()

	for {
		select {
		case reply := <-e.replies:
			if reply.seq <= e.accepted.Load() {
				e.staleReplies.Add(1)
				e.pool.Put(reply.samples)
				continue
			}
			e.accepted.Store(reply.seq)

			if reply.err != nil {
				e.pool.Put(reply.samples)
				e.processErrors.Add(1)
				return fallback, fmt.Errorf("plugin processing: %w", reply.err)
			}

			n := copy(e.out, reply.samples[:reply.n])
			e.pool.Put(reply.samples)
			e.processed.Add(1)
			return e.out[:n], nil
		case <-timer.C:
			e.timeouts.Add(1)
			return fallback, nil
		}
	}
}

// Stats returns a snapshot of executor counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Processed:       e.processed.Load(),
		Timeouts:        e.timeouts.Load(),
		DroppedRequests: e.droppedRequests.Load(),
		StaleReplies:    e.staleReplies.Load(),
		ProcessErrors:   e.processErrors.Load(),
	}
}

// Close signals the worker to stop, waits for it to release the plugin
// on its own goroutine and joins. Safe to call more than once; the
// handle becomes re-acquirable afterwards.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		e.state.CompareAndSwap(int32(StateLoading), int32(StateUnloading))
		e.state.CompareAndSwap(int32(StateReady), int32(StateUnloading))

		close(e.stop)
		<-e.done

		e.state.Store(int32(StateClosed))
		e.handle.release()

		logrus.WithFields(logrus.Fields{
			"function":  "Executor.Close",
			"executor":  e.id.String(),
			"processed": e.processed.Load(),
			"timeouts":  e.timeouts.Load(),
		}).Info("Plugin executor closed")
	})
	return nil
}
