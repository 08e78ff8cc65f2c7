//go:build cgo

package denoise

import (
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ortEnvOnce guards ONNX Runtime environment initialization, which is
// process-global in onnxruntime_go.
var (
	ortEnvOnce sync.Once
	ortEnvErr  error
)

func initOrtEnvironment(libraryPath string) error {
	ortEnvOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortEnvErr = ort.InitializeEnvironment()
	})
	return ortEnvErr
}

// ortModel bundles the session with its bound tensors so the whole
// inference context swaps in atomically once loaded.
type ortModel struct {
	session  *ort.AdvancedSession
	inTensor *ort.Tensor[float32]
	outMask  *ort.Tensor[float32]
}

func (m *ortModel) destroy() {
	m.session.Destroy()
	m.inTensor.Destroy()
	m.outMask.Destroy()
}

// DeepBackend is the CPU deep-learning enhancement tier. It runs a
// spectral-mask model through ONNX Runtime: each hop-sized frame is
// transformed to the frequency domain, the model predicts a per-bin gain
// mask, and the masked spectrum is inverse-transformed with overlap-add.
//
// Construction never fails on a missing model or runtime; the backend
// simply reports unavailable so the fallback chain can skip it, and
// HealthCheck re-attempts the load outside the real-time path.
//
// The loaded model sits behind an atomic pointer: Process only loads
// it, so the real-time thread never waits behind a session build
// running in loadModel. Close must not race a Process call in flight.
type DeepBackend struct {
	config DeepConfig

	model  atomic.Pointer[ortModel]
	closed atomic.Bool

	// loadMu serializes model load and teardown; it is never taken on
	// the real-time path.
	loadMu sync.Mutex

	analysisWindow []float64

	// Overlap-add state. pending carries the synthesis tail of the
	// previous frame into the next quantum.
	frame    []float64
	windowed []float64
	pending  []float64
	out32    []float32
}

// NewDeepBackend creates the deep-learning backend and attempts the first
// model load.
//
// Parameters:
//   - config: Model location and suppression strength
//
// Returns:
//   - *DeepBackend: New backend instance (possibly unavailable)
//   - error: Validation error if the configuration is invalid
func NewDeepBackend(config DeepConfig) (*DeepBackend, error) {
	logrus.WithFields(logrus.Fields{
		"function":   "NewDeepBackend",
		"model_path": config.ModelPath,
		"strength":   config.Strength,
	}).Info("Creating deep-learning denoise backend")

	if err := validateDeepConfig(config); err != nil {
		return nil, err
	}

	b := &DeepBackend{
		config:         config,
		analysisWindow: window.Hann(deepFFTSize),
		frame:          make([]float64, deepFFTSize),
		windowed:       make([]float64, deepFFTSize),
		pending:        make([]float64, deepFFTSize),
		out32:          make([]float32, 4096),
	}

	if err := b.loadModel(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewDeepBackend",
			"model_path": config.ModelPath,
			"error":      err.Error(),
		}).Warn("Deep-learning model unavailable, backend starts degraded")
	}

	return b, nil
}

// loadModel builds the ONNX session and publishes it. The session is
// fully constructed before the swap so Process never observes a
// half-built model. Never called from the real-time path.
func (b *DeepBackend) loadModel() error {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	if b.closed.Load() {
		return ErrBackendClosed
	}
	if b.model.Load() != nil {
		return nil
	}

	if _, err := os.Stat(b.config.ModelPath); err != nil {
		return fmt.Errorf("%w: model not found: %v", ErrBackendUnavailable, err)
	}

	if err := initOrtEnvironment(b.config.LibraryPath); err != nil {
		return fmt.Errorf("%w: onnxruntime init: %v", ErrBackendUnavailable, err)
	}

	inTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, deepNumFreqs))
	if err != nil {
		return fmt.Errorf("%w: input tensor: %v", ErrBackendUnavailable, err)
	}
	outMask, err := ort.NewEmptyTensor[float32](ort.NewShape(1, deepNumFreqs))
	if err != nil {
		inTensor.Destroy()
		return fmt.Errorf("%w: output tensor: %v", ErrBackendUnavailable, err)
	}

	session, err := ort.NewAdvancedSession(
		b.config.ModelPath,
		[]string{"spec_mag"},
		[]string{"gain_mask"},
		[]ort.Value{inTensor},
		[]ort.Value{outMask},
		nil,
	)
	if err != nil {
		inTensor.Destroy()
		outMask.Destroy()
		return fmt.Errorf("%w: session: %v", ErrBackendUnavailable, err)
	}

	b.model.Store(&ortModel{session: session, inTensor: inTensor, outMask: outMask})

	logrus.WithFields(logrus.Fields{
		"function":   "DeepBackend.loadModel",
		"model_path": b.config.ModelPath,
	}).Info("Deep-learning model loaded")

	return nil
}

// Process runs one quantum through the spectral-mask model.
//
// Input length must be a multiple of the 480-sample hop; other lengths
// pass through unprocessed with an error so the chain degrades.
func (b *DeepBackend) Process(samples []float32) ([]float32, error) {
	if b.closed.Load() {
		return nil, ErrBackendClosed
	}
	model := b.model.Load()
	if model == nil {
		return nil, fmt.Errorf("%w: model not loaded", ErrBackendUnavailable)
	}
	if len(samples) == 0 {
		return samples, nil
	}
	if len(samples)%deepHopSize != 0 {
		return nil, fmt.Errorf("%w: quantum of %d samples is not hop-aligned", ErrBackendUnavailable, len(samples))
	}
	if len(samples) > len(b.out32) {
		return nil, fmt.Errorf("%w: quantum of %d samples exceeds maximum", ErrBackendUnavailable, len(samples))
	}

	for hop := 0; hop < len(samples); hop += deepHopSize {
		if err := b.processHop(model, samples[hop:hop+deepHopSize], b.out32[hop:hop+deepHopSize]); err != nil {
			return nil, err
		}
	}
	return b.out32[:len(samples)], nil
}

// processHop shifts one hop into the analysis frame, runs the model and
// emits one hop of overlap-added output. Called only from the single
// processing goroutine.
func (b *DeepBackend) processHop(model *ortModel, in []float32, out []float32) error {
	copy(b.frame, b.frame[deepHopSize:])
	for i, s := range in {
		b.frame[deepFFTSize-deepHopSize+i] = float64(s)
	}

	for i := range b.frame {
		b.windowed[i] = b.frame[i] * b.analysisWindow[i]
	}
	spectrum := fft.FFTReal(b.windowed)

	magData := model.inTensor.GetData()
	for i := 0; i < deepNumFreqs; i++ {
		magData[i] = float32(math.Sqrt(real(spectrum[i])*real(spectrum[i]) + imag(spectrum[i])*imag(spectrum[i])))
	}

	if err := model.session.Run(); err != nil {
		return fmt.Errorf("%w: inference: %v", ErrBackendUnavailable, err)
	}

	mask := model.outMask.GetData()
	for i := 0; i < deepNumFreqs; i++ {
		gain := 1.0 - b.config.Strength*(1.0-float64(mask[i]))
		if gain < 0 {
			gain = 0
		} else if gain > 1 {
			gain = 1
		}
		spectrum[i] = complex(real(spectrum[i])*gain, imag(spectrum[i])*gain)
		if i > 0 && i < deepFFTSize/2 {
			mirror := deepFFTSize - i
			spectrum[mirror] = complex(real(spectrum[mirror])*gain, imag(spectrum[mirror])*gain)
		}
	}

	timeDomain := fft.IFFT(spectrum)
	for i := 0; i < deepFFTSize; i++ {
		b.pending[i] += real(timeDomain[i]) * b.analysisWindow[i]
	}
	for i := 0; i < deepHopSize; i++ {
		v := b.pending[i]
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		out[i] = float32(v)
	}
	copy(b.pending, b.pending[deepHopSize:])
	for i := deepFFTSize - deepHopSize; i < deepFFTSize; i++ {
		b.pending[i] = 0
	}
	return nil
}

// ReportedLatency returns the model's analysis lookahead.
func (b *DeepBackend) ReportedLatency() time.Duration {
	return deepLatency()
}

// IsAvailable reports whether the model is loaded and the backend open.
func (b *DeepBackend) IsAvailable() bool {
	return !b.closed.Load() && b.model.Load() != nil
}

// Tier returns TierDeepLearning.
func (b *DeepBackend) Tier() Tier {
	return TierDeepLearning
}

// HealthCheck re-attempts the model load when the backend is degraded.
// Never called from the real-time path.
func (b *DeepBackend) HealthCheck() error {
	if b.closed.Load() {
		return ErrBackendClosed
	}
	return b.loadModel()
}

// Close releases the ONNX session and tensors.
func (b *DeepBackend) Close() error {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	if model := b.model.Swap(nil); model != nil {
		model.destroy()
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeepBackend.Close",
	}).Info("Deep-learning denoise backend closed")
	return nil
}
