package record

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
)

// Encoder compresses one PCM frame into an Opus packet. frameSize is
// in samples per channel; the returned packet may alias buf.
type Encoder interface {
	Encode(pcm []int16, frameSize int, buf []byte) ([]byte, error)
}

// Config describes the recording format.
type Config struct {
	// SampleRate in Hz; Opus-in-Ogg granules assume 48000.
	SampleRate uint32

	// Channels per frame (2 for the stereo mix bus).
	Channels int

	// FrameSize in samples per channel per submitted frame.
	FrameSize int

	// Bitrate in bits per second (0 uses the codec default).
	Bitrate int

	// QueueDepth bounds the handoff queue (default: 32 frames).
	QueueDepth int
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	SubmittedFrames uint64
	DroppedFrames   uint64
	EncodedPackets  uint64
	EncodedBytes    uint64
}

// Recorder taps the mix bus into an Ogg/Opus file.
//
// Submit is safe to call from the audio callback: it copies the frame
// into a pooled buffer and hands it to the encode goroutine through a
// bounded queue, dropping the frame when the queue is full. Encoding
// and file writes never run on the caller's goroutine.
type Recorder struct {
	config  Config
	encoder Encoder
	stream  *opusStream
	pool    *audio.BufferPool

	frames chan []float32
	stop   chan struct{}
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	submittedFrames atomic.Uint64
	droppedFrames   atomic.Uint64
	encodedPackets  atomic.Uint64
	encodedBytes    atomic.Uint64
}

// New creates a recorder writing an Ogg/Opus stream to w.
//
// Parameters:
//   - w: Destination stream; the caller keeps ownership and closes it
//     after Close returns
//   - config: Recording format
//
// Returns:
//   - *Recorder: Running recorder; frames submitted from now on are
//     encoded
//   - error: Header write or encoder initialization failure
func New(w io.Writer, config Config) (*Recorder, error) {
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", config.Channels)
	}
	if err := audio.ValidateSampleRate(config.SampleRate); err != nil {
		return nil, err
	}
	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive: %d", config.FrameSize)
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 32
	}

	logrus.WithFields(logrus.Fields{
		"function":    "record.New",
		"sample_rate": config.SampleRate,
		"channels":    config.Channels,
		"frame_size":  config.FrameSize,
		"bitrate":     config.Bitrate,
	}).Info("Starting mix-bus recorder")

	encoder, err := newEncoder(config.SampleRate, config.Channels, config.Bitrate)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return newRecorder(w, config, encoder)
}

// newRecorder wires the recorder around an explicit encoder.
func newRecorder(w io.Writer, config Config, encoder Encoder) (*Recorder, error) {
	stream, err := newOpusStream(w, config.SampleRate, config.Channels)
	if err != nil {
		return nil, fmt.Errorf("ogg headers: %w", err)
	}

	r := &Recorder{
		config:  config,
		encoder: encoder,
		stream:  stream,
		pool:    audio.NewBufferPool(config.FrameSize * config.Channels),
		frames:  make(chan []float32, config.QueueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.encodeLoop()
	return r, nil
}

// Submit hands one frame of interleaved samples to the encoder. Never
// blocks; a full queue drops the frame.
func (r *Recorder) Submit(samples []float32) {
	if r.closed.Load() {
		return
	}

	frame := r.pool.Get()
	n := copy(frame, samples)
	// Short frames are zero-padded so the pool slice length stays
	// uniform.
	for i := n; i < len(frame); i++ {
		frame[i] = 0
	}

	select {
	case r.frames <- frame:
		r.submittedFrames.Add(1)
	default:
		r.pool.Put(frame)
		r.droppedFrames.Add(1)
	}
}

// encodeLoop drains the queue, encoding and writing one packet per
// frame, until stopped.
func (r *Recorder) encodeLoop() {
	defer close(r.done)

	pcm := make([]int16, r.config.FrameSize*r.config.Channels)
	buf := make([]byte, maxPacketSize)
	for {
		select {
		case frame := <-r.frames:
			r.encodeFrame(pcm, buf, frame)
		case <-r.stop:
			// Drain whatever the callback already handed off.
			for {
				select {
				case frame := <-r.frames:
					r.encodeFrame(pcm, buf, frame)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) encodeFrame(pcm []int16, buf []byte, frame []float32) {
	n, _ := audio.Float32ToPCM16(pcm, frame)
	pcmSamples := uint64(n / r.config.Channels)
	r.pool.Put(frame)

	packet, err := r.encoder.Encode(pcm[:n], int(pcmSamples), buf)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Recorder.encodeFrame",
			"error":    err.Error(),
		}).Warn("Opus encode failed, frame skipped")
		return
	}
	if len(packet) == 0 {
		return
	}

	if err := r.stream.writePacket(packet, pcmSamples, false); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Recorder.encodeFrame",
			"error":    err.Error(),
		}).Warn("Ogg page write failed, frame skipped")
		return
	}
	r.encodedPackets.Add(1)
	r.encodedBytes.Add(uint64(len(packet)))
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		SubmittedFrames: r.submittedFrames.Load(),
		DroppedFrames:   r.droppedFrames.Load(),
		EncodedPackets:  r.encodedPackets.Load(),
		EncodedBytes:    r.encodedBytes.Load(),
	}
}

// Close drains pending frames, writes the end-of-stream page and stops
// the encode goroutine. Safe to call more than once.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.stop)
		<-r.done
		r.closeErr = r.stream.finish()

		logrus.WithFields(logrus.Fields{
			"function": "Recorder.Close",
			"packets":  r.encodedPackets.Load(),
			"dropped":  r.droppedFrames.Load(),
		}).Info("Recorder closed")
	})
	return r.closeErr
}
