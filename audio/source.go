package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/sirupsen/logrus"
)

// MusicSourceConfig holds configuration for a background program source.
type MusicSourceConfig struct {
	Path       string // Ogg/Opus file to decode
	SampleRate uint32 // Engine sample rate in Hz
	FrameSize  int    // Engine samples per quantum
	Loop       bool   // Restart from the beginning at end of file
}

// MusicSourceStats reports decode-side counters.
type MusicSourceStats struct {
	FramesDecoded uint64
	DecodeErrors  uint64
	Starved       uint64
}

// MusicSource decodes an Ogg/Opus file into engine-sized mono frames on
// its own goroutine and hands them to the mixer through a bounded channel.
//
// The real-time thread only ever polls NextFrame, which never blocks; if
// decoding falls behind, the mixer hears silence for that quantum and the
// starvation counter increments. Frames the mixer is done with come back
// through Recycle so steady-state playback does not allocate.
type MusicSource struct {
	config    MusicSourceConfig
	file      *os.File
	reader    *oggreader.OggReader
	header    *oggreader.OggHeader
	decoder   *opus.Decoder
	resampler *Resampler

	frames  chan []float32
	recycle chan []float32
	stop    chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool

	framesDecoded atomic.Uint64
	decodeErrors  atomic.Uint64
	starved       atomic.Uint64
}

// Decoded Opus audio is 48 kHz regardless of the negotiated engine rate.
const opusRate = 48000

// Decode scratch sizing matches one 40 ms block of mono samples.
const decodeScratchSamples = 1920

// NewMusicSource opens an Ogg/Opus file and prepares it for playback.
//
// Parameters:
//   - config: Source configuration
//
// Returns:
//   - *MusicSource: New source, not yet started
//   - error: File, container or validation errors
func NewMusicSource(config MusicSourceConfig) (*MusicSource, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewMusicSource",
		"path":        config.Path,
		"sample_rate": config.SampleRate,
		"frame_size":  config.FrameSize,
		"loop":        config.Loop,
	}).Info("Creating music source")

	if err := ValidateBufferSize(config.FrameSize); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewMusicSource",
			"frame_size": config.FrameSize,
			"error":      err.Error(),
		}).Error("Frame size validation failed")
		return nil, err
	}
	if err := ValidateSampleRate(config.SampleRate); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewMusicSource",
			"sample_rate": config.SampleRate,
			"error":       err.Error(),
		}).Error("Sample rate validation failed")
		return nil, err
	}

	file, err := os.Open(config.Path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewMusicSource",
			"path":     config.Path,
			"error":    err.Error(),
		}).Error("Music file open failed")
		return nil, fmt.Errorf("open music file: %w", err)
	}

	reader, header, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		logrus.WithFields(logrus.Fields{
			"function": "NewMusicSource",
			"path":     config.Path,
			"error":    err.Error(),
		}).Error("Ogg container parse failed")
		return nil, fmt.Errorf("parse ogg container: %w", err)
	}

	decoder := opus.NewDecoder()

	source := &MusicSource{
		config:  config,
		file:    file,
		reader:  reader,
		header:  header,
		decoder: &decoder,
		frames:  make(chan []float32, 8),
		recycle: make(chan []float32, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if config.SampleRate != opusRate {
		source.resampler, err = NewResampler(ResamplerConfig{
			InputRate:  opusRate,
			OutputRate: config.SampleRate,
			Channels:   1,
		})
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create music resampler: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewMusicSource",
		"path":           config.Path,
		"ogg_channels":   header.Channels,
		"ogg_rate":       header.SampleRate,
		"needs_resample": source.resampler != nil,
	}).Info("Music source created successfully")

	return source, nil
}

// Start launches the decode goroutine.
func (s *MusicSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("music source already closed")
	}
	if s.started {
		return fmt.Errorf("music source already started")
	}
	s.started = true

	logrus.WithFields(logrus.Fields{
		"function": "MusicSource.Start",
		"path":     s.config.Path,
	}).Info("Starting music source decode loop")

	go s.decodeLoop()
	return nil
}

// NextFrame returns the next decoded frame of FrameSize mono samples, or
// nil when none is ready. Never blocks; safe on the real-time path.
func (s *MusicSource) NextFrame() []float32 {
	select {
	case frame := <-s.frames:
		return frame
	default:
		s.starved.Add(1)
		return nil
	}
}

// Recycle gives a frame obtained from NextFrame back to the source for
// reuse. Never blocks; safe on the real-time path.
func (s *MusicSource) Recycle(frame []float32) {
	if len(frame) != s.config.FrameSize {
		return
	}
	select {
	case s.recycle <- frame:
	default:
	}
}

// Stats returns a snapshot of the decode counters.
func (s *MusicSource) Stats() MusicSourceStats {
	return MusicSourceStats{
		FramesDecoded: s.framesDecoded.Load(),
		DecodeErrors:  s.decodeErrors.Load(),
		Starved:       s.starved.Load(),
	}
}

// Stop terminates the decode loop and closes the underlying file. Safe to
// call more than once.
func (s *MusicSource) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "MusicSource.Stop",
		"path":     s.config.Path,
	}).Info("Stopping music source")

	close(s.stop)
	if started {
		<-s.done
	}
	return s.file.Close()
}

// getFrame fetches a recycled frame or allocates a fresh one. Runs on the
// decode goroutine only.
func (s *MusicSource) getFrame() []float32 {
	select {
	case frame := <-s.recycle:
		return frame
	default:
		return make([]float32, s.config.FrameSize)
	}
}

// rewind reopens the Ogg stream from the start of the file for looped
// playback.
func (s *MusicSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek music file: %w", err)
	}
	reader, header, err := oggreader.NewWith(s.file)
	if err != nil {
		return fmt.Errorf("reparse ogg container: %w", err)
	}
	s.reader = reader
	s.header = header
	if s.resampler != nil {
		s.resampler.Reset()
	}
	return nil
}

// decodeLoop reads Ogg pages, decodes Opus packets and refills the frame
// channel until stopped or the file ends.
func (s *MusicSource) decodeLoop() {
	defer close(s.done)

	pcmBytes := make([]byte, decodeScratchSamples*2)
	scratch := make([]float32, decodeScratchSamples)
	var fifo []float32

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		segments, _, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !s.config.Loop {
				logrus.WithFields(logrus.Fields{
					"function":       "MusicSource.decodeLoop",
					"frames_decoded": s.framesDecoded.Load(),
				}).Info("Music source reached end of file")
				return
			}
			if err := s.rewind(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "MusicSource.decodeLoop",
					"error":    err.Error(),
				}).Error("Music source rewind failed")
				return
			}
			continue
		}
		if err != nil {
			s.decodeErrors.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "MusicSource.decodeLoop",
				"error":    err.Error(),
			}).Warn("Ogg page parse failed, skipping")
			continue
		}

		for _, segment := range segments {
			_, isStereo, err := s.decoder.Decode(segment, pcmBytes)
			if err != nil {
				s.decodeErrors.Add(1)
				continue
			}

			mono := s.segmentToMono(pcmBytes, isStereo, scratch)
			if s.resampler != nil {
				resampled, err := s.resampler.Resample(mono)
				if err != nil {
					s.decodeErrors.Add(1)
					continue
				}
				mono = resampled
			}
			fifo = append(fifo, mono...)
		}

		for len(fifo) >= s.config.FrameSize {
			frame := s.getFrame()
			copy(frame, fifo[:s.config.FrameSize])
			n := copy(fifo, fifo[s.config.FrameSize:])
			fifo = fifo[:n]

			select {
			case s.frames <- frame:
				s.framesDecoded.Add(1)
			case <-s.stop:
				return
			}
		}
	}
}

// segmentToMono converts one decoded packet to normalized mono samples.
// Stereo packets average the channel pair.
func (s *MusicSource) segmentToMono(pcmBytes []byte, isStereo bool, scratch []float32) []float32 {
	sampleCount := len(pcmBytes) / 2
	if isStereo {
		sampleCount /= 2
	}
	if sampleCount > len(scratch) {
		sampleCount = len(scratch)
	}
	if isStereo {
		for i := 0; i < sampleCount; i++ {
			l := int16(uint16(pcmBytes[i*4]) | uint16(pcmBytes[i*4+1])<<8)
			r := int16(uint16(pcmBytes[i*4+2]) | uint16(pcmBytes[i*4+3])<<8)
			scratch[i] = (float32(l) + float32(r)) / (2 * scale16)
		}
	} else {
		for i := 0; i < sampleCount; i++ {
			v := int16(uint16(pcmBytes[i*2]) | uint16(pcmBytes[i*2+1])<<8)
			scratch[i] = float32(v) / scale16
		}
	}
	return scratch[:sampleCount]
}
