//go:build cgo && !noaudio

package device

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/phantomlink/audio"
)

// rawFormat is the wire format agreed with the device layer; everything
// above the boundary works in float32.
var rawFormat = malgo.FormatS16

// toMalgoDeviceID converts a stored device id back to malgo's form.
func toMalgoDeviceID(id string) malgo.DeviceID {
	var res malgo.DeviceID
	copy(res[:], id)
	return res
}

var emptyDeviceID malgo.DeviceID

func listMalgoDevices(typ malgo.DeviceType, ctx *malgo.AllocatedContext) ([]Device, error) {
	devices, err := ctx.Devices(typ)
	if err != nil {
		return nil, err
	}

	res := make([]Device, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		full, err := ctx.DeviceInfo(typ, dev.ID, malgo.Shared)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "listMalgoDevices",
				"error":    err.Error(),
			}).Warn("Unable to read audio device info")
			continue
		}

		// Avoid duplicate device IDs.
		id := string(append([]byte(nil), full.ID[:]...))
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

// ListDevices enumerates the available capture and playback endpoints.
func ListDevices() (Devices, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return Devices{}, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	playback, err := listMalgoDevices(malgo.Playback, ctx)
	if err != nil {
		return Devices{}, err
	}
	capture, err := listMalgoDevices(malgo.Capture, ctx)
	if err != nil {
		return Devices{}, err
	}
	return Devices{Playback: playback, Capture: capture}, nil
}

// FindDevice looks up an endpoint by id, or nil when absent.
func FindDevice(typ Type, id string) *Device {
	devices, err := ListDevices()
	if err != nil {
		return nil
	}

	list := devices.Capture
	if typ == TypePlayback {
		list = devices.Playback
	}
	for i := range list {
		if list[i].ID == id {
			out := new(Device)
			*out = list[i]
			return out
		}
	}
	return nil
}

// Stream is one open capture or playback device.
type Stream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	running bool
	closed  bool
}

// OpenCapture opens a capture stream delivering float32 periods to fn.
//
// Parameters:
//   - config: Stream format; validated against the supported ranges
//   - fn: Called once per device period from the device thread
//
// Returns:
//   - *Stream: Open stream, initially stopped
//   - error: ErrNoDevice when the backend cannot initialize
func OpenCapture(config StreamConfig, fn CaptureFunc) (*Stream, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpenCapture",
		"sample_rate": config.SampleRate,
		"buffer_size": config.BufferSize,
		"channels":    config.Channels,
	}).Info("Opening capture stream")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = config.SampleRate
	deviceConfig.PeriodSizeInFrames = uint32(config.BufferSize)
	deviceConfig.Capture.Format = rawFormat
	deviceConfig.Capture.Channels = uint32(config.Channels)
	deviceConfig.Alsa.NoMMap = 1
	if id := toMalgoDeviceID(config.DeviceID); id != emptyDeviceID {
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	pcm := make([]int16, config.BufferSize*config.Channels)
	samples := make([]float32, config.BufferSize*config.Channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * config.Channels
			if n > len(pcm) {
				n = len(pcm)
			}
			for i := 0; i < n; i++ {
				pcm[i] = int16(binary.LittleEndian.Uint16(input[2*i:]))
			}
			audio.PCM16ToFloat32(samples[:n], pcm[:n])
			fn(samples[:n])
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return &Stream{ctx: ctx, device: dev}, nil
}

// OpenPlayback opens a playback stream pulling float32 periods from fn.
func OpenPlayback(config StreamConfig, fn PlaybackFunc) (*Stream, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpenPlayback",
		"sample_rate": config.SampleRate,
		"buffer_size": config.BufferSize,
		"channels":    config.Channels,
	}).Info("Opening playback stream")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.SampleRate = config.SampleRate
	deviceConfig.PeriodSizeInFrames = uint32(config.BufferSize)
	deviceConfig.Playback.Format = rawFormat
	deviceConfig.Playback.Channels = uint32(config.Channels)
	deviceConfig.Alsa.NoMMap = 1
	if id := toMalgoDeviceID(config.DeviceID); id != emptyDeviceID {
		deviceConfig.Playback.DeviceID = id.Pointer()
	}

	samples := make([]float32, config.BufferSize*config.Channels)
	pcm := make([]int16, config.BufferSize*config.Channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			n := int(frameCount) * config.Channels
			if n > len(samples) {
				n = len(samples)
			}
			fn(samples[:n])
			audio.Float32ToPCM16(pcm[:n], samples[:n])
			for i := 0; i < n; i++ {
				binary.LittleEndian.PutUint16(output[2*i:], uint16(pcm[i]))
			}
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return &Stream{ctx: ctx, device: dev}, nil
}

// Start begins the device callback loop.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrDeviceClosed
	}
	if s.running {
		return ErrStreamRunning
	}
	if err := s.device.Start(); err != nil {
		return err
	}
	s.running = true
	return nil
}

// Stop halts the callback loop; the stream can be started again.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrDeviceClosed
	}
	if !s.running {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return err
	}
	s.running = false
	return nil
}

// Close releases the device and its context.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.running = false

	s.device.Uninit()
	err := s.ctx.Uninit()
	s.ctx.Free()

	logrus.WithFields(logrus.Fields{
		"function": "Stream.Close",
	}).Info("Audio stream closed")
	return err
}
