//go:build !cgo || noaudio

package record

// nopEncoder stands in when the Opus codec is compiled out; the
// recorder writes valid headers but no audio packets.
type nopEncoder struct{}

func (nopEncoder) Encode(pcm []int16, frameSize int, buf []byte) ([]byte, error) {
	return nil, nil
}

func newEncoder(sampleRate uint32, channels, bitrate int) (Encoder, error) {
	return nopEncoder{}, nil
}
