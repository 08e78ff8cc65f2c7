//go:build cgo && !noaudio

package record

import "github.com/companyzero/gopus"

var _ Encoder = (*gopus.Encoder)(nil)

// newEncoder creates a gopus encoder tuned for full-band audio.
func newEncoder(sampleRate uint32, channels, bitrate int) (Encoder, error) {
	enc, err := gopus.NewEncoder(int(sampleRate), channels, gopus.Audio)
	if err != nil {
		return nil, err
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return enc, nil
}
