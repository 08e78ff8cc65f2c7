package record

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	opusIDMagic      = "OpusHead"
	opusCommentMagic = "OpusTags"
	vendorString     = "phantomlink"

	// maxPacketSize is the largest packet a single page can carry.
	maxPacketSize = 255 * 255
)

// opusStream frames Opus packets into an Ogg bitstream: ID header,
// comment header, then one audio packet per page with an absolute
// 48 kHz granule position.
type opusStream struct {
	pages *pageWriter

	channels uint8
	granule  uint64
}

// newOpusStream writes the two mandatory headers and returns the open
// stream.
func newOpusStream(w io.Writer, sampleRate uint32, channels int) (*opusStream, error) {
	s := &opusStream{
		pages:    newPageWriter(w),
		channels: uint8(channels),
	}
	if err := s.writeHeaders(sampleRate); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *opusStream) writeHeaders(sampleRate uint32) error {
	id := make([]byte, 19)
	copy(id, opusIDMagic)
	id[8] = 1 // header version
	id[9] = s.channels
	binary.LittleEndian.PutUint16(id[10:], 0) // pre-skip
	binary.LittleEndian.PutUint32(id[12:], sampleRate)
	binary.LittleEndian.PutUint16(id[16:], 0) // output gain
	id[18] = 0                                // channel mapping family

	if err := s.pages.writePage(id, 0, flagFirstPage); err != nil {
		return err
	}

	comment := make([]byte, 8+4+len(vendorString)+4)
	copy(comment, opusCommentMagic)
	binary.LittleEndian.PutUint32(comment[8:], uint32(len(vendorString)))
	copy(comment[12:], vendorString)
	binary.LittleEndian.PutUint32(comment[12+len(vendorString):], 0)

	return s.pages.writePage(comment, 0, 0)
}

// writePacket appends one encoded packet spanning pcmSamples samples
// per channel.
func (s *opusStream) writePacket(packet []byte, pcmSamples uint64, last bool) error {
	if len(packet) > maxPacketSize {
		return fmt.Errorf("opus packet too large for one page: %d bytes", len(packet))
	}
	s.granule += pcmSamples

	var flags byte
	if last {
		flags = flagLastPage
	}
	return s.pages.writePage(packet, s.granule, flags)
}

// finish closes the bitstream with an empty end-of-stream page.
func (s *opusStream) finish() error {
	return s.pages.writePage(nil, s.granule, flagLastPage)
}
