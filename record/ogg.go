// Package record captures the mix bus to an Ogg/Opus file. Frames are
// handed off from the audio callback through a bounded queue and
// encoded on a worker goroutine, so a slow disk never stalls the
// processing deadline; when the queue is full the frame is dropped and
// counted.
package record

import (
	"encoding/binary"
	"io"
	"math/rand"
)

const oggCapturePattern = "OggS"

// crcTable is the Ogg page CRC-32 (polynomial 0x04c11db7, no final
// XOR), distinct from the IEEE table in hash/crc32.
var crcTable = makeCRCTable()

func makeCRCTable() *[256]uint32 {
	var table [256]uint32
	const poly = 0x04c11db7

	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return &table
}

// pageFlags in the Ogg header type byte.
const (
	flagContinued byte = 0x1
	flagFirstPage byte = 0x2
	flagLastPage  byte = 0x4
)

// pageWriter emits Ogg pages for a single logical bitstream.
type pageWriter struct {
	w        io.Writer
	serial   uint32
	sequence uint32
}

func newPageWriter(w io.Writer) *pageWriter {
	return &pageWriter{
		w:      w,
		serial: rand.Uint32(),
	}
}

// segmentTable splits a packet into lacing values no larger than 255.
// A packet whose final segment is exactly 255 bytes needs a trailing
// zero lacing value as terminator.
func segmentTable(payload []byte) []byte {
	table := make([]byte, 0, len(payload)/255+2)
	n := len(payload)
	for n >= 255 {
		table = append(table, 255)
		n -= 255
	}
	table = append(table, byte(n))
	return table
}

// writePage emits one page carrying a complete packet.
//
// Parameters:
//   - payload: Packet bytes; must fit a single page (< 255*255 bytes)
//   - granule: Absolute PCM sample position after this packet
//   - flags: Ogg header type flags
func (p *pageWriter) writePage(payload []byte, granule uint64, flags byte) error {
	table := segmentTable(payload)
	headerSize := 27 + len(table)
	buf := make([]byte, headerSize+len(payload))

	copy(buf, oggCapturePattern)
	buf[4] = 0 // stream structure version
	buf[5] = flags
	binary.LittleEndian.PutUint64(buf[6:], granule)
	binary.LittleEndian.PutUint32(buf[14:], p.serial)
	binary.LittleEndian.PutUint32(buf[18:], p.sequence)
	// bytes 22..25 hold the checksum, computed over the whole page
	// with the field zeroed
	buf[26] = byte(len(table))
	copy(buf[27:], table)
	copy(buf[headerSize:], payload)

	var crc uint32
	for _, b := range buf {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	binary.LittleEndian.PutUint32(buf[22:], crc)

	p.sequence++
	_, err := p.w.Write(buf)
	return err
}
