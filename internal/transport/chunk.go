package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultChunkSize keeps each data channel message under the 64 KiB that
// every SCTP implementation accepts.
const DefaultChunkSize = 60 * 1024

// chunkHeaderSize is seq (uint32) + index (uint16) + count (uint16).
const chunkHeaderSize = 8

var errChunkHeader = errors.New("chunk shorter than header")

// Split cuts a frame into messages of at most chunkSize bytes including the
// header. Every chunk carries the frame sequence number, its index and the
// total chunk count.
func Split(seq uint32, frame []byte, chunkSize int) ([][]byte, error) {
	body := chunkSize - chunkHeaderSize
	if body <= 0 {
		return nil, fmt.Errorf("chunk size %d too small", chunkSize)
	}
	count := (len(frame) + body - 1) / body
	if count == 0 {
		count = 1
	}
	if count > 0xffff {
		return nil, fmt.Errorf("frame of %d bytes needs %d chunks", len(frame), count)
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * body
		end := min(start+body, len(frame))

		c := make([]byte, chunkHeaderSize+end-start)
		binary.BigEndian.PutUint32(c[0:4], seq)
		binary.BigEndian.PutUint16(c[4:6], uint16(i))
		binary.BigEndian.PutUint16(c[6:8], uint16(count))
		copy(c[chunkHeaderSize:], frame[start:end])
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Assembler rebuilds frames from chunks delivered in order. A chunk that does
// not continue the frame in progress discards it.
type Assembler struct {
	seq   uint32
	next  uint16
	count uint16
	buf   []byte
	busy  bool
}

// Add consumes one chunk and returns the completed frame, if any.
func (a *Assembler) Add(chunk []byte) ([]byte, error) {
	if len(chunk) < chunkHeaderSize {
		return nil, errChunkHeader
	}
	seq := binary.BigEndian.Uint32(chunk[0:4])
	idx := binary.BigEndian.Uint16(chunk[4:6])
	count := binary.BigEndian.Uint16(chunk[6:8])
	body := chunk[chunkHeaderSize:]

	if idx == 0 {
		a.seq, a.count, a.next, a.busy = seq, count, 0, true
		a.buf = a.buf[:0]
	} else if !a.busy || seq != a.seq || idx != a.next || count != a.count {
		a.busy = false
		return nil, fmt.Errorf("out of sequence chunk %d/%d of frame %d", idx, count, seq)
	}

	a.buf = append(a.buf, body...)
	a.next++
	if a.next < a.count {
		return nil, nil
	}

	a.busy = false
	frame := make([]byte, len(a.buf))
	copy(frame, a.buf)
	return frame, nil
}
