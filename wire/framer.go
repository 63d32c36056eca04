// Package wire implements the peer-to-peer record framing and the
// envelope codec shared by every TCP connection between cluster nodes.
//
// Framing: each record is a 4-byte big-endian length N followed by N bytes
// of payload. PING rides this framing like any other envelope, identified
// by its reserved codec field rather than by the framing itself. PONG is
// the one exception: a single literal byte, written directly to the
// connection outside the length-prefixed framing, acknowledged by an
// outbound holder treating any inbound byte as a PONG.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned when a peer advertises a record length
// larger than MaxFrameSize. This guards against a misbehaving or hostile
// peer forcing unbounded buffer growth.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// MaxFrameSize bounds the payload length accepted by Framer.ReadFrame.
// It is a variable, not a constant, so callers with unusual message sizes
// can raise it before the first read.
var MaxFrameSize uint32 = 64 << 20 // 64 MiB

// headerSize is the length of the length-prefix header in bytes.
const headerSize = 4

// state is the two-state machine described by the wire format: HEADER
// reads the 4-byte length, BODY reads that many payload bytes.
type state int

const (
	stateHeader state = iota
	stateBody
)

// Framer turns a byte stream into a sequence of whole-record payloads.
// It is not safe for concurrent use; each TCP connection owns exactly one
// Framer for reading and writes frames directly via WriteFrame.
type Framer struct {
	r     *bufio.Reader
	state state
	size  uint32
}

// NewFramer wraps r for length-prefixed record reading.
func NewFramer(r io.Reader) *Framer {
	return &Framer{r: bufio.NewReader(r), state: stateHeader}
}

// ReadFrame blocks until one whole payload has been read and returns it.
// The returned slice is owned by the caller; Framer never retains it.
func (f *Framer) ReadFrame() ([]byte, error) {
	for {
		switch f.state {
		case stateHeader:
			var header [headerSize]byte
			if _, err := io.ReadFull(f.r, header[:]); err != nil {
				return nil, err
			}
			f.size = binary.BigEndian.Uint32(header[:])
			if f.size > MaxFrameSize {
				return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, f.size)
			}
			f.state = stateBody
		case stateBody:
			payload := make([]byte, f.size)
			if _, err := io.ReadFull(f.r, payload); err != nil {
				return nil, err
			}
			f.state = stateHeader
			return payload, nil
		}
	}
}

// WritePong writes the single literal PongByte to w, deliberately outside
// the length-prefixed framing every other record on the connection uses.
func WritePong(w io.Writer) error {
	_, err := w.Write([]byte{PongByte})
	return err
}

// WriteFrame writes one length-prefixed record to w in a single call,
// so a writer serialising frames from a single goroutine never interleaves
// a header with another frame's body.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint32(len(payload)) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}
