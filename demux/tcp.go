package demux

import (
	"encoding/binary"
	"fmt"
)

// DefaultMaxFrameSize is the cap applied when a TCPDemux is constructed
// with a non-positive size.
const DefaultMaxFrameSize = 64 * 1024

// TCPDemux buffers a single TCP connection's byte stream and yields
// complete STUN or ChannelData frames as they become available. It is not
// safe for concurrent use; the transport facade contract guarantees a
// single connection is never read from two goroutines at once.
type TCPDemux struct {
	buf         []byte
	maxFrame    int
}

// NewTCPDemux returns a demultiplexer that rejects any frame whose declared
// length exceeds maxFrame. A non-positive maxFrame selects DefaultMaxFrameSize.
func NewTCPDemux(maxFrame int) *TCPDemux {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &TCPDemux{maxFrame: maxFrame}
}

// Append copies b onto the connection's buffer.
func (d *TCPDemux) Append(b []byte) {
	d.buf = append(d.buf, b...)
}

// NextFrame returns the next complete frame, if one is buffered. ok is
// false when more bytes are needed. A non-nil error means the stream is
// malformed beyond recovery and the connection must be closed.
func (d *TCPDemux) NextFrame() (frame []byte, ok bool, err error) {
	if len(d.buf) < 4 {
		return nil, false, nil
	}

	leading := d.buf[0]
	var required int

	switch {
	case leading <= 0x03 || (leading >= 0x14 && leading <= 0x3F):
		hlen := binary.BigEndian.Uint16(d.buf[2:4])
		required = 20 + int(hlen)
	case leading >= 0x40 && leading <= 0x7F:
		clen := binary.BigEndian.Uint16(d.buf[2:4])
		required = 4 + int(clen)
		if rem := required % 4; rem != 0 {
			required += 4 - rem
		}
	default:
		return nil, false, fmt.Errorf("demux: unsupported leading byte over tcp: 0x%02x", leading)
	}

	if required > d.maxFrame {
		return nil, false, fmt.Errorf("demux: frame length %d exceeds cap %d", required, d.maxFrame)
	}

	if len(d.buf) < required {
		return nil, false, nil
	}

	frame = make([]byte, required)
	copy(frame, d.buf[:required])
	d.buf = d.buf[required:]
	return frame, true, nil
}

// Pending reports how many bytes are buffered but not yet part of a
// complete frame.
func (d *TCPDemux) Pending() int {
	return len(d.buf)
}
