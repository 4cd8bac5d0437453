// Package turnchannel decodes RFC 5766 §11 ChannelData framing. Parse is
// used on the receive path; Marshal encodes a frame, but nothing in this
// module sends ChannelData.
package turnchannel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MinChannelNumber and MaxChannelNumber bound the valid channel number
	// range per RFC 5766 §11.
	MinChannelNumber = 0x4000
	MaxChannelNumber = 0x7FFF

	headerSize = 4
)

var (
	ErrTooShort           = errors.New("turnchannel: message shorter than header")
	ErrBadChannelNumber   = errors.New("turnchannel: channel number out of range")
	ErrTruncatedPayload   = errors.New("turnchannel: declared length exceeds buffer")
)

// Message is a decoded ChannelData frame.
type Message struct {
	ChannelNumber uint16
	Data          []byte
}

// Parse decodes a ChannelData frame. It does not require or consume any
// trailing zero padding; callers that know the padded length (e.g. the TCP
// demultiplexer) should slice the padding off before or after calling Parse.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, ErrTooShort
	}

	channel := binary.BigEndian.Uint16(buf[0:2])
	if channel < MinChannelNumber || channel > MaxChannelNumber {
		return nil, fmt.Errorf("%w: 0x%04x", ErrBadChannelNumber, channel)
	}

	length := binary.BigEndian.Uint16(buf[2:4])
	if int(length) > len(buf)-headerSize {
		return nil, ErrTruncatedPayload
	}

	data := make([]byte, length)
	copy(data, buf[headerSize:headerSize+int(length)])

	return &Message{ChannelNumber: channel, Data: data}, nil
}

// Marshal encodes a ChannelData frame, zero-padding the payload to a 4-byte
// boundary as required when the frame travels over TCP.
func (m *Message) Marshal() []byte {
	padded := len(m.Data)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}

	buf := make([]byte, headerSize+padded)
	binary.BigEndian.PutUint16(buf[0:2], m.ChannelNumber)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(m.Data)))
	copy(buf[headerSize:], m.Data)
	return buf
}
