// Package demux classifies inbound byte buffers by leading-byte heuristics
// (RFC 7983) and carves a TCP byte stream into complete STUN or
// ChannelData frames.
package demux

import "encoding/binary"

// PacketType is the result of leading-byte classification.
type PacketType int

const (
	PacketUnknown PacketType = iota
	PacketSTUN
	PacketTURNChannelData
	PacketDTLS
	PacketRTPRTCP
	PacketZRTP
)

func (t PacketType) String() string {
	switch t {
	case PacketSTUN:
		return "stun"
	case PacketTURNChannelData:
		return "turn-channel-data"
	case PacketDTLS:
		return "dtls"
	case PacketRTPRTCP:
		return "rtp-rtcp"
	case PacketZRTP:
		return "zrtp"
	default:
		return "unknown"
	}
}

const stunMagicCookie = 0x2112A442

// Identify classifies buf's leading byte per RFC 7983. A buffer of length
// zero is always Unknown.
func Identify(buf []byte) PacketType {
	if len(buf) == 0 {
		return PacketUnknown
	}

	b := buf[0]
	switch {
	case b <= 0x03:
		if len(buf) >= 8 && binary.BigEndian.Uint32(buf[4:8]) != stunMagicCookie {
			return PacketUnknown
		}
		return PacketSTUN
	case b >= 0x04 && b <= 0x0F:
		return PacketZRTP
	case b >= 0x10 && b <= 0x13:
		return PacketDTLS
	case b >= 0x14 && b <= 0x3F:
		// Legacy/reserved STUN range; treat as STUN per RFC 7983 guidance.
		return PacketSTUN
	case b >= 0x40 && b <= 0x7F:
		return PacketTURNChannelData
	case b >= 0x80 && b <= 0xBF:
		return PacketRTPRTCP
	default:
		return PacketUnknown
	}
}
