package stun

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Message is a parsed or in-progress STUN message. Attributes holds only
// user attributes; MESSAGE-INTEGRITY and FINGERPRINT are computed and
// appended by Serialize, never stored here while building a message.
type Message struct {
	Class         Class
	Method        Method
	TransactionID TransactionID
	Attributes    []Attribute
}

// NewMessage starts a new message with a fresh random transaction ID.
func NewMessage(class Class, method Method) (*Message, error) {
	tid, err := NewTransactionID()
	if err != nil {
		return nil, fmt.Errorf("stun: generate transaction id: %w", err)
	}
	return &Message{Class: class, Method: method, TransactionID: tid}, nil
}

// Add appends a user attribute. Do not use this for MESSAGE-INTEGRITY or
// FINGERPRINT; Serialize owns those.
func (m *Message) Add(t AttrType, value []byte) {
	m.Attributes = append(m.Attributes, Attribute{Type: t, Value: value})
}

// Get returns the first attribute of the given type, if present.
func (m *Message) Get(t AttrType) (Attribute, bool) {
	for _, a := range m.Attributes {
		if a.Type == t {
			return a, true
		}
	}
	return Attribute{}, false
}

// AddUsername appends a USERNAME attribute.
func (m *Message) AddUsername(username string) {
	m.Add(AttrUsername, []byte(username))
}

// Username returns the USERNAME attribute's text, if present.
func (m *Message) Username() (string, bool) {
	a, ok := m.Get(AttrUsername)
	if !ok {
		return "", false
	}
	return string(a.Value), true
}

// SplitUsername splits a combined USERNAME value of the form
// "local_ufrag:remote_ufrag" as used on Binding requests.
func SplitUsername(username string) (local, remote string, ok bool) {
	for i := 0; i < len(username); i++ {
		if username[i] == ':' {
			return username[:i], username[i+1:], true
		}
	}
	return "", "", false
}

// AddPriority appends a PRIORITY attribute.
func (m *Message) AddPriority(priority uint32) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, priority)
	m.Add(AttrPriority, v)
}

// Priority returns the PRIORITY attribute's value, if present.
func (m *Message) Priority() (uint32, bool) {
	a, ok := m.Get(AttrPriority)
	if !ok || len(a.Value) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(a.Value), true
}

// AddUseCandidate appends a zero-length USE-CANDIDATE attribute.
func (m *Message) AddUseCandidate() {
	m.Add(AttrUseCandidate, nil)
}

// UseCandidate reports whether the USE-CANDIDATE attribute is present.
func (m *Message) UseCandidate() bool {
	_, ok := m.Get(AttrUseCandidate)
	return ok
}

// AddIceControlling appends an ICE-CONTROLLING attribute carrying the given
// tie-breaker value.
func (m *Message) AddIceControlling(tiebreaker uint64) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, tiebreaker)
	m.Add(AttrIceControlling, v)
}

// IceControlling returns the ICE-CONTROLLING tie-breaker value, if present.
func (m *Message) IceControlling() (uint64, bool) {
	a, ok := m.Get(AttrIceControlling)
	if !ok || len(a.Value) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(a.Value), true
}

// AddSoftware appends a SOFTWARE attribute.
func (m *Message) AddSoftware(software string) {
	m.Add(AttrSoftware, []byte(software))
}

// ErrorCode describes a decoded ERROR-CODE attribute.
type ErrorCode struct {
	Class  int
	Number int
	Reason string
}

// ErrorCodeAttr decodes the ERROR-CODE attribute, if present. It is decoded
// for interop with third-party STUN agents but no invariant in this module
// depends on it.
func (m *Message) ErrorCodeAttr() (ErrorCode, bool) {
	a, ok := m.Get(AttrErrorCode)
	if !ok || len(a.Value) < 4 {
		return ErrorCode{}, false
	}
	class := int(a.Value[2] & 0x07)
	number := int(a.Value[3])
	return ErrorCode{Class: class, Number: class*100 + number, Reason: string(a.Value[4:])}, true
}

// AddXorMappedAddress appends an XOR-MAPPED-ADDRESS attribute encoding addr
// per RFC 5389 §15.2.
func (m *Message) AddXorMappedAddress(addr *net.UDPAddr) {
	m.Add(AttrXorMappedAddress, encodeXorAddress(addr, m.TransactionID))
}

// XorMappedAddress decodes the XOR-MAPPED-ADDRESS attribute, if present.
func (m *Message) XorMappedAddress() (*net.UDPAddr, bool) {
	a, ok := m.Get(AttrXorMappedAddress)
	if !ok {
		return nil, false
	}
	return decodeXorAddress(a.Value, m.TransactionID)
}

func encodeXorAddress(addr *net.UDPAddr, tid TransactionID) []byte {
	ip4 := addr.IP.To4()
	family := byte(0x02)
	ipLen := 16
	if ip4 != nil {
		family = 0x01
		ipLen = 4
	}

	v := make([]byte, 4+ipLen)
	v[1] = family
	xPort := uint16(addr.Port) ^ uint16(MagicCookie>>16)
	binary.BigEndian.PutUint16(v[2:4], xPort)

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, MagicCookie)

	if ip4 != nil {
		for i := 0; i < 4; i++ {
			v[4+i] = ip4[i] ^ cookie[i]
		}
		return v
	}

	ip16 := addr.IP.To16()
	xorKey := append(append([]byte{}, cookie...), tid[:]...)
	for i := 0; i < 16; i++ {
		v[4+i] = ip16[i] ^ xorKey[i]
	}
	return v
}

func decodeXorAddress(v []byte, tid TransactionID) (*net.UDPAddr, bool) {
	if len(v) < 4 {
		return nil, false
	}
	family := v[1]
	port := binary.BigEndian.Uint16(v[2:4]) ^ uint16(MagicCookie>>16)

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, MagicCookie)

	switch family {
	case 0x01:
		if len(v) < 8 {
			return nil, false
		}
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = v[4+i] ^ cookie[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, true
	case 0x02:
		if len(v) < 20 {
			return nil, false
		}
		xorKey := append(append([]byte{}, cookie...), tid[:]...)
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = v[4+i] ^ xorKey[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, true
	default:
		return nil, false
	}
}

func encodeHeader(class Class, method Method, tid TransactionID, length uint16) []byte {
	h := make([]byte, headerSize)
	binary.BigEndian.PutUint16(h[0:2], encodeMsgType(class, method))
	binary.BigEndian.PutUint16(h[2:4], length)
	binary.BigEndian.PutUint32(h[4:8], MagicCookie)
	copy(h[8:20], tid[:])
	return h
}

func encodeAttrs(attrs []Attribute) []byte {
	var body []byte
	for _, a := range attrs {
		body = append(body, encodeAttr(a)...)
	}
	return body
}

func encodeAttr(a Attribute) []byte {
	padLen := padded4(len(a.Value))
	tlv := make([]byte, 4+padLen)
	binary.BigEndian.PutUint16(tlv[0:2], uint16(a.Type))
	binary.BigEndian.PutUint16(tlv[2:4], uint16(len(a.Value)))
	copy(tlv[4:], a.Value)
	return tlv
}

// Parse decodes a STUN message header and its attributes from raw wire
// bytes. It never panics on malformed input; every failure is a typed error.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, ErrTooShort
	}

	msgType := binary.BigEndian.Uint16(buf[0:2])
	length := binary.BigEndian.Uint16(buf[2:4])
	cookie := binary.BigEndian.Uint32(buf[4:8])
	if cookie != MagicCookie {
		return nil, ErrBadMagicCookie
	}

	if int(length) > len(buf)-headerSize {
		return nil, ErrTruncatedBody
	}

	class, method := decodeMsgType(msgType)

	m := &Message{Class: class, Method: method}
	copy(m.TransactionID[:], buf[8:20])

	body := buf[headerSize : headerSize+int(length)]
	attrs, err := parseAttrs(body)
	if err != nil {
		return nil, err
	}
	m.Attributes = attrs
	return m, nil
}

func parseAttrs(body []byte) ([]Attribute, error) {
	var attrs []Attribute
	off := 0
	for off < len(body) {
		if len(body)-off < 4 {
			return nil, ErrTruncatedAttr
		}
		t := AttrType(binary.BigEndian.Uint16(body[off : off+2]))
		l := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		off += 4
		if len(body)-off < l {
			return nil, ErrTruncatedAttr
		}
		value := make([]byte, l)
		copy(value, body[off:off+l])
		attrs = append(attrs, Attribute{Type: t, Value: value})
		off += padded4(l)
	}
	return attrs, nil
}
