package stun

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // required by RFC 5389 MESSAGE-INTEGRITY
	"encoding/binary"
	"hash/crc32"
)

const (
	integritySize   = 20
	fingerprintSize = 4
	fingerprintXor  = 0x5354554E
)

// Serialize encodes the message's user attributes, then appends
// MESSAGE-INTEGRITY (HMAC-SHA1 keyed by key) and FINGERPRINT (CRC-32),
// updating the header length after each step.
func (m *Message) Serialize(key []byte) ([]byte, error) {
	body := encodeAttrs(m.Attributes)

	header := encodeHeader(m.Class, m.Method, m.TransactionID, uint16(len(body)))
	raw := append(header, body...)

	miLen := uint16(len(body) + 4 + integritySize)
	binary.BigEndian.PutUint16(raw[2:4], miLen)

	mac := computeHMAC(key, raw)
	raw = append(raw, encodeAttr(Attribute{Type: AttrMessageIntegrity, Value: mac})...)

	fpLen := uint16(len(body) + 4 + integritySize + 4 + fingerprintSize)
	binary.BigEndian.PutUint16(raw[2:4], fpLen)

	crc := crc32.ChecksumIEEE(raw) ^ fingerprintXor
	fp := make([]byte, 4)
	binary.BigEndian.PutUint32(fp, crc)
	raw = append(raw, encodeAttr(Attribute{Type: AttrFingerprint, Value: fp})...)

	return raw, nil
}

func computeHMAC(key, message []byte) []byte {
	h := hmac.New(sha1.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// Verify recomputes MESSAGE-INTEGRITY over raw using key and compares it
// against the attribute's stored value. raw must be the undecoded wire
// bytes, since the header length field is rewritten during the check.
func Verify(raw []byte, key []byte) bool {
	attrStart, value, ok := locateAttr(raw, AttrMessageIntegrity)
	if !ok || len(value) != integritySize {
		return false
	}

	patched := make([]byte, attrStart)
	copy(patched, raw[:attrStart])
	newLen := uint16(attrStart - headerSize + 4 + integritySize)
	binary.BigEndian.PutUint16(patched[2:4], newLen)

	mac := computeHMAC(key, patched)
	return hmac.Equal(mac, value)
}

// VerifyFingerprint recomputes FINGERPRINT over raw and compares it against
// the attribute's stored value.
func VerifyFingerprint(raw []byte) bool {
	attrStart, value, ok := locateAttr(raw, AttrFingerprint)
	if !ok || len(value) != fingerprintSize {
		return false
	}

	patched := make([]byte, attrStart)
	copy(patched, raw[:attrStart])
	newLen := uint16(attrStart - headerSize + 4 + fingerprintSize)
	binary.BigEndian.PutUint16(patched[2:4], newLen)

	want := binary.BigEndian.Uint32(value)
	got := crc32.ChecksumIEEE(patched) ^ fingerprintXor
	return got == want
}

// locateAttr scans the attribute section of a raw, undecoded STUN message
// and returns the byte offset at which the attribute's TLV begins (relative
// to the start of the message, i.e. including the header) along with its
// value. It does not validate the rest of the message.
func locateAttr(raw []byte, want AttrType) (offset int, value []byte, ok bool) {
	if len(raw) < headerSize {
		return 0, nil, false
	}
	length := binary.BigEndian.Uint16(raw[2:4])
	end := headerSize + int(length)
	if end > len(raw) {
		end = len(raw)
	}

	off := headerSize
	for off < end {
		if end-off < 4 {
			return 0, nil, false
		}
		t := AttrType(binary.BigEndian.Uint16(raw[off : off+2]))
		l := int(binary.BigEndian.Uint16(raw[off+2 : off+4]))
		valStart := off + 4
		if end-valStart < l {
			return 0, nil, false
		}
		if t == want {
			v := make([]byte, l)
			copy(v, raw[valStart:valStart+l])
			return off, v, true
		}
		off = valStart + padded4(l)
	}
	return 0, nil, false
}
