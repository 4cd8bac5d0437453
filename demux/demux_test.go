package demux

import (
	"testing"

	"github.com/icegateway/iceport/stun"
	"github.com/icegateway/iceport/turnchannel"
)

func TestIdentifySTUN(t *testing.T) {
	m, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	raw, err := m.Serialize([]byte("pass"))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if got := Identify(raw); got != PacketSTUN {
		t.Fatalf("got %s, want stun", got)
	}
}

func TestIdentifyChannelData(t *testing.T) {
	raw := (&turnchannel.Message{ChannelNumber: 0x4001, Data: []byte{0x01}}).Marshal()
	if got := Identify(raw); got != PacketTURNChannelData {
		t.Fatalf("got %s, want turn-channel-data", got)
	}
}

func TestIdentifyRTP(t *testing.T) {
	if got := Identify([]byte{0x80, 0x00}); got != PacketRTPRTCP {
		t.Fatalf("got %s, want rtp-rtcp", got)
	}
}

func TestIdentifyDTLS(t *testing.T) {
	if got := Identify([]byte{0x10, 0x00}); got != PacketDTLS {
		t.Fatalf("got %s, want dtls", got)
	}
}

func TestIdentifyEmpty(t *testing.T) {
	if got := Identify(nil); got != PacketUnknown {
		t.Fatalf("got %s, want unknown", got)
	}
}

// TestFragmentedFeed matches scenario 6 of the spec: delivering a frame one
// chunk at a time yields the same frame as delivering it all at once, and
// leaves no bytes buffered.
func TestFragmentedFeed(t *testing.T) {
	msg := &turnchannel.Message{ChannelNumber: 0x4001, Data: append([]byte{0x80}, make([]byte, 31)...)}
	raw := msg.Marshal()
	if len(raw) != 36 {
		t.Fatalf("expected 36-byte frame, got %d", len(raw))
	}

	d := NewTCPDemux(0)
	var got []byte
	for i := 0; i < len(raw); i += 6 {
		end := i + 6
		if end > len(raw) {
			end = len(raw)
		}
		d.Append(raw[i:end])

		frame, ok, err := d.NextFrame()
		if err != nil {
			t.Fatalf("next frame: %v", err)
		}
		if ok {
			got = frame
		}
	}

	if got == nil {
		t.Fatalf("expected a frame to be assembled")
	}
	if string(got) != string(raw) {
		t.Fatalf("fragmented frame mismatch")
	}
	if d.Pending() != 0 {
		t.Fatalf("expected empty buffer at end, got %d bytes pending", d.Pending())
	}
}

func TestNextFrameWaitsForMore(t *testing.T) {
	d := NewTCPDemux(0)
	d.Append([]byte{0x00, 0x01, 0x00, 0x04})
	_, ok, err := d.NextFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no complete frame yet")
	}
}

func TestNextFrameRejectsOversizeFrame(t *testing.T) {
	d := NewTCPDemux(16)
	d.Append([]byte{0x00, 0x01, 0x00, 0xFF})
	if _, _, err := d.NextFrame(); err == nil {
		t.Fatalf("expected an error for an oversize frame")
	}
}

func TestNextFrameRejectsUnsupportedLeadingByte(t *testing.T) {
	d := NewTCPDemux(0)
	d.Append([]byte{0x90, 0x00, 0x00, 0x00})
	if _, _, err := d.NextFrame(); err == nil {
		t.Fatalf("expected an error for an unsupported leading byte over tcp")
	}
}
