package iceport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/icegateway/iceport/iceport/session"
	"github.com/icegateway/iceport/stun"
	"github.com/icegateway/iceport/transport"
)

// fakeConn is a minimal transport.Conn that records every SendTo call
// instead of touching the network, so tests can assert on outbound wire
// bytes without a real socket.
type fakeConn struct {
	mu   sync.Mutex
	kind transport.Kind
	sent []sentPacket
}

type sentPacket struct {
	addr net.Addr
	data []byte
}

func newFakeConn() *fakeConn { return &fakeConn{kind: transport.KindUDP} }

func (c *fakeConn) Kind() transport.Kind { return c.kind }
func (c *fakeConn) LocalAddr() net.Addr  { return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 3478} }
func (c *fakeConn) Close() error         { return nil }

func (c *fakeConn) SendTo(addr net.Addr, b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.sent = append(c.sent, sentPacket{addr: addr, data: cp})
	return true
}

func (c *fakeConn) snapshot() []sentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentPacket, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeObserver records every state transition and data delivery.
type fakeObserver struct {
	mu     sync.Mutex
	states []session.State
	data   [][]byte
}

func (o *fakeObserver) OnStateChanged(_ *IcePort, _ *session.Session, newState session.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, newState)
}

func (o *fakeObserver) OnDataReceived(_ *IcePort, _ *session.Session, b []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = append(o.data, append([]byte{}, b...))
}

func (o *fakeObserver) lastStates() []session.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]session.State{}, o.states...)
}

func buildBindingRequest(t *testing.T, username string, key []byte) (*stun.Message, []byte) {
	t.Helper()
	req, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	req.AddUsername(username)
	raw, err := req.Serialize(key)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return req, raw
}

// TestHappyPathUDPBind checks that a correctly authenticated Binding
// request promotes the session to Checking, elicits a SuccessResponse with
// XOR-MAPPED-ADDRESS of the source, and a server-initiated Binding request
// toward the peer.
func TestHappyPathUDPBind(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	obs := &fakeObserver{}
	p.AddObserver(obs)

	_, err := p.AddSession(SessionInfo{
		ID:         session.ID("7"),
		OfferUfrag: "AAAAAA",
		OfferPwd:   "pass1",
		PeerUfrag:  "BBBBBB",
		PeerPwd:    "pass2",
	}, "", "")
	if err != nil {
		t.Fatalf("add session: %v", err)
	}

	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 40000}
	conn := newFakeConn()

	_, raw := buildBindingRequest(t, "AAAAAA:BBBBBB", []byte("pass1"))
	p.OnData(conn, src, raw)

	sent := conn.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected 2 outbound packets, got %d", len(sent))
	}

	successMsg, err := stun.Parse(sent[0].data)
	if err != nil {
		t.Fatalf("parse success response: %v", err)
	}
	if successMsg.Class != stun.ClassSuccessResponse {
		t.Fatalf("expected success response, got class %v", successMsg.Class)
	}
	if !stun.Verify(sent[0].data, []byte("pass1")) {
		t.Fatalf("expected success response integrity keyed by pass1")
	}
	mapped, ok := successMsg.XorMappedAddress()
	if !ok || mapped.Port != 40000 || !mapped.IP.Equal(src.IP) {
		t.Fatalf("unexpected xor-mapped-address: %+v ok=%v", mapped, ok)
	}

	reqMsg, err := stun.Parse(sent[1].data)
	if err != nil {
		t.Fatalf("parse server-initiated request: %v", err)
	}
	if reqMsg.Class != stun.ClassRequest {
		t.Fatalf("expected server-initiated request, got class %v", reqMsg.Class)
	}
	if !stun.Verify(sent[1].data, []byte("pass2")) {
		t.Fatalf("expected server-initiated request integrity keyed by pass2")
	}
	username, ok := reqMsg.Username()
	if !ok || username != "BBBBBB:AAAAAA" {
		t.Fatalf("unexpected username: %q ok=%v", username, ok)
	}

	s, ok := p.registry.LookupByUfrag("AAAAAA")
	if !ok {
		t.Fatalf("session not found by ufrag")
	}
	if s.State() != session.StateChecking {
		t.Fatalf("expected Checking, got %v", s.State())
	}

	states := obs.lastStates()
	if len(states) < 2 || states[len(states)-1] != session.StateChecking {
		t.Fatalf("expected a Checking transition, got %v", states)
	}
}

// TestResponseCompletesHandshake checks that the reply to the
// server-initiated Binding request completes the handshake.
func TestResponseCompletesHandshake(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	obs := &fakeObserver{}
	p.AddObserver(obs)

	p.AddSession(SessionInfo{
		ID:         session.ID("7"),
		OfferUfrag: "AAAAAA",
		OfferPwd:   "pass1",
		PeerUfrag:  "BBBBBB",
		PeerPwd:    "pass2",
	}, "", "")

	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 40000}
	conn := newFakeConn()

	_, raw := buildBindingRequest(t, "AAAAAA:BBBBBB", []byte("pass1"))
	p.OnData(conn, src, raw)

	resp, err := stun.NewMessage(stun.ClassSuccessResponse, stun.MethodBinding)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	respRaw, err := resp.Serialize([]byte("pass1"))
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	before := len(obs.lastStates())
	p.OnData(conn, src, respRaw)

	s, ok := p.registry.LookupByUfrag("AAAAAA")
	if !ok {
		t.Fatalf("session not found")
	}
	if s.State() != session.StateConnected {
		t.Fatalf("expected Connected, got %v", s.State())
	}

	states := obs.lastStates()
	if len(states) != before+1 || states[len(states)-1] != session.StateConnected {
		t.Fatalf("expected exactly one Connected transition, got %v", states[before:])
	}
}

// TestIntegrityFailureRemovesSession checks that a Binding request with bad
// MESSAGE-INTEGRITY fails the session and removes it without a response.
func TestIntegrityFailureRemovesSession(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	obs := &fakeObserver{}
	p.AddObserver(obs)

	p.AddSession(SessionInfo{
		ID:         session.ID("7"),
		OfferUfrag: "AAAAAA",
		OfferPwd:   "pass1",
		PeerUfrag:  "BBBBBB",
		PeerPwd:    "pass2",
	}, "", "")

	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 40000}
	conn := newFakeConn()

	_, raw := buildBindingRequest(t, "AAAAAA:BBBBBB", []byte("wrongpwd"))
	p.OnData(conn, src, raw)

	if sent := conn.snapshot(); len(sent) != 0 {
		t.Fatalf("expected no outbound packets, got %d", len(sent))
	}

	if _, ok := p.registry.LookupByUfrag("AAAAAA"); ok {
		t.Fatalf("expected session removed from by_ufrag")
	}

	states := obs.lastStates()
	if len(states) == 0 || states[len(states)-1] != session.StateFailed {
		t.Fatalf("expected a Failed transition, got %v", states)
	}
}

// TestExpiryDisconnectsCheckingSession checks that a session which reached
// Checking but never completed the handshake is disconnected and removed
// once its deadline passes.
func TestExpiryDisconnectsCheckingSession(t *testing.T) {
	p := NewIcePort(Config{SessionDeadline: 30 * time.Millisecond}, nil)
	defer p.Close()

	obs := &fakeObserver{}
	p.AddObserver(obs)

	p.AddSession(SessionInfo{
		ID:         session.ID("7"),
		OfferUfrag: "AAAAAA",
		OfferPwd:   "pass1",
		PeerUfrag:  "BBBBBB",
		PeerPwd:    "pass2",
	}, "", "")

	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 40000}
	conn := newFakeConn()
	_, raw := buildBindingRequest(t, "AAAAAA:BBBBBB", []byte("pass1"))
	p.OnData(conn, src, raw)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := p.registry.LookupByUfrag("AAAAAA"); !ok {
			states := obs.lastStates()
			if states[len(states)-1] != session.StateDisconnected {
				t.Fatalf("expected last transition Disconnected, got %v", states)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session was not expired within deadline")
}

// TestSendFailsBeforeBinding checks that Send fails until the session has a
// bound peer transport.
func TestSendFailsBeforeBinding(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	s, err := p.AddSession(SessionInfo{
		ID:         session.ID("1"),
		OfferUfrag: "AAAAAA",
		OfferPwd:   "pass1",
		PeerUfrag:  "BBBBBB",
		PeerPwd:    "pass2",
	}, "", "")
	if err != nil {
		t.Fatalf("add session: %v", err)
	}

	if err := p.Send(s, []byte("hello")); err != ErrSessionNotBound {
		t.Fatalf("expected ErrSessionNotBound, got %v", err)
	}
}

// TestRemoveSessionBeforeBindingRequest checks that RemoveSession works for
// a session still in state New, before any Binding request has promoted it.
func TestRemoveSessionBeforeBindingRequest(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	obs := &fakeObserver{}
	p.AddObserver(obs)

	s, err := p.AddSession(SessionInfo{
		ID:         session.ID("7"),
		OfferUfrag: "AAAAAA",
		OfferPwd:   "pass1",
		PeerUfrag:  "BBBBBB",
		PeerPwd:    "pass2",
	}, "", "")
	if err != nil {
		t.Fatalf("add session: %v", err)
	}

	p.RemoveSession(s.ID)

	if _, ok := p.registry.LookupByUfrag("AAAAAA"); ok {
		t.Fatalf("expected session removed from by_ufrag")
	}
	states := obs.lastStates()
	if len(states) == 0 || states[len(states)-1] != session.StateClosed {
		t.Fatalf("expected a Closed transition, got %v", states)
	}
}

// TestGenerateUfragUnique checks that GenerateUfrag returns 6-character
// ufrags and that 50 calls yield no duplicates.
func TestGenerateUfragUnique(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		u, err := p.GenerateUfrag()
		if err != nil {
			t.Fatalf("generate ufrag: %v", err)
		}
		if len(u) != 6 {
			t.Fatalf("expected 6-character ufrag, got %q", u)
		}
		if seen[u] {
			t.Fatalf("duplicate ufrag generated: %q", u)
		}
		seen[u] = true
	}
}
