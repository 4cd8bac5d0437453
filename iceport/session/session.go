package session

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/icegateway/iceport/transport"
)

// ID is the opaque, externally-assigned session identifier. Callers that do
// not already have one (tests, standalone tools) can mint one with NewID.
type ID string

// NewID returns a fresh random session ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// Session is the unit of binding: the pairing of an offer/answer SDP
// credential pair with the peer transport address eventually learned via
// STUN.
type Session struct {
	ID ID

	OfferUfrag string
	OfferPwd   string
	PeerUfrag  string
	PeerPwd    string

	// OfferSDP and PeerSDP hold the raw SDP blobs AddSession was called
	// with, kept verbatim for logging/debugging. Nothing here interprets
	// them; SDP parsing is the caller's job.
	OfferSDP string
	PeerSDP  string

	Deadline time.Duration

	Log *log.Entry

	mu              sync.RWMutex
	state           State
	remoteTransport transport.Conn
	peerAddress     net.Addr
	expiresAt       time.Time
}

// newSession is unexported: sessions are only ever created through
// Registry.Add, which enforces the ufrag-uniqueness invariant first.
func newSession(id ID, offerUfrag, offerPwd, peerUfrag, peerPwd, offerSDP, peerSDP string, deadline time.Duration) *Session {
	return &Session{
		ID:         id,
		OfferUfrag: offerUfrag,
		OfferPwd:   offerPwd,
		PeerUfrag:  peerUfrag,
		PeerPwd:    peerPwd,
		OfferSDP:   offerSDP,
		PeerSDP:    peerSDP,
		Deadline:   deadline,
		Log: log.WithFields(log.Fields{
			"session_id": id,
			"ufrag":      offerUfrag,
		}),
		state:     StateNew,
		expiresAt: time.Now().Add(deadline),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// PeerAddress returns the socket address the remote was last observed at,
// or nil if no Binding request has been authenticated yet.
func (s *Session) PeerAddress() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerAddress
}

// RemoteTransport returns the physical connection used to reach the peer,
// or nil before the first authenticated Binding request.
func (s *Session) RemoteTransport() transport.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteTransport
}

// ExpiresAt returns the monotonic deadline after which the expiry timer
// will disconnect this session absent further traffic.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// touch advances expires_at. expires_at is monotonically non-decreasing for
// the lifetime of a Session, so a stale call racing a newer one never moves
// the deadline backwards.
func (s *Session) touch() {
	next := time.Now().Add(s.Deadline)
	s.mu.Lock()
	if next.After(s.expiresAt) {
		s.expiresAt = next
	}
	s.mu.Unlock()
}

func (s *Session) isExpired(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.After(s.expiresAt)
}

// bindTransport records the transport and address learned from the first
// authenticated Binding request. Called only while holding the registry's
// address-index lock, so state, remoteTransport and peerAddress move
// together.
func (s *Session) bindTransport(conn transport.Conn, addr net.Addr) {
	s.mu.Lock()
	s.remoteTransport = conn
	s.peerAddress = addr
	s.mu.Unlock()
}

func (s *Session) String() string {
	return string(s.ID) + "(" + s.OfferUfrag + ":" + s.PeerUfrag + ")"
}
