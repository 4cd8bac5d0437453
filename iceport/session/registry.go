package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/icegateway/iceport/transport"
)

// ErrDuplicateUfrag is returned by Add when offerUfrag is already registered;
// ufrag is the unique key sessions are created under.
var ErrDuplicateUfrag = errors.New("session: ufrag already registered")

// Registry holds every live Session, indexed three ways: by_ufrag (the key a
// Session is created under), by_address (populated once the peer's socket
// address is learned from an authenticated Binding request) and
// by_session_id (the externally-assigned identifier, populated at the same
// time as by_address). Lock ordering is by_ufrag first, then by_address and
// by_session_id together; never the reverse, to avoid deadlocking against
// concurrent lookups.
type Registry struct {
	ufragMu sync.RWMutex
	byUfrag map[string]*Session

	indexMu   sync.RWMutex
	byAddress map[string]*Session
	byID      map[ID]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUfrag:   make(map[string]*Session),
		byAddress: make(map[string]*Session),
		byID:      make(map[ID]*Session),
	}
}

// Add creates a new Session in state New, indexed only by offerUfrag. It
// fails with ErrDuplicateUfrag if that ufrag is already in use. The session
// is not yet reachable by address or session id; that happens once,
// together, in PromoteIfNew.
func (r *Registry) Add(id ID, offerUfrag, offerPwd, peerUfrag, peerPwd, offerSDP, peerSDP string, deadline time.Duration) (*Session, error) {
	r.ufragMu.Lock()
	defer r.ufragMu.Unlock()

	if _, exists := r.byUfrag[offerUfrag]; exists {
		return nil, ErrDuplicateUfrag
	}

	s := newSession(id, offerUfrag, offerPwd, peerUfrag, peerPwd, offerSDP, peerSDP, deadline)
	r.byUfrag[offerUfrag] = s

	return s, nil
}

// LookupByUfrag returns the Session created under ufrag, if any.
func (r *Registry) LookupByUfrag(ufrag string) (*Session, bool) {
	r.ufragMu.RLock()
	defer r.ufragMu.RUnlock()
	s, ok := r.byUfrag[ufrag]
	return s, ok
}

// LookupByAddress returns the Session bound to addr, if any. A Session only
// appears here after PromoteIfNew has run for its first authenticated
// Binding request.
func (r *Registry) LookupByAddress(addr net.Addr) (*Session, bool) {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	s, ok := r.byAddress[addr.String()]
	return s, ok
}

// LookupBySessionID returns the Session with the given externally-assigned
// ID, if any.
func (r *Registry) LookupBySessionID(id ID) (*Session, bool) {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// PromoteIfNew binds conn/addr to s and moves it into the by_address and
// by_session_id indexes together, but only the first time it is called for
// s: the address binding is learned once, from the first authenticated
// Binding request, and never silently re-pointed at a later address. It
// reports whether this call performed the promotion.
func (r *Registry) PromoteIfNew(s *Session, conn transport.Conn, addr net.Addr) bool {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	if s.PeerAddress() != nil {
		return false
	}

	s.bindTransport(conn, addr)
	s.setState(StateChecking)
	r.byAddress[addr.String()] = s
	r.byID[s.ID] = s
	return true
}

// SetState transitions s to state and, for a Connected transition, extends
// its deadline.
func (r *Registry) SetState(s *Session, state State) {
	s.setState(state)
	if state == StateConnected {
		s.touch()
	}
}

// Touch extends s's expiry deadline, called on any traffic associated with
// an already-promoted session.
func (r *Registry) Touch(s *Session) {
	s.touch()
}

// Fail marks s Failed in place without touching any index; removing it is
// the caller's job.
func (r *Registry) Fail(s *Session) {
	r.SetState(s, StateFailed)
}

// Remove deletes s from all three indexes atomically: a Session is never
// visible in one index but absent from the others.
func (r *Registry) Remove(s *Session) {
	r.ufragMu.Lock()
	defer r.ufragMu.Unlock()
	delete(r.byUfrag, s.OfferUfrag)

	r.indexMu.Lock()
	delete(r.byID, s.ID)
	if addr := s.PeerAddress(); addr != nil {
		delete(r.byAddress, addr.String())
	}
	r.indexMu.Unlock()

	s.setState(StateClosed)
}

// RemoveByID removes the session with the given ID, if it exists, and
// returns it. A session still in state New has never been indexed by
// session id, so the by_session_id lookup is backed by a scan of
// by_ufrag for that case.
func (r *Registry) RemoveByID(id ID) (*Session, bool) {
	if s, ok := r.LookupBySessionID(id); ok {
		r.Remove(s)
		return s, true
	}
	for _, s := range r.Sessions() {
		if s.ID == id {
			r.Remove(s)
			return s, true
		}
	}
	return nil, false
}

// Sessions returns a snapshot of every currently registered Session. Used by
// the expiry sweep; callers must not assume the slice stays in sync with
// concurrent registry mutation.
func (r *Registry) Sessions() []*Session {
	r.ufragMu.RLock()
	defer r.ufragMu.RUnlock()

	out := make([]*Session, 0, len(r.byUfrag))
	for _, s := range r.byUfrag {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.ufragMu.RLock()
	defer r.ufragMu.RUnlock()
	return len(r.byUfrag)
}
