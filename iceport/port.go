// Package iceport implements the ICE endpoint core: the binding state
// machine that drives STUN short-term-credential handshakes over UDP and
// TCP candidates, demultiplexing inbound bytes and pumping outbound
// application frames to whichever peer a Session has bound.
package iceport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/randutil"
	log "github.com/sirupsen/logrus"

	"github.com/icegateway/iceport/demux"
	"github.com/icegateway/iceport/iceport/metrics"
	"github.com/icegateway/iceport/iceport/session"
	"github.com/icegateway/iceport/transport"
)

// ErrSessionNotBound is returned by Send when the session has not yet
// completed its first authenticated Binding request.
var ErrSessionNotBound = errors.New("iceport: session has no bound peer transport")

// errSendFailed marks a best-effort transport.Conn.SendTo that returned
// false. The binding handlers log it and leave the session's state as it is.
var errSendFailed = errors.New("iceport: transport send failed")

const ufragAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// IcePort is one ICE endpoint: a set of bound UDP/TCP ports, a Session
// Registry, an expiry sweep and the observer fan-out. One instance per media
// server process; the registry is endpoint-scoped, never a package-level
// singleton.
type IcePort struct {
	cfg     Config
	log     *log.Entry
	metrics *metrics.Metrics

	registry *session.Registry
	expiry   *session.ExpiryTimer

	observers observerList

	mu    sync.Mutex
	ports []transport.Listener

	demuxMu sync.RWMutex
	demux   map[transport.Conn]*demux.TCPDemux

	pendingMu sync.Mutex
	pending   map[pendingKey]*pendingBinding

	closed bool
}

// NewIcePort builds an IcePort. m may be nil, in which case nothing is
// counted; otherwise it is built by iceport/metrics.New from a
// go.opentelemetry.io/otel/metric.Meter.
func NewIcePort(cfg Config, m *metrics.Metrics) *IcePort {
	cfg = cfg.withDefaults()

	p := &IcePort{
		cfg:      cfg,
		log:      log.WithField("component", "iceport"),
		metrics:  m,
		registry: session.NewRegistry(),
		demux:    make(map[transport.Conn]*demux.TCPDemux),
		pending:  make(map[pendingKey]*pendingBinding),
	}
	p.expiry = session.NewExpiryTimer(p.registry, p.onSessionExpired)
	p.expiry.Start()
	return p
}

// AddObserver registers obs to receive future state-change and data events.
func (p *IcePort) AddObserver(obs Observer) { p.observers.add(obs) }

// RemoveObserver deregisters obs. A no-op if obs was never registered.
func (p *IcePort) RemoveObserver(obs Observer) { p.observers.remove(obs) }

// RemoveObservers deregisters every observer.
func (p *IcePort) RemoveObservers() { p.observers.removeAll() }

// HasObserver reports whether obs is currently registered.
func (p *IcePort) HasObserver(obs Observer) bool { return p.observers.has(obs) }

// SessionInfo is the already-SDP-parsed credential pairing AddSession binds
// into a Session. offerSDP/peerSDP are accepted only as opaque text for
// logging and are not interpreted here; SDP parsing is the caller's job.
type SessionInfo struct {
	ID         session.ID
	OfferUfrag string
	OfferPwd   string
	PeerUfrag  string
	PeerPwd    string
}

// AddSession creates a Session in state New, indexed only by info.OfferUfrag.
// It fails with session.ErrDuplicateUfrag if that ufrag is already
// registered.
func (p *IcePort) AddSession(info SessionInfo, offerSDP, peerSDP string) (*session.Session, error) {
	s, err := p.registry.Add(info.ID, info.OfferUfrag, info.OfferPwd, info.PeerUfrag, info.PeerPwd, offerSDP, peerSDP, p.cfg.SessionDeadline)
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.SessionAdded()
	}
	s.Log.Debug("session added")
	p.notifyState(s, session.StateNew)
	return s, nil
}

// RemoveSession tears down the session with the given id, removing it from
// every index regardless of whether it has completed a Binding handshake
// yet. Idempotent: removing an unknown id is not an error.
func (p *IcePort) RemoveSession(id session.ID) {
	s, ok := p.registry.RemoveByID(id)
	if !ok {
		return
	}
	if p.metrics != nil {
		p.metrics.SessionRemoved()
	}
	s.Log.Debug("session removed")
	p.notifyState(s, session.StateClosed)
}

// Send transmits b to the session's bound peer over whichever physical
// transport it was last observed on. It fails with ErrSessionNotBound if the
// session has not yet completed its first authenticated Binding request.
func (p *IcePort) Send(s *session.Session, b []byte) error {
	conn := s.RemoteTransport()
	addr := s.PeerAddress()
	if conn == nil || addr == nil {
		return ErrSessionNotBound
	}
	if !conn.SendTo(addr, b) {
		return fmt.Errorf("iceport: send to %s failed", addr)
	}
	if p.metrics != nil {
		p.metrics.DataSent(len(b))
	}
	return nil
}

// GenerateUfrag returns a fresh 6-character alphanumeric ufrag, retrying on
// collision with any ufrag currently live in the registry.
func (p *IcePort) GenerateUfrag() (string, error) {
	for {
		candidate, err := randutil.GenerateCryptoRandomString(6, ufragAlphabet)
		if err != nil {
			return "", fmt.Errorf("iceport: generate ufrag: %w", err)
		}
		if _, exists := p.registry.LookupByUfrag(candidate); !exists {
			return candidate, nil
		}
	}
}

// Close tears down every bound port, stops the expiry sweep and clears all
// session indexes. Safe to call more than once.
func (p *IcePort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	ports := p.ports
	p.ports = nil
	p.mu.Unlock()

	p.expiry.Stop()

	var firstErr error
	for _, l := range ports {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, s := range p.registry.Sessions() {
		p.registry.Remove(s)
		p.notifyState(s, session.StateClosed)
	}

	p.demuxMu.Lock()
	p.demux = make(map[transport.Conn]*demux.TCPDemux)
	p.demuxMu.Unlock()

	return firstErr
}

// String renders a short debug summary: port count and live session count
// rather than a line-by-line candidate dump.
func (p *IcePort) String() string {
	p.mu.Lock()
	n := len(p.ports)
	p.mu.Unlock()
	return fmt.Sprintf("IcePort(ports=%d, sessions=%d)", n, p.registry.Len())
}

func (p *IcePort) notifyState(s *session.Session, state session.State) {
	for _, obs := range p.observers.snapshot() {
		obs.OnStateChanged(p, s, state)
	}
}

func (p *IcePort) notifyData(s *session.Session, b []byte) {
	if p.metrics != nil {
		p.metrics.DataReceived(len(b))
	}
	for _, obs := range p.observers.snapshot() {
		obs.OnDataReceived(p, s, b)
	}
}

func (p *IcePort) onSessionExpired(s *session.Session) {
	if p.metrics != nil {
		p.metrics.SessionRemoved()
		p.metrics.SessionDisconnected()
	}
	p.notifyState(s, session.StateDisconnected)
}
