package iceport

import (
	"net"
	"time"

	"github.com/icegateway/iceport/iceport/session"
	"github.com/icegateway/iceport/stun"
	"github.com/icegateway/iceport/transport"
)

// pendingKey identifies one outstanding server-initiated Binding Request in
// the port's short-lived set of in-flight transaction ids. An entry is dropped
// when a response carrying its transaction id arrives or when it outlives
// Config.PendingTransactionTTL; handleBindingSuccess does not require a
// response's transaction id to be in the set.
type pendingKey struct {
	sessionID session.ID
	tid       stun.TransactionID
}

type pendingBinding struct {
	sentAt time.Time
}

// handleSTUN parses and routes a frame the Packet Identifier has already
// classified as STUN.
func (p *IcePort) handleSTUN(conn transport.Conn, src net.Addr, raw []byte) {
	msg, err := stun.Parse(raw)
	if err != nil {
		p.log.WithError(err).Debug("dropping malformed stun message")
		return
	}
	if msg.Method != stun.MethodBinding {
		return
	}

	switch msg.Class {
	case stun.ClassRequest:
		p.handleBindingRequest(conn, src, msg, raw)
	case stun.ClassSuccessResponse:
		p.handleBindingSuccess(src, msg, raw)
	case stun.ClassErrorResponse:
		p.log.WithField("from", src).Debug("binding error response received")
	case stun.ClassIndication:
		// Binding indications carry no response obligation; drop.
	}
}

// handleBindingRequest authenticates an inbound Binding request against the
// session it addresses and, on success, promotes the session and turns
// around a server-initiated Binding request of its own toward the peer.
func (p *IcePort) handleBindingRequest(conn transport.Conn, src net.Addr, msg *stun.Message, raw []byte) {
	username, ok := msg.Username()
	if !ok {
		return
	}
	localUfrag, remoteUfrag, ok := stun.SplitUsername(username)
	if !ok {
		return
	}

	s, ok := p.registry.LookupByUfrag(localUfrag)
	if !ok {
		// Normal race before AddSession completes; drop silently.
		return
	}

	if remoteUfrag != s.PeerUfrag {
		s.Log.WithField("remote_ufrag", remoteUfrag).Warn("binding request ufrag mismatch")
		if p.cfg.StrictUfragCheck {
			return
		}
	}

	if !stun.Verify(raw, []byte(s.OfferPwd)) {
		p.failSession(s)
		return
	}

	p.registry.Touch(s)

	promoted := p.registry.PromoteIfNew(s, conn, src)
	if promoted {
		s.Log.WithField("peer_address", src).Info("session checking")
		p.notifyState(s, session.StateChecking)
	}

	if err := p.sendBindingSuccess(conn, src, msg, s); err != nil {
		s.Log.WithError(err).Warn("failed to send binding success response")
	}

	if promoted {
		if err := p.sendBindingRequest(conn, s); err != nil {
			s.Log.WithError(err).Warn("failed to send server-initiated binding request")
		}
	}
}

// sendBindingSuccess replies with XOR-MAPPED-ADDRESS of the observed source,
// MESSAGE-INTEGRITY keyed by offer_pwd, FINGERPRINT, and the transaction id
// echoed from the request.
func (p *IcePort) sendBindingSuccess(conn transport.Conn, src net.Addr, req *stun.Message, s *session.Session) error {
	resp := &stun.Message{
		Class:         stun.ClassSuccessResponse,
		Method:        stun.MethodBinding,
		TransactionID: req.TransactionID,
	}
	if udpAddr, ok := src.(*net.UDPAddr); ok {
		resp.AddXorMappedAddress(udpAddr)
	} else if udpAddr, err := net.ResolveUDPAddr("udp", src.String()); err == nil {
		resp.AddXorMappedAddress(udpAddr)
	}

	raw, err := resp.Serialize([]byte(s.OfferPwd))
	if err != nil {
		return err
	}
	if !conn.SendTo(src, raw) {
		return errSendFailed
	}
	if p.metrics != nil {
		p.metrics.DataSent(len(raw))
	}
	return nil
}

// sendBindingRequest turns around a Binding Request of its own toward the
// peer, with USERNAME=peer_ufrag:offer_ufrag, ICE-CONTROLLING, USE-CANDIDATE
// and PRIORITY, keyed by peer_pwd. Its transaction id is tracked in
// p.pending until the matching SuccessResponse arrives or it is pruned.
func (p *IcePort) sendBindingRequest(conn transport.Conn, s *session.Session) error {
	req, err := stun.NewMessage(stun.ClassRequest, stun.MethodBinding)
	if err != nil {
		return err
	}
	req.AddUsername(s.PeerUfrag + ":" + s.OfferUfrag)
	req.AddIceControlling(serverTiebreaker)
	req.AddUseCandidate()
	req.AddPriority(serverPriority)

	raw, err := req.Serialize([]byte(s.PeerPwd))
	if err != nil {
		return err
	}

	p.trackPending(s.ID, req.TransactionID)

	addr := s.PeerAddress()
	if !conn.SendTo(addr, raw) {
		return errSendFailed
	}
	if p.metrics != nil {
		p.metrics.DataSent(len(raw))
	}
	return nil
}

// handleBindingSuccess handles the reply to the server's own
// server-initiated Binding request sent from sendBindingRequest.
func (p *IcePort) handleBindingSuccess(src net.Addr, msg *stun.Message, raw []byte) {
	s, ok := p.registry.LookupByAddress(src)
	if !ok {
		return
	}

	if !stun.Verify(raw, []byte(s.OfferPwd)) {
		p.log.WithField("session_id", s.ID).Debug("dropping success response with bad integrity")
		return
	}

	p.pruneAndConsumePending(s.ID, msg.TransactionID)

	if s.State() == session.StateConnected {
		return
	}
	p.registry.SetState(s, session.StateConnected)
	if p.metrics != nil {
		p.metrics.SessionConnected()
	}
	s.Log.Info("session connected")
	p.notifyState(s, session.StateConnected)
}

// handleApplicationData delivers a demultiplexed DTLS/RTP/RTCP frame to
// observers, looking the session up by the address it arrived from.
func (p *IcePort) handleApplicationData(src net.Addr, frame []byte) {
	s, ok := p.registry.LookupByAddress(src)
	if !ok {
		return
	}
	p.registry.Touch(s)
	p.notifyData(s, frame)
}

// failSession handles an integrity failure, which is session-fatal: the
// session moves to Failed and is removed from every index; no response is
// sent.
func (p *IcePort) failSession(s *session.Session) {
	p.registry.Remove(s)
	p.registry.Fail(s)
	if p.metrics != nil {
		p.metrics.SessionRemoved()
		p.metrics.SessionFailed()
	}
	s.Log.Warn("session failed integrity check")
	p.notifyState(s, session.StateFailed)
}

func (p *IcePort) trackPending(id session.ID, tid stun.TransactionID) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()

	now := time.Now()
	p.pending[pendingKey{sessionID: id, tid: tid}] = &pendingBinding{sentAt: now}
	p.prunePendingLocked(now)
}

func (p *IcePort) pruneAndConsumePending(id session.ID, tid stun.TransactionID) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	delete(p.pending, pendingKey{sessionID: id, tid: tid})
	p.prunePendingLocked(time.Now())
}

// prunePendingLocked drops any in-flight transaction older than
// Config.PendingTransactionTTL. Callers hold pendingMu.
func (p *IcePort) prunePendingLocked(now time.Time) {
	for k, v := range p.pending {
		if now.Sub(v.sentAt) > p.cfg.PendingTransactionTTL {
			delete(p.pending, k)
		}
	}
}

// serverTiebreaker and serverPriority are fixed values for the server's
// half of the connectivity check: there is no competing candidate set to
// rank against, so these never need to vary.
const (
	serverTiebreaker uint64 = 1
	serverPriority   uint32 = 1
)
