package iceport

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/icegateway/iceport/demux"
	"github.com/icegateway/iceport/transport"
	"github.com/icegateway/iceport/turnchannel"
)

// OnConnected implements transport.Handler. TCP connections get their own
// demultiplexer; UDP delivers self-contained datagrams and needs none.
func (p *IcePort) OnConnected(conn transport.Conn) {
	if conn.Kind() != transport.KindTCP {
		return
	}
	p.demuxMu.Lock()
	p.demux[conn] = demux.NewTCPDemux(p.cfg.MaxTCPFrameSize)
	p.demuxMu.Unlock()
}

// OnDisconnected implements transport.Handler, discarding any per-connection
// demux state. It does not remove sessions bound to this connection: a TCP
// disconnect is a transport error surfaced through the connection event,
// not a session-fatal integrity failure.
func (p *IcePort) OnDisconnected(conn transport.Conn, err error) {
	if conn.Kind() != transport.KindTCP {
		return
	}
	p.demuxMu.Lock()
	delete(p.demux, conn)
	p.demuxMu.Unlock()
	if err != nil {
		p.log.WithError(err).Debug("transport connection closed")
	}
}

// OnData implements transport.Handler. For TCP it buffers into the
// connection's demultiplexer and drains every complete frame; for UDP the
// datagram is already a complete frame.
func (p *IcePort) OnData(conn transport.Conn, src net.Addr, b []byte) {
	if conn.Kind() != transport.KindTCP {
		p.dispatchFrame(conn, src, b)
		return
	}

	p.demuxMu.RLock()
	d, ok := p.demux[conn]
	p.demuxMu.RUnlock()
	if !ok {
		return
	}

	d.Append(b)
	for {
		frame, ok, err := d.NextFrame()
		if err != nil {
			p.log.WithError(err).Warn("tcp demultiplex failed, closing connection")
			_ = conn.Close()
			return
		}
		if !ok {
			return
		}
		p.dispatchFrame(conn, src, frame)
	}
}

// dispatchFrame classifies a single complete frame (already demultiplexed
// for TCP, already self-contained for UDP) and routes it to the STUN codec,
// the ChannelData codec, or straight through to observers as application
// data.
func (p *IcePort) dispatchFrame(conn transport.Conn, src net.Addr, frame []byte) {
	switch demux.Identify(frame) {
	case demux.PacketSTUN:
		p.handleSTUN(conn, src, frame)
	case demux.PacketTURNChannelData:
		p.handleChannelData(conn, src, frame)
	case demux.PacketDTLS, demux.PacketRTPRTCP:
		p.handleApplicationData(src, frame)
	default:
		log.WithField("len", len(frame)).Debug("dropping unclassifiable packet")
	}
}

// handleChannelData decapsulates an RFC 5766 §11 frame and re-feeds the
// payload through packet classification. turnchannel.Parse reads only the
// declared length, so TCP frames from demux.TCPDemux (which still carry their
// zero padding) and UDP's unpadded encoding both parse the same way.
func (p *IcePort) handleChannelData(conn transport.Conn, src net.Addr, frame []byte) {
	msg, err := turnchannel.Parse(frame)
	if err != nil {
		p.log.WithError(err).Debug("dropping malformed channel-data frame")
		return
	}
	p.dispatchFrame(conn, src, msg.Data)
}
