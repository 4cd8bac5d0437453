package udp

import (
	"net"

	"github.com/icegateway/iceport/transport"
)

// Conn is the per-source-address handle handed to the core for a UDP
// candidate. It shares the listener's socket; sending to a different
// address than the one it was created for is valid and expected once a
// session answers from the address supplied in SendTo.
type Conn struct {
	socket *net.UDPConn
	addr   *net.UDPAddr
}

func newConn(socket *net.UDPConn, addr *net.UDPAddr) *Conn {
	return &Conn{socket: socket, addr: addr}
}

func (c *Conn) Kind() transport.Kind { return transport.KindUDP }

func (c *Conn) LocalAddr() net.Addr { return c.socket.LocalAddr() }

func (c *Conn) SendTo(addr net.Addr, b []byte) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return false
		}
		udpAddr = resolved
	}
	_, err := c.socket.WriteToUDP(b, udpAddr)
	return err == nil
}

// Close is a no-op: the physical socket is shared by every peer address and
// is closed by the Listener, not by an individual Conn.
func (c *Conn) Close() error { return nil }
