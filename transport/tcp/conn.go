package tcp

import (
	"net"

	"github.com/icegateway/iceport/transport"
)

// Conn wraps an accepted net.Conn as a transport.Conn. Unlike UDP, a TCP
// Conn has exactly one peer, so SendTo ignores its address argument.
type Conn struct {
	raw net.Conn
}

func newConn(raw net.Conn) *Conn {
	return &Conn{raw: raw}
}

func (c *Conn) Kind() transport.Kind { return transport.KindTCP }

func (c *Conn) LocalAddr() net.Addr { return c.raw.LocalAddr() }

func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) SendTo(_ net.Addr, b []byte) bool {
	_, err := c.raw.Write(b)
	return err == nil
}

func (c *Conn) Close() error { return c.raw.Close() }
