package iceport

import (
	"fmt"
	"net"

	"github.com/icegateway/iceport/transport"
	"github.com/icegateway/iceport/transport/tcp"
	"github.com/icegateway/iceport/transport/udp"
)

// IceCandidate pairs a transport kind with a bind address. The list is
// immutable after CreateIceCandidates has bound ports from it.
type IceCandidate struct {
	Transport transport.Kind
	Address   string
}

type portKey struct {
	port int
	kind transport.Kind
}

// CreateIceCandidates binds one physical port per distinct (port, kind)
// tuple across candidates, coalescing duplicates that differ only by
// interface, and always to the wildcard interface. If any port fails to
// bind, every port opened during this call is closed and the error is
// returned — no partial endpoint is left listening.
func (p *IcePort) CreateIceCandidates(candidates []IceCandidate) error {
	seen := make(map[portKey]bool)
	var opened []transport.Listener

	for _, c := range candidates {
		_, portStr, err := net.SplitHostPort(c.Address)
		if err != nil {
			p.closeListeners(opened)
			return fmt.Errorf("iceport: invalid candidate address %q: %w", c.Address, err)
		}

		var port int
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			p.closeListeners(opened)
			return fmt.Errorf("iceport: invalid candidate port %q: %w", portStr, err)
		}

		key := portKey{port: port, kind: c.Transport}
		if seen[key] {
			continue
		}
		seen[key] = true

		wildcard := fmt.Sprintf(":%d", port)

		var listener transport.Listener
		switch c.Transport {
		case transport.KindUDP:
			listener = udp.NewListener(wildcard)
		case transport.KindTCP:
			listener = tcp.NewListener(wildcard)
		default:
			p.closeListeners(opened)
			return fmt.Errorf("iceport: unknown candidate transport %v", c.Transport)
		}

		if err := listener.Listen(p); err != nil {
			p.closeListeners(opened)
			return fmt.Errorf("iceport: bind %s/%s: %w", wildcard, c.Transport, err)
		}
		opened = append(opened, listener)
	}

	p.mu.Lock()
	p.ports = append(p.ports, opened...)
	p.mu.Unlock()

	return nil
}

func (p *IcePort) closeListeners(listeners []transport.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}
