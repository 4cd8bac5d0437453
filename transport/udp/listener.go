// Package udp implements transport.Listener over a single bound UDP socket,
// tracking one Conn per distinct source address. Modeled on the relay
// server's UDP listener, generalized to the richer on_connected/on_data
// callback surface the ICE endpoint needs.
package udp

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/icegateway/iceport/transport"
)

type Listener struct {
	address string

	handler transport.Handler
	conns   map[string]*Conn
	lock    sync.Mutex

	socket *net.UDPConn
	wg     sync.WaitGroup
	quit   chan struct{}
}

// NewListener returns a Listener bound to address once Listen is called.
func NewListener(address string) *Listener {
	return &Listener{
		address: address,
		conns:   make(map[string]*Conn),
	}
}

func (l *Listener) Listen(handler transport.Handler) error {
	l.lock.Lock()

	l.handler = handler
	l.quit = make(chan struct{})

	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		log.Errorf("invalid listen address %q: %s", l.address, err)
		l.lock.Unlock()
		return err
	}

	socket, err := net.ListenUDP("udp", addr)
	if err != nil {
		l.lock.Unlock()
		return err
	}
	log.Debugf("ICE UDP port bound to %s", socket.LocalAddr())
	l.socket = socket
	l.wg.Add(1)
	go l.readLoop()

	l.lock.Unlock()
	return nil
}

func (l *Listener) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.socket == nil {
		return nil
	}

	close(l.quit)
	err := l.socket.Close()
	l.wg.Wait()
	l.socket = nil
	return err
}

func (l *Listener) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, addr, err := l.socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
				log.Errorf("ICE UDP read failed: %s", err)
				continue
			}
		}

		key := addr.String()
		l.lock.Lock()
		conn, known := l.conns[key]
		if !known {
			conn = newConn(l.socket, addr)
			l.conns[key] = conn
		}
		l.lock.Unlock()

		if !known {
			l.handler.OnConnected(conn)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.handler.OnData(conn, addr, data)
	}
}
