// Package tcp implements transport.Listener by accepting connections and
// handing each its own Conn and read loop. Framing (STUN vs ChannelData) is
// deliberately not this package's job; it is carved out by demux.TCPDemux
// one layer up, because a TCP socket only ever tells you bytes arrived.
package tcp

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/icegateway/iceport/transport"
)

type Listener struct {
	address string

	handler  transport.Handler
	listener net.Listener

	wg   sync.WaitGroup
	quit chan struct{}
	lock sync.Mutex
}

func NewListener(address string) *Listener {
	return &Listener{address: address}
}

func (l *Listener) Listen(handler transport.Handler) error {
	l.lock.Lock()

	l.handler = handler
	l.quit = make(chan struct{})

	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		l.lock.Unlock()
		return err
	}
	log.Debugf("ICE TCP port bound to %s", ln.Addr())
	l.listener = ln
	l.wg.Add(1)
	go l.acceptLoop()

	l.lock.Unlock()
	return nil
}

func (l *Listener) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.listener == nil {
		return nil
	}

	close(l.quit)
	err := l.listener.Close()
	l.wg.Wait()
	l.listener = nil
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		raw, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
				log.Errorf("ICE TCP accept failed: %s", err)
				continue
			}
		}

		conn := newConn(raw)
		l.handler.OnConnected(conn)
		go l.readLoop(conn)
	}
}

func (l *Listener) readLoop(conn *Conn) {
	buf := make([]byte, 1500)
	for {
		n, err := conn.raw.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			l.handler.OnData(conn, conn.RemoteAddr(), data)
		}
		if err != nil {
			_ = conn.Close()
			l.handler.OnDisconnected(conn, err)
			return
		}
	}
}
