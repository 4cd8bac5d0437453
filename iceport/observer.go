package iceport

import (
	"sync"

	"github.com/icegateway/iceport/iceport/session"
)

// Observer receives session lifecycle and data events from an IcePort.
// Registered and deregistered via AddObserver/RemoveObserver/
// RemoveObservers/HasObserver.
type Observer interface {
	// OnStateChanged fires for every Session state transition.
	OnStateChanged(port *IcePort, s *session.Session, newState session.State)
	// OnDataReceived fires for each authenticated application packet
	// (DTLS, RTP, RTCP) after STUN/ChannelData demultiplexing.
	OnDataReceived(port *IcePort, s *session.Session, b []byte)
}

type observerList struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observerList) add(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

func (o *observerList) remove(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.list {
		if existing == obs {
			o.list = append(o.list[:i], o.list[i+1:]...)
			return
		}
	}
}

func (o *observerList) removeAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = nil
}

func (o *observerList) has(obs Observer) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, existing := range o.list {
		if existing == obs {
			return true
		}
	}
	return false
}

func (o *observerList) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Observer, len(o.list))
	copy(out, o.list)
	return out
}
