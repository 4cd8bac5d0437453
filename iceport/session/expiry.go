package session

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// tickInterval is the expiry sweep cadence.
const tickInterval = 1 * time.Second

// ExpiryTimer periodically sweeps a Registry for sessions past their
// expires_at deadline and disconnects them.
type ExpiryTimer struct {
	registry *Registry
	onExpire func(*Session)

	ticker *time.Ticker
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewExpiryTimer builds a timer over registry. onExpire is invoked, outside
// any registry lock, for every session the sweep finds expired, after it has
// already been transitioned to Disconnected and removed from the registry.
func NewExpiryTimer(registry *Registry, onExpire func(*Session)) *ExpiryTimer {
	return &ExpiryTimer{
		registry: registry,
		onExpire: onExpire,
	}
}

// Start begins the 1-second sweep cadence. Calling Start twice without an
// intervening Stop is a no-op.
func (t *ExpiryTimer) Start() {
	if t.ticker != nil {
		return
	}
	t.ticker = time.NewTicker(tickInterval)
	t.quit = make(chan struct{})
	t.wg.Add(1)
	go t.loop()
}

// Stop halts the sweep and waits for the current pass to finish.
func (t *ExpiryTimer) Stop() {
	if t.ticker == nil {
		return
	}
	t.ticker.Stop()
	close(t.quit)
	t.wg.Wait()
	t.ticker = nil
}

func (t *ExpiryTimer) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.quit:
			return
		case now := <-t.ticker.C:
			t.sweep(now)
		}
	}
}

func (t *ExpiryTimer) sweep(now time.Time) {
	for _, s := range t.registry.Sessions() {
		if !s.isExpired(now) {
			continue
		}
		t.registry.Remove(s)
		s.setState(StateDisconnected)
		log.WithField("session_id", s.ID).Debug("session expired")
		if t.onExpire != nil {
			t.onExpire(s)
		}
	}
}
