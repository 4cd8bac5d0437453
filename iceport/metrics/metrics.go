// Package metrics instruments the ICE endpoint with OpenTelemetry counters:
// one struct wrapping a metric.Meter, built once at construction, with
// counters incremented inline rather than sampled on a timer.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics counts session lifecycle transitions and wire traffic for one
// IcePort instance.
type Metrics struct {
	metric.Meter

	SessionsNew          metric.Int64Counter
	SessionsConnected    metric.Int64Counter
	SessionsFailed       metric.Int64Counter
	SessionsDisconnected metric.Int64Counter

	IntegrityFailures metric.Int64Counter

	BytesSent metric.Int64Counter
	BytesRecv metric.Int64Counter

	sessions metric.Int64UpDownCounter
}

// New builds a Metrics instance, registering every counter under the
// "iceport_" namespace.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{Meter: meter}

	var err error
	if m.SessionsNew, err = meter.Int64Counter("iceport_sessions_created"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.SessionsConnected, err = meter.Int64Counter("iceport_sessions_connected"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.SessionsFailed, err = meter.Int64Counter("iceport_sessions_failed"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.SessionsDisconnected, err = meter.Int64Counter("iceport_sessions_disconnected"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.IntegrityFailures, err = meter.Int64Counter("iceport_integrity_failures"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.BytesSent, err = meter.Int64Counter("iceport_bytes_sent"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.BytesRecv, err = meter.Int64Counter("iceport_bytes_received"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}
	if m.sessions, err = meter.Int64UpDownCounter("iceport_sessions_live"); err != nil {
		return nil, fmt.Errorf("creating app metrics: %w", err)
	}

	return m, nil
}

// SessionAdded tracks a session entering state New.
func (m *Metrics) SessionAdded() {
	m.SessionsNew.Add(context.Background(), 1)
	m.sessions.Add(context.Background(), 1)
}

// SessionRemoved tracks a session leaving the registry, regardless of why.
func (m *Metrics) SessionRemoved() {
	m.sessions.Add(context.Background(), -1)
}

// SessionConnected tracks a Checking→Connected transition.
func (m *Metrics) SessionConnected() {
	m.SessionsConnected.Add(context.Background(), 1)
}

// SessionFailed tracks an integrity-failure teardown.
func (m *Metrics) SessionFailed() {
	m.SessionsFailed.Add(context.Background(), 1)
	m.IntegrityFailures.Add(context.Background(), 1)
}

// SessionDisconnected tracks an expiry teardown.
func (m *Metrics) SessionDisconnected() {
	m.SessionsDisconnected.Add(context.Background(), 1)
}

// DataSent records bytes handed to the transport for a peer.
func (m *Metrics) DataSent(n int) {
	m.BytesSent.Add(context.Background(), int64(n))
}

// DataReceived records bytes delivered to an observer as application data.
func (m *Metrics) DataReceived(n int) {
	m.BytesRecv.Add(context.Background(), int64(n))
}
