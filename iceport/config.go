package iceport

import "time"

// Config carries the construction-time settings a caller injects into
// NewIcePort. Nothing here is read from the environment or from a file;
// loading configuration is left to the caller.
type Config struct {
	// SessionDeadline is how long a session may go without a successful
	// Binding transaction before the expiry sweep disconnects it.
	SessionDeadline time.Duration

	// MaxTCPFrameSize bounds a single STUN or ChannelData frame the TCP
	// demultiplexer will assemble before closing the connection. Zero
	// selects demux.DefaultMaxFrameSize.
	MaxTCPFrameSize int

	// StrictUfragCheck controls handling of a Binding request whose USERNAME
	// remote ufrag does not match the peer_ufrag recorded at AddSession: when
	// true it is rejected outright instead of merely logged. Defaults to
	// false, the lenient behavior.
	StrictUfragCheck bool

	// PendingTransactionTTL bounds how long a server-initiated Binding
	// Request's transaction id is tracked. Older entries are pruned whenever
	// a new request is tracked or a response is consumed.
	PendingTransactionTTL time.Duration
}

// withDefaults fills zero-valued fields with the module's defaults.
func (c Config) withDefaults() Config {
	if c.SessionDeadline <= 0 {
		c.SessionDeadline = 30 * time.Second
	}
	if c.PendingTransactionTTL <= 0 {
		c.PendingTransactionTTL = 10 * time.Second
	}
	return c
}
