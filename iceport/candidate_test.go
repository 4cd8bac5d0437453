package iceport

import (
	"testing"

	"github.com/icegateway/iceport/transport"
)

// TestCreateIceCandidatesCoalescesDuplicatePorts binds two UDP candidates
// that differ only by interface on the same port and checks that only one
// physical port is opened.
func TestCreateIceCandidatesCoalescesDuplicatePorts(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	err := p.CreateIceCandidates([]IceCandidate{
		{Transport: transport.KindUDP, Address: "10.0.0.1:0"},
		{Transport: transport.KindUDP, Address: "10.0.0.2:0"},
	})
	if err != nil {
		t.Fatalf("create ice candidates: %v", err)
	}

	p.mu.Lock()
	n := len(p.ports)
	p.mu.Unlock()

	// Both candidates name port 0, so they share the coalescing key
	// (port, kind) and only the first one is bound.
	if n != 1 {
		t.Fatalf("expected exactly one bound port, got %d", n)
	}
}

// TestCreateIceCandidatesRollsBackOnFailure checks that an invalid
// candidate address closes every port already opened during the same call.
func TestCreateIceCandidatesRollsBackOnFailure(t *testing.T) {
	p := NewIcePort(Config{}, nil)
	defer p.Close()

	err := p.CreateIceCandidates([]IceCandidate{
		{Transport: transport.KindUDP, Address: "127.0.0.1:0"},
		{Transport: transport.KindUDP, Address: "not-an-address"},
	})
	if err == nil {
		t.Fatalf("expected an error for the malformed candidate")
	}

	p.mu.Lock()
	n := len(p.ports)
	p.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no ports retained after rollback, got %d", n)
	}
}
