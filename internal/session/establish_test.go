package session

import (
	"errors"
	"testing"
	"time"

	"beam/internal/transport"
)

// neverReadyLink satisfies the Link interface but never comes up.
type neverReadyLink struct{}

func (neverReadyLink) NodeID() string                     { return "stub" }
func (neverReadyLink) Connect(peerID string, retries int) {}
func (neverReadyLink) Ready() bool                        { return false }
func (neverReadyLink) Send(tag uint8, payload []byte, latency time.Duration) *transport.SendWork {
	return nil
}
func (neverReadyLink) Recv(tag uint8) *transport.RecvWork { return nil }
func (neverReadyLink) Close() error                       { return nil }

func TestEstablishReadyLink(t *testing.T) {
	a, b := transport.NewMemoryPair("aaaa", "bbbb")
	defer a.Close()
	defer b.Close()

	if err := Establish(a, b.NodeID(), time.Second); err != nil {
		t.Fatalf("Establish failed on a ready link: %v", err)
	}
}

func TestEstablishTimesOut(t *testing.T) {
	start := time.Now()
	err := Establish(neverReadyLink{}, "deadbeefdeadbeefdeadbeef", 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected Establish to fail")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if connErr.Peer != "deadbeefdeadbeef" {
		t.Errorf("expected truncated peer ID, got %q", connErr.Peer)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Establish took %v, expected it to respect the budget", elapsed)
	}
}
