package transport

import "time"

// Link is a connected, tag-multiplexed message channel to exactly one peer.
// Sends complete in call order; receives on a tag complete in arrival order.
// The session owns the link for its whole lifetime and must Close it on every
// exit path.
type Link interface {
	// NodeID is this endpoint's public identifier.
	NodeID() string
	// Connect starts connecting to the peer without blocking. retries bounds
	// the number of rendezvous attempts.
	Connect(peerID string, retries int)
	// Ready reports whether the link is established.
	Ready() bool
	// Send queues payload on tag and returns immediately. latency paces
	// consecutive sends.
	Send(tag uint8, payload []byte, latency time.Duration) *SendWork
	// Recv requests the next message on tag.
	Recv(tag uint8) *RecvWork
	Close() error
}
