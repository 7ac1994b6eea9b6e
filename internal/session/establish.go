package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"

	"beam/internal/transport"
)

const readyPollInterval = 100 * time.Millisecond

var errNotReady = errors.New("link not ready")

// Establish starts a non-blocking connect toward peerID and polls readiness
// at a fixed interval until the link is up or the budget elapses. The budget
// doubles as the transport's retry count, one rendezvous attempt per second.
func Establish(link transport.Link, peerID string, budget time.Duration) error {
	retries := int(budget / time.Second)
	if retries < 1 {
		retries = 1
	}
	link.Connect(peerID, retries)

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	poll := backoff.WithContext(backoff.NewConstantBackOff(readyPollInterval), ctx)
	err := backoff.Retry(func() error {
		if link.Ready() {
			return nil
		}
		return errNotReady
	}, poll)
	if err != nil {
		return &ConnectionError{Peer: shortID(peerID)}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
