package transport

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Wait when an operation does not complete within
// the caller's deadline.
var ErrTimeout = errors.New("transport: operation timed out")

// SendWork is the handle of an in-flight send.
type SendWork struct {
	done chan error
}

func newSendWork() *SendWork {
	return &SendWork{done: make(chan error, 1)}
}

func (w *SendWork) complete(err error) {
	w.done <- err
}

// Wait blocks until the send completes or timeout elapses.
func (w *SendWork) Wait(timeout time.Duration) error {
	select {
	case err := <-w.done:
		return err
	case <-time.After(timeout):
		return ErrTimeout
	}
}

type recvResult struct {
	data []byte
	err  error
}

// RecvWork is the handle of an in-flight receive.
type RecvWork struct {
	done chan recvResult
}

func newRecvWork() *RecvWork {
	return &RecvWork{done: make(chan recvResult, 1)}
}

func (w *RecvWork) complete(data []byte, err error) {
	w.done <- recvResult{data: data, err: err}
}

// Wait blocks until a message arrives on the requested tag or timeout
// elapses.
func (w *RecvWork) Wait(timeout time.Duration) ([]byte, error) {
	select {
	case res := <-w.done:
		return res.data, res.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}
