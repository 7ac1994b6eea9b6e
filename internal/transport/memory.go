package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryLink is a channel-backed Link for tests: two cross-connected
// endpoints with the same ordering and tag semantics as the QUIC node.
type MemoryLink struct {
	id  string
	out chan frame
	in  chan frame

	// Transform, when set, rewrites outgoing payloads. Tests use it to
	// corrupt traffic.
	Transform func(tag uint8, payload []byte) []byte

	ready atomic.Bool

	queueMu sync.Mutex
	queues  map[uint8]chan []byte

	sendQ chan sendJob

	dead    chan struct{}
	dieOnce sync.Once
}

// NewMemoryPair returns two connected in-memory links.
func NewMemoryPair(idA, idB string) (*MemoryLink, *MemoryLink) {
	ab := make(chan frame, 256)
	ba := make(chan frame, 256)
	return newMemoryLink(idA, ab, ba), newMemoryLink(idB, ba, ab)
}

func newMemoryLink(id string, out, in chan frame) *MemoryLink {
	l := &MemoryLink{
		id:     id,
		out:    out,
		in:     in,
		queues: make(map[uint8]chan []byte),
		sendQ:  make(chan sendJob, 256),
		dead:   make(chan struct{}),
	}
	go l.readerLoop()
	go l.writerLoop()
	return l
}

func (l *MemoryLink) NodeID() string {
	return l.id
}

func (l *MemoryLink) Connect(peerID string, retries int) {
	l.ready.Store(true)
}

func (l *MemoryLink) Ready() bool {
	return l.ready.Load()
}

func (l *MemoryLink) Send(tag uint8, payload []byte, latency time.Duration) *SendWork {
	work := newSendWork()
	job := sendJob{
		frame:   frame{Tag: tag, Payload: payload},
		latency: latency,
		work:    work,
	}
	select {
	case l.sendQ <- job:
	case <-l.dead:
		work.complete(errors.New("transport: link closed"))
	}
	return work
}

func (l *MemoryLink) Recv(tag uint8) *RecvWork {
	work := newRecvWork()
	queue := l.queue(tag)
	go func() {
		select {
		case data := <-queue:
			work.complete(data, nil)
		case <-l.dead:
			work.complete(nil, errors.New("transport: link closed"))
		}
	}()
	return work
}

func (l *MemoryLink) Close() error {
	l.dieOnce.Do(func() { close(l.dead) })
	return nil
}

func (l *MemoryLink) writerLoop() {
	for {
		select {
		case job := <-l.sendQ:
			if l.Transform != nil {
				job.frame.Payload = l.Transform(job.frame.Tag, job.frame.Payload)
			}
			select {
			case l.out <- job.frame:
				job.work.complete(nil)
			case <-l.dead:
				job.work.complete(errors.New("transport: link closed"))
				return
			}
		case <-l.dead:
			return
		}
	}
}

func (l *MemoryLink) readerLoop() {
	for {
		select {
		case f := <-l.in:
			select {
			case l.queue(f.Tag) <- f.Payload:
			case <-l.dead:
				return
			}
		case <-l.dead:
			return
		}
	}
}

func (l *MemoryLink) queue(tag uint8) chan []byte {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	q, ok := l.queues[tag]
	if !ok {
		q = make(chan []byte, 128)
		l.queues[tag] = q
	}
	return q
}

var _ Link = (*MemoryLink)(nil)
var _ Link = (*Node)(nil)
