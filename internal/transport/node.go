package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const (
	serviceName   = "_beam._udp"
	serviceDomain = "local."

	browseTimeout = 1 * time.Second
	dialTimeout   = 5 * time.Second
	streamTimeout = 30 * time.Second
)

type sendJob struct {
	frame   frame
	latency time.Duration
	work    *SendWork
}

// Node is the QUIC implementation of Link. It listens on an ephemeral UDP
// port, advertises its NodeID over mDNS, and rendezvouses with the peer by
// browsing for the peer's advertisement. To avoid two crossing connections,
// the endpoint with the lower NodeID dials and the other accepts.
type Node struct {
	identity Identity
	id       string
	logger   *logrus.Logger

	listener *quic.Listener
	zc       *zeroconf.Server

	mu     sync.Mutex
	conn   quic.Connection
	codec  *frameCodec
	ready  atomic.Bool
	closed atomic.Bool

	peerID  string
	peerSet chan struct{}
	peerMu  sync.Mutex

	queueMu sync.Mutex
	queues  map[uint8]chan []byte

	sendQ    chan sendJob
	attached chan struct{}

	dead    chan struct{}
	dieOnce sync.Once
	deadErr error
}

func NewNode(identity Identity, logger *logrus.Logger) (*Node, error) {
	tlsConf, err := identity.tlsConfig()
	if err != nil {
		return nil, fmt.Errorf("building TLS config: %w", err)
	}

	listener, err := quic.ListenAddr("0.0.0.0:0", tlsConf, defaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}

	id := identity.NodeID()
	port := listener.Addr().(*net.UDPAddr).Port

	// mDNS instance names are length-limited, so the instance carries a
	// prefix and the TXT record carries the full NodeID.
	zc, err := zeroconf.Register(id[:24], serviceName, serviceDomain, port, []string{"id=" + id}, nil)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("registering mDNS service: %w", err)
	}

	n := &Node{
		identity: identity,
		id:       id,
		logger:   logger,
		listener: listener,
		zc:       zc,
		peerSet:  make(chan struct{}),
		queues:   make(map[uint8]chan []byte),
		sendQ:    make(chan sendJob, 256),
		attached: make(chan struct{}),
		dead:     make(chan struct{}),
	}

	logger.Debugf("node %s listening on udp port %d", id[:16], port)

	go n.acceptLoop()
	go n.writerLoop()

	return n, nil
}

func (n *Node) NodeID() string {
	return n.id
}

func (n *Node) Ready() bool {
	return n.ready.Load()
}

// Connect records the expected peer and, when this endpoint is the designated
// dialer, starts the rendezvous loop. The acceptor side only waits for the
// inbound connection.
func (n *Node) Connect(peerID string, retries int) {
	n.peerMu.Lock()
	if n.peerID == "" {
		n.peerID = peerID
		close(n.peerSet)
	}
	n.peerMu.Unlock()

	if n.id < peerID {
		go n.dialLoop(peerID, retries)
	} else {
		n.logger.Debugf("waiting for inbound connection from %s", peerID[:16])
	}
}

func (n *Node) Send(tag uint8, payload []byte, latency time.Duration) *SendWork {
	work := newSendWork()
	job := sendJob{
		frame:   frame{Tag: tag, Payload: payload},
		latency: latency,
		work:    work,
	}
	select {
	case n.sendQ <- job:
	case <-n.dead:
		work.complete(n.dieErr())
	}
	return work
}

func (n *Node) Recv(tag uint8) *RecvWork {
	work := newRecvWork()
	queue := n.queue(tag)
	go func() {
		select {
		case data := <-queue:
			work.complete(data, nil)
		case <-n.dead:
			work.complete(nil, n.dieErr())
		}
	}()
	return work
}

func (n *Node) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	n.die(errors.New("transport: link closed"))
	n.zc.Shutdown()
	err := n.listener.Close()

	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		_ = conn.CloseWithError(0, "session closed")
	}
	return err
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.listener.Accept(context.Background())
		if err != nil {
			return
		}
		go n.handleInbound(conn)
	}
}

func (n *Node) handleInbound(conn quic.Connection) {
	select {
	case <-n.peerSet:
	case <-n.dead:
		_ = conn.CloseWithError(1, "closed")
		return
	}

	peer, err := peerNodeID(conn.ConnectionState().TLS)
	if err != nil || peer != n.peerID {
		n.logger.Debugf("rejecting inbound connection: unexpected peer")
		_ = conn.CloseWithError(1, "unexpected peer")
		return
	}

	if n.id < n.peerID {
		// This endpoint is the dialer; its own outbound connection wins.
		_ = conn.CloseWithError(1, "crossing connection")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		n.logger.Debugf("accepting stream: %v", err)
		_ = conn.CloseWithError(1, "no stream")
		return
	}

	n.attach(conn, stream)
}

func (n *Node) dialLoop(peerID string, retries int) {
	for attempt := 0; attempt < retries; attempt++ {
		select {
		case <-n.dead:
			return
		default:
		}

		addr, err := n.discover(peerID)
		if err != nil {
			n.logger.Debugf("rendezvous attempt %d/%d: %v", attempt+1, retries, err)
			continue
		}

		if n.dial(peerID, addr) {
			return
		}
	}
	n.logger.Debugf("rendezvous gave up after %d attempts", retries)
}

func (n *Node) dial(peerID, addr string) bool {
	tlsConf, err := n.identity.tlsConfig()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, tlsConf, defaultQUICConfig())
	if err != nil {
		n.logger.Debugf("dialing %s: %v", addr, err)
		return false
	}

	peer, err := peerNodeID(conn.ConnectionState().TLS)
	if err != nil || peer != peerID {
		_ = conn.CloseWithError(1, "unexpected peer")
		return false
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return false
	}

	n.attach(conn, stream)
	return true
}

// discover browses mDNS for the peer's advertisement and returns its address.
func (n *Node) discover(peerID string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, serviceName, serviceDomain, entries); err != nil {
		return "", err
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("peer %s not found", peerID[:16])
			}
			if entry == nil {
				continue
			}
			for _, txt := range entry.Text {
				if strings.TrimPrefix(txt, "id=") == peerID {
					if len(entry.AddrIPv4) == 0 {
						continue
					}
					return fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port), nil
				}
			}
		case <-ctx.Done():
			return "", fmt.Errorf("peer %s not found", peerID[:16])
		}
	}
}

func (n *Node) attach(conn quic.Connection, stream quic.Stream) {
	n.mu.Lock()
	if n.conn != nil {
		n.mu.Unlock()
		_ = conn.CloseWithError(1, "already connected")
		return
	}
	n.conn = conn
	n.codec = newFrameCodec(stream)
	n.mu.Unlock()

	close(n.attached)
	n.ready.Store(true)
	n.logger.Debugf("link established with %s", n.peerID[:16])

	go n.readerLoop()
}

func (n *Node) writerLoop() {
	select {
	case <-n.attached:
	case <-n.dead:
		return
	}
	for {
		select {
		case job := <-n.sendQ:
			err := n.codec.write(job.frame)
			if err == nil && job.latency > 0 {
				time.Sleep(job.latency)
			}
			job.work.complete(err)
			if err != nil {
				n.die(err)
				return
			}
		case <-n.dead:
			return
		}
	}
}

func (n *Node) readerLoop() {
	for {
		f, err := n.codec.read()
		if err != nil {
			n.die(err)
			return
		}
		select {
		case n.queue(f.Tag) <- f.Payload:
		case <-n.dead:
			return
		}
	}
}

func (n *Node) queue(tag uint8) chan []byte {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	q, ok := n.queues[tag]
	if !ok {
		q = make(chan []byte, 128)
		n.queues[tag] = q
	}
	return q
}

func (n *Node) die(err error) {
	n.dieOnce.Do(func() {
		n.deadErr = err
		close(n.dead)
	})
}

func (n *Node) dieErr() error {
	select {
	case <-n.dead:
		return n.deadErr
	default:
		return errors.New("transport: link not available")
	}
}
