// Package session implements the transfer protocol: rendezvous, manifest
// exchange, chunk streaming, integrity verification and atomic commit.
package session

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"beam/internal/history"
	"beam/internal/logger"
	"beam/internal/protocol"
	"beam/internal/transport"
)

const defaultWireTimeout = 60 * time.Second

type Config struct {
	Link        transport.Link
	Logger      *logrus.Logger
	Mode        protocol.Mode
	ChunkSize   int64
	Latency     time.Duration
	SendTimeout time.Duration
	RecvTimeout time.Duration
	Progress    io.Writer
	Journal     *history.Journal
}

// Session owns the link exclusively for its lifetime. All protocol steps are
// strictly sequential; the first error aborts the whole session.
type Session struct {
	id   string
	cfg  Config
	link transport.Link
	log  *logrus.Logger

	peer    string
	started time.Time
	items   int
	bytes   int64
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logger.New(false)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = protocol.DefaultChunkSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultWireTimeout
	}
	if cfg.RecvTimeout <= 0 {
		cfg.RecvTimeout = defaultWireTimeout
	}
	if cfg.Progress == nil {
		cfg.Progress = os.Stderr
	}

	return &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		link:    cfg.Link,
		log:     cfg.Logger,
		started: time.Now(),
	}
}

// Establish connects to the peer and waits for readiness within budget.
func (s *Session) Establish(peerID string, budget time.Duration) error {
	s.peer = peerID
	s.log.Infof("connecting to peer %s...", shortID(peerID))
	if err := Establish(s.link, peerID, budget); err != nil {
		return err
	}
	s.log.Info("connected to peer")
	return nil
}

// Send runs the sender side of a session over the given transfer arguments.
func (s *Session) Send(args []string) error {
	err := s.send(args)
	s.journal("sender", err)
	return err
}

// Receive runs the receiver side of a session.
func (s *Session) Receive() error {
	err := s.receive()
	s.journal("receiver", err)
	return err
}

// Close releases the link. Safe to call on every exit path.
func (s *Session) Close() error {
	return s.link.Close()
}

func (s *Session) journal(role string, sessionErr error) {
	if s.cfg.Journal == nil {
		return
	}
	rec := &history.Record{
		ID:         s.id,
		Role:       role,
		Peer:       shortID(s.peer),
		Items:      s.items,
		Bytes:      s.bytes,
		Status:     "ok",
		StartedAt:  s.started.Unix(),
		FinishedAt: time.Now().Unix(),
	}
	if sessionErr != nil {
		rec.Status = "failed"
		rec.Error = sessionErr.Error()
	}
	if err := s.cfg.Journal.Add(rec); err != nil {
		s.log.Warnf("failed to journal session: %v", err)
	}
}

func (s *Session) newBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(s.cfg.Progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetDescription(description),
		progressbar.OptionClearOnFinish(),
	)
}
