package session

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"beam/internal/protocol"
)

func (s *Session) send(args []string) error {
	manifest, outgoing, err := buildManifest(args, s.cfg.Mode, s.cfg.ChunkSize)
	if err != nil {
		return err
	}

	data, err := manifest.Encode()
	if err != nil {
		return &ProtocolError{Err: err}
	}

	var total int64
	for _, out := range outgoing {
		total += out.rawSize
	}

	s.log.Infof("manifest (%d bytes): %s", len(data), data)
	s.log.Infof("sending %d items, %s total", len(outgoing), humanize.IBytes(uint64(total)))

	if err := s.link.Send(protocol.TagManifest, data, s.cfg.Latency).Wait(s.cfg.SendTimeout); err != nil {
		return &TransferError{Op: "manifest send", Err: err}
	}

	bar := s.newBar(total, "sending")
	for _, out := range outgoing {
		if out.blob != nil {
			if err := s.sendBlob(out, bar); err != nil {
				return err
			}
		} else {
			if err := s.sendChunked(out, bar); err != nil {
				return err
			}
		}
		s.items++
		s.bytes += out.rawSize
	}
	_ = bar.Finish()

	s.log.Info("all items sent")
	return nil
}

// sendChunked streams one file chunk by chunk, each chunk compressed on its
// own and acknowledged by send completion before the next is read. At most
// one chunk is ever in flight.
func (s *Session) sendChunked(out outgoingItem, bar *progressbar.ProgressBar) error {
	f, err := os.Open(out.srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", out.srcPath, err)
	}
	defer f.Close()

	buf := make([]byte, s.cfg.ChunkSize)
	for idx := 0; idx < out.item.NumChunks; idx++ {
		remaining := out.item.Size - int64(idx)*s.cfg.ChunkSize
		if remaining > s.cfg.ChunkSize {
			remaining = s.cfg.ChunkSize
		}
		if remaining < 0 {
			remaining = 0
		}
		chunk := buf[:remaining]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return fmt.Errorf("reading %s: %w", out.srcPath, err)
		}

		compressed, err := protocol.Compress(chunk)
		if err != nil {
			return &TransferError{Op: "chunk compression", Err: err}
		}

		s.log.Debugf("sending chunk %d/%d of %s (%d compressed bytes)",
			idx+1, out.item.NumChunks, out.item.Path, len(compressed))
		if err := s.link.Send(protocol.TagContent, compressed, s.cfg.Latency).Wait(s.cfg.SendTimeout); err != nil {
			return &TransferError{
				Op:  fmt.Sprintf("send of chunk %d/%d of %s", idx+1, out.item.NumChunks, out.item.Path),
				Err: err,
			}
		}
		_ = bar.Add(len(chunk))
	}
	return nil
}

func (s *Session) sendBlob(out outgoingItem, bar *progressbar.ProgressBar) error {
	s.log.Debugf("sending %s as a single %d-byte message", out.item.Path, len(out.blob))
	if err := s.link.Send(protocol.TagContent, out.blob, s.cfg.Latency).Wait(s.cfg.SendTimeout); err != nil {
		return &TransferError{Op: "send of " + out.item.Path, Err: err}
	}
	_ = bar.Add64(out.rawSize)
	return nil
}
