package session

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"beam/internal/protocol"
)

func (s *Session) receive() error {
	s.log.Info("waiting for manifest...")
	data, err := s.link.Recv(protocol.TagManifest).Wait(s.cfg.RecvTimeout)
	if err != nil {
		return &TransferError{Op: "manifest receive", Err: err}
	}

	s.log.Infof("manifest (%d bytes): %s", len(data), data)
	manifest, mode, err := protocol.ParseManifest(data)
	if err != nil {
		return &ProtocolError{Err: err}
	}

	// Pre-flight: every destination must be clear before any content is
	// accepted, including items whose own transfer would come later.
	for _, item := range manifest.Items {
		dest, err := destinationPath(item.Path)
		if err != nil {
			return err
		}
		if _, statErr := os.Lstat(dest); statErr == nil {
			return &PathConflictError{Path: dest}
		}
	}

	total := manifest.TotalSize()
	s.log.Infof("receiving %d items, %s total", len(manifest.Items), humanize.IBytes(uint64(total)))

	bar := s.newBar(total, "receiving")
	for _, item := range manifest.Items {
		if err := s.receiveItem(item, mode, bar); err != nil {
			return err
		}
		s.items++
		s.bytes += item.Size
	}
	_ = bar.Finish()

	s.log.Info("all items received")
	return nil
}

func (s *Session) receiveItem(item protocol.Item, mode protocol.Mode, bar *progressbar.ProgressBar) error {
	dest, err := destinationPath(item.Path)
	if err != nil {
		return err
	}

	// Race guard: the path was clear at pre-flight but might exist now.
	if _, statErr := os.Lstat(dest); statErr == nil {
		return &PathConflictError{Path: dest}
	}

	if item.Dir && mode == protocol.ModeArchive {
		return s.receiveArchive(item, dest, bar)
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", parent, err)
	}

	// Content lands in a temp file next to the destination so the final
	// rename is atomic; nothing is ever visible at dest before the item is
	// complete and verified.
	tmp, err := os.CreateTemp(parent, ".beam-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	hasher := sha256.New()

	if mode == protocol.ModeChunked {
		for idx := 0; idx < item.NumChunks; idx++ {
			payload, err := s.link.Recv(protocol.TagContent).Wait(s.cfg.RecvTimeout)
			if err != nil {
				return &TransferError{
					Op:  fmt.Sprintf("receive of chunk %d/%d of %s", idx+1, item.NumChunks, item.Path),
					Err: err,
				}
			}
			raw, err := protocol.Decompress(payload)
			if err != nil {
				return &TransferError{Op: "chunk decompression", Err: err}
			}
			if _, err := tmp.Write(raw); err != nil {
				return fmt.Errorf("writing temp file: %w", err)
			}
			hasher.Write(raw)
			_ = bar.Add(len(raw))
			s.log.Debugf("received chunk %d/%d of %s (%d bytes)", idx+1, item.NumChunks, item.Path, len(raw))
		}
	} else {
		payload, err := s.link.Recv(protocol.TagContent).Wait(s.cfg.RecvTimeout)
		if err != nil {
			return &TransferError{Op: "receive of " + item.Path, Err: err}
		}
		raw, err := protocol.Decompress(payload)
		if err != nil {
			return &TransferError{Op: "decompression of " + item.Path, Err: err}
		}
		if _, err := tmp.Write(raw); err != nil {
			return fmt.Errorf("writing temp file: %w", err)
		}
		hasher.Write(raw)
		_ = bar.Add(len(payload))
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if digest != item.SHA256 {
		return &IntegrityError{Path: dest, Expected: item.SHA256, Received: digest}
	}

	// A conflicting path appearing this late still must not be overwritten.
	if _, statErr := os.Lstat(dest); statErr == nil {
		return &PathConflictError{Path: dest}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("committing %s: %w", dest, err)
	}
	committed = true

	s.log.Debugf("committed %s", dest)
	return nil
}

// receiveArchive unpacks a directory blob. Archive items declare no content
// hash, so there is no verification step for them.
func (s *Session) receiveArchive(item protocol.Item, dest string, bar *progressbar.ProgressBar) error {
	payload, err := s.link.Recv(protocol.TagContent).Wait(s.cfg.RecvTimeout)
	if err != nil {
		return &TransferError{Op: "receive of " + item.Path, Err: err}
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", parent, err)
	}

	stage, err := os.MkdirTemp(parent, ".beam-*")
	if err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := s.unpackArchive(payload, item.Path, stage); err != nil {
		return err
	}

	if _, statErr := os.Lstat(dest); statErr == nil {
		return &PathConflictError{Path: dest}
	}
	if err := os.Rename(filepath.Join(stage, item.Path), dest); err != nil {
		return fmt.Errorf("committing %s: %w", dest, err)
	}

	_ = bar.Add(len(payload))
	s.log.Debugf("committed directory %s", dest)
	return nil
}

func (s *Session) unpackArchive(payload []byte, root, stage string) error {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return &TransferError{Op: "decompression of " + root, Err: err}
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &TransferError{Op: "unpacking " + root, Err: err}
		}

		name := filepath.FromSlash(hdr.Name)
		if _, pathErr := destinationPath(hdr.Name); pathErr != nil {
			return pathErr
		}
		if name != root && !strings.HasPrefix(name, root+string(filepath.Separator)) {
			return &ProtocolError{Err: fmt.Errorf("archive entry %q escapes %q", hdr.Name, root)}
		}

		target := filepath.Join(stage, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
		}
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			_ = f.Close()
			return fmt.Errorf("writing %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", target, err)
		}
	}
}

// destinationPath converts a wire path to a local relative path, rejecting
// anything that could land outside the working directory.
func destinationPath(wirePath string) (string, error) {
	if wirePath == "" {
		return "", &ProtocolError{Err: fmt.Errorf("empty destination path")}
	}
	dest := filepath.FromSlash(wirePath)
	if filepath.IsAbs(dest) {
		return "", &ProtocolError{Err: fmt.Errorf("absolute destination path %q", wirePath)}
	}
	for _, part := range strings.Split(filepath.ToSlash(dest), "/") {
		if part == ".." {
			return "", &ProtocolError{Err: fmt.Errorf("destination path %q escapes the working directory", wirePath)}
		}
	}
	return dest, nil
}
