package session

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"beam/internal/protocol"
	"beam/internal/transport"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newSessionPair wires a sender and a receiver session over an in-memory
// link pair. The sender link is returned for tests that tamper with traffic.
func newSessionPair(t *testing.T, mode protocol.Mode, chunkSize int64) (*Session, *Session, *transport.MemoryLink) {
	t.Helper()
	a, b := transport.NewMemoryPair("aaaa", "bbbb")

	sender := New(Config{
		Link:        a,
		Logger:      testLogger(),
		Mode:        mode,
		ChunkSize:   chunkSize,
		SendTimeout: 5 * time.Second,
		RecvTimeout: 5 * time.Second,
		Progress:    io.Discard,
	})
	receiver := New(Config{
		Link:        b,
		Logger:      testLogger(),
		SendTimeout: 5 * time.Second,
		RecvTimeout: 5 * time.Second,
		Progress:    io.Discard,
	})
	t.Cleanup(func() {
		_ = sender.Close()
		_ = receiver.Close()
	})

	if err := sender.Establish(b.NodeID(), time.Second); err != nil {
		t.Fatalf("sender Establish failed: %v", err)
	}
	if err := receiver.Establish(a.NodeID(), time.Second); err != nil {
		t.Fatalf("receiver Establish failed: %v", err)
	}
	return sender, receiver, a
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	rnd := rand.New(rand.NewSource(42))
	if _, err := rnd.Read(data); err != nil {
		t.Fatalf("failed to generate test data: %v", err)
	}
	return data
}

func runTransfer(t *testing.T, sender, receiver *Session, args []string) (sendErr, recvErr error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sender.Send(args) }()
	recvErr = receiver.Receive()
	select {
	case sendErr = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("sender did not finish")
	}
	return sendErr, recvErr
}

func assertFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("%s differs from the source (%d vs %d bytes)", path, len(got), len(want))
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	tree := filepath.Join(srcDir, "payload")
	big := randomBytes(t, 3000)
	writeFile(t, filepath.Join(tree, "a.txt"), []byte("hello beam\n"))
	writeFile(t, filepath.Join(tree, "sub", "b.bin"), big)
	writeFile(t, filepath.Join(tree, "empty"), nil)

	restoreDir(t, t.TempDir())
	sender, receiver, _ := newSessionPair(t, protocol.ModeChunked, 1024)

	sendErr, recvErr := runTransfer(t, sender, receiver, []string{tree})
	if sendErr != nil {
		t.Fatalf("Send failed: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Receive failed: %v", recvErr)
	}

	assertFile(t, filepath.Join("payload", "a.txt"), []byte("hello beam\n"))
	assertFile(t, filepath.Join("payload", "sub", "b.bin"), big)
	assertFile(t, filepath.Join("payload", "empty"), nil)
}

func TestWholeRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	data := randomBytes(t, 4096)
	writeFile(t, filepath.Join(srcDir, "one.bin"), data)
	writeFile(t, filepath.Join(srcDir, "two.txt"), []byte("second item"))

	restoreDir(t, t.TempDir())
	sender, receiver, _ := newSessionPair(t, protocol.ModeWhole, 0)

	sendErr, recvErr := runTransfer(t, sender, receiver, []string{
		filepath.Join(srcDir, "one.bin"),
		filepath.Join(srcDir, "two.txt"),
	})
	if sendErr != nil {
		t.Fatalf("Send failed: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Receive failed: %v", recvErr)
	}

	assertFile(t, "one.bin", data)
	assertFile(t, "two.txt", []byte("second item"))
}

func TestArchiveRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	tree := filepath.Join(srcDir, "bundle")
	data := randomBytes(t, 2048)
	writeFile(t, filepath.Join(tree, "a.txt"), []byte("aaa"))
	writeFile(t, filepath.Join(tree, "nested", "deep", "b.bin"), data)

	restoreDir(t, t.TempDir())
	sender, receiver, _ := newSessionPair(t, protocol.ModeArchive, 0)

	sendErr, recvErr := runTransfer(t, sender, receiver, []string{tree})
	if sendErr != nil {
		t.Fatalf("Send failed: %v", sendErr)
	}
	if recvErr != nil {
		t.Fatalf("Receive failed: %v", recvErr)
	}

	assertFile(t, filepath.Join("bundle", "a.txt"), []byte("aaa"))
	assertFile(t, filepath.Join("bundle", "nested", "deep", "b.bin"), data)
}

func TestCorruptedChunkFailsIntegrity(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "data.bin"), randomBytes(t, 3000))

	restoreDir(t, t.TempDir())
	sender, receiver, link := newSessionPair(t, protocol.ModeChunked, 1024)

	// Flip one content byte in the first non-empty chunk. The corruption is
	// applied under the compression so the chunk still decompresses cleanly.
	corrupted := false
	link.Transform = func(tag uint8, payload []byte) []byte {
		if corrupted || tag != protocol.TagContent {
			return payload
		}
		raw, err := protocol.Decompress(payload)
		if err != nil || len(raw) == 0 {
			return payload
		}
		raw[0] ^= 0x01
		out, err := protocol.Compress(raw)
		if err != nil {
			return payload
		}
		corrupted = true
		return out
	}

	_, recvErr := runTransfer(t, sender, receiver, []string{filepath.Join(srcDir, "data.bin")})
	var intErr *IntegrityError
	if !errors.As(recvErr, &intErr) {
		t.Fatalf("expected IntegrityError, got %v", recvErr)
	}
	if intErr.Expected == intErr.Received {
		t.Error("expected and received digests should differ")
	}

	if _, err := os.Lstat("data.bin"); err == nil {
		t.Error("corrupted item must not appear at its destination")
	}
	leftovers, err := filepath.Glob(".beam-*")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestUnknownVersionRejected(t *testing.T) {
	restoreDir(t, t.TempDir())

	a, b := transport.NewMemoryPair("aaaa", "bbbb")
	defer a.Close()
	defer b.Close()

	receiver := New(Config{
		Link:        b,
		Logger:      testLogger(),
		RecvTimeout: 5 * time.Second,
		Progress:    io.Discard,
	})
	if err := receiver.Establish(a.NodeID(), time.Second); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}

	manifest := []byte(`{"version":"9.9.9","items":[{"path":"x","size":1,"sha256":"` +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" + `","num_chunks":1}]}`)
	if err := a.Send(protocol.TagManifest, manifest, 0).Wait(time.Second); err != nil {
		t.Fatalf("manifest send failed: %v", err)
	}

	err := receiver.Receive()
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestExistingDestinationRejected(t *testing.T) {
	srcDir := t.TempDir()
	writeFile(t, filepath.Join(srcDir, "data.txt"), []byte("incoming"))

	restoreDir(t, t.TempDir())
	writeFile(t, "data.txt", []byte("precious local state"))

	sender, receiver, _ := newSessionPair(t, protocol.ModeChunked, 1024)

	_, recvErr := runTransfer(t, sender, receiver, []string{filepath.Join(srcDir, "data.txt")})
	var conflictErr *PathConflictError
	if !errors.As(recvErr, &conflictErr) {
		t.Fatalf("expected PathConflictError, got %v", recvErr)
	}
	assertFile(t, "data.txt", []byte("precious local state"))
}

func TestMaliciousPathRejected(t *testing.T) {
	restoreDir(t, t.TempDir())

	a, b := transport.NewMemoryPair("aaaa", "bbbb")
	defer a.Close()
	defer b.Close()

	receiver := New(Config{
		Link:        b,
		Logger:      testLogger(),
		RecvTimeout: 5 * time.Second,
		Progress:    io.Discard,
	})
	if err := receiver.Establish(a.NodeID(), time.Second); err != nil {
		t.Fatalf("Establish failed: %v", err)
	}

	digest := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	for _, path := range []string{"../escape", "/etc/passwd", "a/../../b"} {
		manifest := []byte(`{"version":"2.1.1","items":[{"path":"` + path +
			`","size":1,"sha256":"` + digest + `","num_chunks":1}]}`)
		if err := a.Send(protocol.TagManifest, manifest, 0).Wait(time.Second); err != nil {
			t.Fatalf("manifest send failed: %v", err)
		}
		err := receiver.Receive()
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("path %q: expected ProtocolError, got %v", path, err)
		}
	}
}
