package session

import "fmt"

// Every error in a session is fatal: it propagates to the top-level driver,
// the link is released, temp artifacts are removed, and the process exits
// non-zero. There is no step-local recovery beyond the bounded connect retry.

// ConfigError reports a missing token or malformed flag value.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Msg }

// ConnectionError reports that the peer did not become ready in time.
type ConnectionError struct {
	Peer string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: peer %s not ready within the retry budget", e.Peer)
}

// ProtocolError reports an invalid or version-mismatched manifest.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// PathConflictError reports a destination path that already exists.
type PathConflictError struct {
	Path string
}

func (e *PathConflictError) Error() string {
	return fmt.Sprintf("path conflict: %s already exists", e.Path)
}

// TransferError reports a send/receive timeout or a decompression failure.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer error during %s: %v", e.Op, e.Err)
}
func (e *TransferError) Unwrap() error { return e.Err }

// IntegrityError reports a digest mismatch after full item reconstruction.
type IntegrityError struct {
	Path     string
	Expected string
	Received string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error for %s: expected %s, received %s", e.Path, e.Expected, e.Received)
}
