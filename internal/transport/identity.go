// Package transport provides a tag-multiplexed point-to-point message link.
// Endpoints derive deterministic identities from numeric seeds, rendezvous
// over mDNS, and exchange framed messages over a single QUIC stream.
package transport

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Identity is a deterministic link endpoint identity. The same seed always
// yields the same key pair, so two peers can compute each other's NodeID
// without any directory service.
type Identity struct {
	key ed25519.PrivateKey
}

// IdentityFromSeed derives an identity from a 64-bit seed. Pure: no resources
// are allocated, so previewing a peer's NodeID costs nothing.
func IdentityFromSeed(seed uint64) Identity {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seed)
	keySeed := sha256.Sum256(b[:])
	return Identity{key: ed25519.NewKeyFromSeed(keySeed[:])}
}

// NodeID is the public identifier of the identity, the hex form of its
// ed25519 public key.
func (id Identity) NodeID() string {
	return hex.EncodeToString(id.key.Public().(ed25519.PublicKey))
}
