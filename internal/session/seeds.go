package session

import (
	"crypto/sha256"
	"encoding/binary"

	"beam/internal/transport"
)

// DeriveSeeds turns the shared token into the two transport seeds. Each side
// keeps its own seed and previews the peer's identity from the other, so both
// processes rendezvous with no directory service. The token itself never
// touches the wire.
func DeriveSeeds(token string) (senderSeed, receiverSeed uint64) {
	senderSum := sha256.Sum256([]byte(token + "sender"))
	receiverSum := sha256.Sum256([]byte(token + "receiver"))
	return binary.BigEndian.Uint64(senderSum[:8]), binary.BigEndian.Uint64(receiverSum[:8])
}

// PeerID previews the public identifier a peer will have for a given seed.
func PeerID(seed uint64) string {
	return transport.IdentityFromSeed(seed).NodeID()
}
