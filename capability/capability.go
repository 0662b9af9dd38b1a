// Package capability implements the one-shot capability handshake gate
// (spec §4.F): a per-connection HMAC proof the peer must present during
// session open to be accepted.
//
// Wire format (spec §6): one flags byte, followed by a fixed 32-byte
// proof when flags&1 == 1. Absence of the proof is a verification
// failure.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/holepunchto/protomux-rpc-router/transport"
)

const (
	flagHasProof byte = 1
	proofSize         = sha256.Size // 32 bytes
)

// Gate holds the configured namespace/capability and computes or
// verifies proofs against it.
type Gate struct {
	namespace  string
	capability string
}

// New creates a Gate. If the router has no capability configured, no
// Gate is created at all and every peer is accepted — see router.New.
func New(namespace, capability string) *Gate {
	return &Gate{namespace: namespace, capability: capability}
}

// proof computes the HMAC-SHA256 over the namespace and the ordered
// pair (senderPK, receiverPK), keyed by the configured capability.
// Sender and receiver are always identity keys, never "local"/"remote"
// directly, so that the same computation produces the same bytes on
// both ends of a connection: the side that sends a handshake hashes
// (its own key, the peer's key), and the side verifying an incoming
// handshake must hash (the peer's key, its own key) to land on the
// same pair in the same order.
func (g *Gate) proof(senderPK, receiverPK [32]byte) [proofSize]byte {
	mac := hmac.New(sha256.New, []byte(g.capability))
	mac.Write([]byte(g.namespace))
	mac.Write(senderPK[:])
	mac.Write(receiverPK[:])

	var out [proofSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// Handshake builds the bytes this side sends on connection open: a
// proof keyed on (this side's own identity, the peer's identity).
func (g *Gate) Handshake(conn transport.Connection) []byte {
	proof := g.proof(conn.LocalPublicKey(), conn.RemotePublicKey())
	out := make([]byte, 1+proofSize)
	out[0] = flagHasProof
	copy(out[1:], proof[:])
	return out
}

// Verify checks the peer's incoming handshake bytes against the proof
// this Gate expects: the peer would have computed it as (their local
// key, their remote key), which from this side is (conn's remote key,
// conn's local key). A missing or malformed proof fails closed.
func (g *Gate) Verify(conn transport.Connection, handshake []byte) bool {
	if len(handshake) < 1+proofSize {
		return false
	}
	if handshake[0]&flagHasProof == 0 {
		return false
	}
	want := g.proof(conn.RemotePublicKey(), conn.LocalPublicKey())
	return hmac.Equal(handshake[1:1+proofSize], want[:])
}
