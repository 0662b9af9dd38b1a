// Package transport declares the interfaces the router requires from the
// underlying multiplexed, length-delimited peer-to-peer transport.
//
// Everything in this package is a seam, not an implementation: framing,
// stream multiplexing, connection establishment, and DHT lookup are the
// transport's concern and are out of scope for this module (see spec §1).
// The router only ever calls through these interfaces.
package transport

// Connection is a single established peer connection.
type Connection interface {
	// RemoteAddress is the peer's remote host string, used as the rate
	// and concurrency limiter key in the byRemoteAddress variants.
	RemoteAddress() string

	// RemotePublicKey is the peer's 32-byte identity key, used as the
	// limiter key in the byRemotePublicKey variants and as one half of
	// the message material for the capability handshake proof.
	RemotePublicKey() [32]byte

	// LocalPublicKey is this side's own 32-byte identity key, the other
	// half of the capability handshake's message material. Without it
	// the handshake proof could only ever be keyed on the peer's
	// identity, which the peer computes the exact same way — the two
	// sides would never agree on a shared value.
	LocalPublicKey() [32]byte

	// Destroy tears the connection down, e.g. after a failed capability
	// handshake. err may be nil for a clean close.
	Destroy(err error)
}

// AttachOptions mirrors the options the real transport's
// attachResponder(connection, options) accepts (spec §6). Handshake is
// the bytes to send as this side's proof when HandshakeEncoding is true;
// it is nil when no capability gate is configured.
type AttachOptions struct {
	ID                []byte
	Handshake         []byte
	HandshakeEncoding bool
}

// Responder is the transport-level object that accepts method name ->
// handler bindings for one connection.
type Responder interface {
	// Respond binds handler to methodName for this connection's
	// lifetime. handler receives the raw inbound frame body and must
	// return the raw outbound frame body.
	Respond(methodName string, handler func(raw []byte) ([]byte, error))

	// OnOpen registers a callback fired exactly once, when the peer's
	// handshake frame arrives (or immediately with a nil handshake if
	// the transport was not configured for a handshake).
	OnOpen(func(handshake []byte))
}

// Transport is the external collaborator the router is built on top of.
type Transport interface {
	// AttachResponder binds all of the router's registered methods to
	// conn and returns the transport-level Responder handle.
	AttachResponder(conn Connection, opts AttachOptions) Responder
}
