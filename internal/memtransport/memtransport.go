// Package memtransport is an in-memory implementation of the
// transport.* interfaces used only by this module's own tests. It is
// not a production transport: it performs no framing or multiplexing
// and exists purely as the concrete seam router tests attach to, since
// the real transport is explicitly out of scope for this module
// (spec §1).
package memtransport

import (
	"sync"

	"github.com/holepunchto/protomux-rpc-router/transport"
)

// Conn is a fake peer connection. PK is the peer's identity key, as
// seen from this side; Local is this side's own identity key. Most
// tests only care about PK and leave Local as the zero value; tests
// that exercise the capability handshake need a mirrored pair built
// with NewConnPair, where each side's Local is the other's PK.
type Conn struct {
	Addr  string
	PK    [32]byte
	Local [32]byte

	mu         sync.Mutex
	destroyed  bool
	destroyErr error
}

func NewConn(addr string, pk [32]byte) *Conn {
	return &Conn{Addr: addr, PK: pk}
}

// NewConnPair builds two mirrored Conn values representing the two
// ends of one logical link: a's remote is b's identity and a's local
// is a's own identity, and vice versa for b.
func NewConnPair(addrA string, pkA [32]byte, addrB string, pkB [32]byte) (a, b *Conn) {
	a = &Conn{Addr: addrA, PK: pkB, Local: pkA}
	b = &Conn{Addr: addrB, PK: pkA, Local: pkB}
	return a, b
}

func (c *Conn) RemoteAddress() string     { return c.Addr }
func (c *Conn) RemotePublicKey() [32]byte { return c.PK }
func (c *Conn) LocalPublicKey() [32]byte  { return c.Local }

func (c *Conn) Destroy(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.destroyErr = err
}

// Destroyed reports whether Destroy was called, and with what error.
func (c *Conn) Destroyed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed, c.destroyErr
}

// Responder is a fake transport-level responder for one connection.
type Responder struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte) ([]byte, error)
	openHooks []func(handshake []byte)
	opened    bool
	handshake []byte
}

func newResponder() *Responder {
	return &Responder{handlers: make(map[string]func([]byte) ([]byte, error))}
}

func (r *Responder) Respond(method string, handler func([]byte) ([]byte, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = handler
}

func (r *Responder) OnOpen(fn func(handshake []byte)) {
	r.mu.Lock()
	alreadyOpen := r.opened
	hs := r.handshake
	if !alreadyOpen {
		r.openHooks = append(r.openHooks, fn)
	}
	r.mu.Unlock()

	if alreadyOpen {
		fn(hs)
	}
}

// Open simulates the peer's handshake frame arriving. It is test-only:
// a real transport calls the registered OnOpen hooks itself.
func (r *Responder) Open(handshake []byte) {
	r.mu.Lock()
	r.opened = true
	r.handshake = handshake
	hooks := r.openHooks
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(handshake)
	}
}

// Call simulates an inbound RPC call for method, returning whatever the
// registered handler returns (or a "no such method" error).
func (r *Responder) Call(method string, raw []byte) ([]byte, error) {
	r.mu.Lock()
	handler, ok := r.handlers[method]
	r.mu.Unlock()
	if !ok {
		return nil, errNoSuchMethod(method)
	}
	return handler(raw)
}

// Transport is a fake transport.Transport that hands back a fresh
// Responder for every AttachResponder call and remembers each one so
// tests can drive them.
type Transport struct {
	mu         sync.Mutex
	responders map[*Conn]*Responder
}

func New() *Transport {
	return &Transport{responders: make(map[*Conn]*Responder)}
}

func (tr *Transport) AttachResponder(conn transport.Connection, opts transport.AttachOptions) transport.Responder {
	r := newResponder()
	if c, ok := conn.(*Conn); ok {
		tr.mu.Lock()
		tr.responders[c] = r
		tr.mu.Unlock()
	}
	return r
}

// ResponderFor returns the Responder previously handed out for conn, if
// any, so a test can drive Open/Call on it directly.
func (tr *Transport) ResponderFor(conn *Conn) *Responder {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.responders[conn]
}

type methodError string

func (e methodError) Error() string { return string(e) }

func errNoSuchMethod(method string) error {
	return methodError("memtransport: no handler registered for method " + method)
}
