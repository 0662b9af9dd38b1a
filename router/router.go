// Package router implements the router state machine and per-request
// dispatch pipeline (spec §4.G): method registration, lifecycle,
// connection attachment, and the decode -> middleware chain -> handler
// -> encode pipeline, with metrics and request identity.
//
// The pipeline mirrors the teacher repo's server.go almost exactly —
// build the middleware chain once, loop-accept connections, dispatch
// each inbound call through decode -> chain -> encode -> write — only
// the transport, codec, and dispatch-by-name are now external
// collaborators (transport.Transport, wire.Codec, a plain Go func)
// instead of a concrete TCP/JSON/reflection stack.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/holepunchto/protomux-rpc-router/capability"
	"github.com/holepunchto/protomux-rpc-router/logging"
	"github.com/holepunchto/protomux-rpc-router/metrics"
	"github.com/holepunchto/protomux-rpc-router/middleware"
	"github.com/holepunchto/protomux-rpc-router/rpcerr"
	"github.com/holepunchto/protomux-rpc-router/transport"
	"github.com/holepunchto/protomux-rpc-router/wire"
)

// State is one point in the router's lifecycle: new -> opening -> open
// -> closing -> closed (spec §3).
type State int

const (
	StateNew State = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler is the user-supplied business logic for one method. req is
// already decoded by the registration's request codec; the return
// value is encoded by its response codec.
type Handler func(ctx context.Context, req any, rc *middleware.RequestContext) (any, error)

// CapabilityErrorEvent is delivered to the router's capability-error
// observer when a peer fails the handshake (spec §4.F/§7).
type CapabilityErrorEvent struct {
	Connection transport.Connection
}

// Options configures a new Router.
type Options struct {
	// Namespace and Capability configure the capability handshake gate.
	// If Capability is empty, no gate is installed and every peer is
	// accepted (spec §4.F).
	Namespace  string
	Capability string

	// Logger receives structured diagnostics. Defaults to a no-op
	// logger so embedding the router has no logging side effect unless
	// the host opts in.
	Logger *zap.Logger
}

// MethodOptions configures one registered method.
type MethodOptions struct {
	RequestEncoding  wire.Codec
	ResponseEncoding wire.Codec
}

// MethodRegistration is owned by a Router and exposes its own Use for
// per-method middleware layering.
type MethodRegistration struct {
	name          string
	requestCodec  wire.Codec
	responseCodec wire.Codec
	handler       Handler
	middlewares   []*middleware.Middleware
}

// Use appends mw to this method's own middleware layer, innermost to
// the global chain (spec §4.G).
func (m *MethodRegistration) Use(mw *middleware.Middleware) *MethodRegistration {
	m.middlewares = append(m.middlewares, mw)
	return m
}

// Router is a process-local, singleton-per-endpoint method registry and
// dispatch pipeline (spec §3).
type Router struct {
	mu sync.Mutex

	state State

	global        []*middleware.Middleware
	globalChain   *middleware.Middleware
	registrations map[string]*MethodRegistration
	order         []string

	transport transport.Transport
	gate      *capability.Gate

	counters          *metrics.Counters
	onCapabilityError func(CapabilityErrorEvent)

	logger *zap.Logger
}

// New creates a Router bound to t. No network or goroutine activity
// happens until Open is called.
func New(t transport.Transport, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	r := &Router{
		state:         StateNew,
		registrations: make(map[string]*MethodRegistration),
		transport:     t,
		counters:      metrics.NewCounters(),
		logger:        logger,
	}
	if opts.Capability != "" {
		r.gate = capability.New(opts.Namespace, opts.Capability)
	}
	return r
}

// Use appends mw to the router's global middleware chain. Only legal
// in state new (see SPEC_FULL.md §9's resolution of the "use() after
// open()" open question).
func (r *Router) Use(mw *middleware.Middleware) (*Router, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateNew {
		return r, rpcerr.New(rpcerr.CodeRouterNotReady, "middleware may only be registered before open")
	}
	r.global = append(r.global, mw)
	return r, nil
}

// Method registers a named handler. Only legal in state new.
func (r *Router) Method(name string, opts MethodOptions, handler Handler) (*MethodRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateNew {
		return nil, rpcerr.New(rpcerr.CodeRouterNotReady, "methods may only be registered before open")
	}
	if _, exists := r.registrations[name]; exists {
		return nil, fmt.Errorf("router: method %q already registered", name)
	}

	reqCodec := opts.RequestEncoding
	if reqCodec == nil {
		reqCodec = wire.Raw
	}
	resCodec := opts.ResponseEncoding
	if resCodec == nil {
		resCodec = wire.Raw
	}

	reg := &MethodRegistration{
		name:          name,
		requestCodec:  reqCodec,
		responseCodec: resCodec,
		handler:       handler,
	}
	r.registrations[name] = reg
	r.order = append(r.order, name)
	return reg, nil
}

// OnCapabilityError registers the observer invoked whenever a peer
// fails the capability handshake (spec §4.F/§7).
func (r *Router) OnCapabilityError(fn func(CapabilityErrorEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCapabilityError = fn
}

// Open runs the router's lifecycle transition new -> opening -> open,
// opening the global middleware chain and then each registration's own
// middleware, in registration order. A failure anywhere rolls back
// everything already opened and leaves the router closed, surfacing the
// original failure (spec §4.G, §8 invariant 3).
func (r *Router) Open() error {
	r.mu.Lock()
	if r.state != StateNew {
		r.mu.Unlock()
		return rpcerr.New(rpcerr.CodeRouterNotReady, "router has already been opened")
	}
	r.state = StateOpening
	global := r.global
	order := append([]string{}, r.order...)
	regs := r.registrations
	r.mu.Unlock()

	globalChain := middleware.Compose(global...)

	type opened struct {
		name  string
		chain *middleware.Middleware
	}
	var openedSoFar []opened

	rollback := func() {
		for i := len(openedSoFar) - 1; i >= 0; i-- {
			_ = openedSoFar[i].chain.OnClose()
		}
	}

	if err := globalChain.OnOpen(); err != nil {
		r.mu.Lock()
		r.state = StateClosed
		r.mu.Unlock()
		r.logger.Error("router: global middleware failed to open", zap.Error(err))
		return err
	}
	openedSoFar = append(openedSoFar, opened{name: "<global>", chain: globalChain})

	for _, name := range order {
		reg := regs[name]
		chain := middleware.Compose(reg.middlewares...)
		if err := chain.OnOpen(); err != nil {
			rollback()
			r.mu.Lock()
			r.state = StateClosed
			r.mu.Unlock()
			r.logger.Error("router: method middleware failed to open",
				zap.String(logging.FieldMethod, name), zap.Error(err))
			return err
		}
		openedSoFar = append(openedSoFar, opened{name: name, chain: chain})
	}

	r.mu.Lock()
	r.globalChain = globalChain
	r.state = StateOpen
	r.mu.Unlock()

	r.logger.Info("router: open", zap.Int("methods", len(order)))
	return nil
}

// Close runs closing -> closed: every registration's middleware closes
// in registration order, then the global chain, aggregating every
// error encountered along the way (spec §4.G, §8 invariant 4).
func (r *Router) Close() error {
	r.mu.Lock()
	if r.state != StateOpen {
		r.mu.Unlock()
		return rpcerr.New(rpcerr.CodeRouterClosed, "router is not open")
	}
	r.state = StateClosing
	order := append([]string{}, r.order...)
	regs := r.registrations
	globalChain := r.globalChain
	r.mu.Unlock()

	var errs []error
	for _, name := range order {
		reg := regs[name]
		chain := middleware.Compose(reg.middlewares...)
		if err := chain.OnClose(); err != nil {
			errs = append(errs, err)
		}
	}
	if globalChain != nil {
		if err := globalChain.OnClose(); err != nil {
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	r.state = StateClosed
	r.registrations = make(map[string]*MethodRegistration)
	r.order = nil
	r.mu.Unlock()

	result := rpcerr.Combine(errs...)
	if result != nil {
		r.logger.Warn("router: errors during close", zap.Error(result))
	} else {
		r.logger.Info("router: closed")
	}
	return result
}

// Attach binds every registered method to conn via the transport,
// computing the composed middleware chain for each method once, at
// attach time — a connection attached before a later Use/Method call
// (were that allowed) would never observe it (spec §4.G "Composition
// caching").
func (r *Router) Attach(conn transport.Connection, id []byte) (transport.Responder, error) {
	r.mu.Lock()
	state := r.state
	if state != StateOpen {
		r.mu.Unlock()
		if state == StateClosing || state == StateClosed {
			return nil, rpcerr.New(rpcerr.CodeRouterClosed, "router is closing or closed")
		}
		return nil, rpcerr.New(rpcerr.CodeRouterNotReady, "router is not open")
	}

	regsSnapshot := make(map[string]*MethodRegistration, len(r.registrations))
	for name, reg := range r.registrations {
		regsSnapshot[name] = reg
	}
	global := r.global
	gate := r.gate
	counters := r.counters
	onCapErr := r.onCapabilityError
	logger := r.logger
	r.mu.Unlock()

	if id == nil {
		pk := conn.RemotePublicKey()
		id = pk[:]
	}

	var handshakeBytes []byte
	if gate != nil {
		handshakeBytes = gate.Handshake(conn)
	}

	responder := r.transport.AttachResponder(conn, transport.AttachOptions{
		ID:                id,
		Handshake:         handshakeBytes,
		HandshakeEncoding: gate != nil,
	})

	if gate != nil {
		responder.OnOpen(func(handshake []byte) {
			if gate.Verify(conn, handshake) {
				return
			}
			logger.Warn("router: capability handshake failed",
				zap.String(logging.FieldKey, conn.RemoteAddress()),
				zap.String(logging.FieldCode, string(rpcerr.CodeCapabilityInvalid)))
			conn.Destroy(rpcerr.New(rpcerr.CodeCapabilityInvalid, "capability handshake failed"))
			if onCapErr != nil {
				onCapErr(CapabilityErrorEvent{Connection: conn})
			}
		})
	}

	for name, reg := range regsSnapshot {
		chain := middleware.Compose(append(append([]*middleware.Middleware{}, global...), reg.middlewares...)...)
		name, reg, chain := name, reg, chain
		responder.Respond(name, func(raw []byte) ([]byte, error) {
			return r.handleRequest(conn, name, reg, chain, raw, counters, logger)
		})
	}

	return responder, nil
}

func (r *Router) handleRequest(
	conn transport.Connection,
	name string,
	reg *MethodRegistration,
	chain *middleware.Middleware,
	raw []byte,
	counters *metrics.Counters,
	logger *zap.Logger,
) ([]byte, error) {
	counters.Requests.Inc()

	requestID := uuid.NewString()
	ctx := &middleware.RequestContext{
		Method:     name,
		Value:      raw,
		Connection: conn,
		RequestID:  requestID,
	}

	inner := func() (any, error) {
		decoded, err := reg.requestCodec.Decode(ctx.Value)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeDecodeError, "failed to decode request", err)
		}

		result, err := reg.handler(context.Background(), decoded, ctx)
		if err != nil {
			counters.HandlerErrors.Inc()
			return nil, err
		}

		encoded, err := reg.responseCodec.Encode(result)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeEncodeError, "failed to encode response", err)
		}
		return encoded, nil
	}

	result, err := chain.OnRequest(ctx, inner)
	if err != nil {
		counters.Errors.Inc()
		err = rpcerr.WithContext(err, requestID)
		logger.Warn("router: request failed",
			zap.String(logging.FieldMethod, name),
			zap.String(logging.FieldRequestID, requestID),
			zap.String(logging.FieldCode, codeOf(err)),
			zap.Error(err))
		return nil, err
	}

	encoded, ok := result.([]byte)
	if !ok {
		counters.Errors.Inc()
		return nil, rpcerr.WithContext(
			rpcerr.New(rpcerr.CodeEncodeError, fmt.Sprintf("method %q produced a non-byte response (%T); check its response encoding", name, result)),
			requestID,
		)
	}
	return encoded, nil
}

// RegisterMetrics registers the router's own three counters, then fans
// out to every participating middleware in registration order (global
// first, then each method), tolerating individual failures (spec
// §4.G/§4.B).
func (r *Router) RegisterMetrics(reg prometheus.Registerer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.counters.Register(reg); err != nil {
		return err
	}

	middleware.Compose(r.global...).RegisterMetrics(reg)
	for _, name := range r.order {
		middleware.Compose(r.registrations[name].middlewares...).RegisterMetrics(reg)
	}
	return nil
}

// State returns the router's current lifecycle state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// codeOf extracts the rpcerr.Code from err for logging, or "" if err
// isn't (and doesn't wrap) an *rpcerr.Error.
func codeOf(err error) string {
	var rpcErr *rpcerr.Error
	if errors.As(err, &rpcErr) {
		return string(rpcErr.Code)
	}
	return ""
}
