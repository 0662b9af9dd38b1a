// Package middleware implements the onion-model middleware algebra
// shared by the router and its built-in limiter/encoding/capability
// middleware.
//
// Onion execution order, for a composed chain [g1, g2, m1, m2, handler]:
//
//	Request:   g1.pre -> g2.pre -> m1.pre -> m2.pre -> handler
//	Response:  handler -> m2.post -> m1.post -> g2.post -> g1.post
//
// Unlike the nested-closure fold of the reference implementation this
// is built as a flat slice walked by explicit index (see SPEC_FULL.md's
// Design Notes) rather than recursively-built closures, which keeps
// allocation and stack depth proportional to chain length rather than
// to call depth.
package middleware

import (
	"github.com/holepunchto/protomux-rpc-router/rpcerr"
	"github.com/holepunchto/protomux-rpc-router/transport"
	"github.com/prometheus/client_golang/prometheus"
)

// RequestContext is allocated fresh for every inbound call and lives
// for exactly one invocation. Method, Connection and RequestID are
// fixed; Value carries the raw inbound payload and may be replaced by
// earlier middleware (the encoding adapter, most notably) before later
// middleware or the handler see it.
//
// Additional fields middleware wants to attach go through Set/Get
// rather than a dynamic property bag (SPEC_FULL.md's "dynamic context
// bag" guidance) — this keeps the fixed fields statically typed while
// still letting middleware pass data to the handler.
type RequestContext struct {
	Method     string
	Value      any
	Connection transport.Connection
	RequestID  string

	values map[any]any
}

// Set attaches an additional key/value pair to the context, visible to
// every downstream middleware and the handler.
func (c *RequestContext) Set(key, value any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

// Get retrieves a value previously attached with Set.
func (c *RequestContext) Get(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// NextFunc continues to the next layer of the chain (or the innermost
// handler once the chain is exhausted).
type NextFunc func() (any, error)

// RequestFunc is the request-handling hook of a Middleware.
type RequestFunc func(ctx *RequestContext, next NextFunc) (any, error)

// Middleware is the triple (OnOpen, OnClose, OnRequest) from spec §3,
// plus an optional metrics registration hook. Any nil field behaves as
// the identity's no-op for that capability; callers never need to fill
// in all four themselves.
type Middleware struct {
	// Name is purely diagnostic (logging, panics); it has no effect on
	// composition semantics.
	Name string

	OnOpen          func() error
	OnClose         func() error
	OnRequest       RequestFunc
	RegisterMetrics func(reg prometheus.Registerer)
}

// Identity returns the two-sided unit of composition: onOpen and
// onClose are no-ops and onRequest delegates straight to next.
func Identity() *Middleware {
	return &Middleware{Name: "identity"}
}

// normalize fills any nil hook with the identity's behavior for that
// hook, so callers elsewhere never need a nil check.
func normalize(m *Middleware) *Middleware {
	if m == nil {
		return Identity()
	}
	n := *m
	if n.OnOpen == nil {
		n.OnOpen = func() error { return nil }
	}
	if n.OnClose == nil {
		n.OnClose = func() error { return nil }
	}
	if n.OnRequest == nil {
		n.OnRequest = func(ctx *RequestContext, next NextFunc) (any, error) { return next() }
	}
	return &n
}

// Compose folds a sequence of middleware into a single Middleware whose
// OnRequest implements the onion ordering described in the package doc,
// whose OnOpen is left-biased with rollback-on-failure, and whose
// OnClose is right-first and tolerates individual failures by
// aggregating them (see runOpen/runClose below).
func Compose(mws ...*Middleware) *Middleware {
	normalized := make([]*Middleware, len(mws))
	for i, m := range mws {
		normalized[i] = normalize(m)
	}

	return &Middleware{
		Name:    "composed",
		OnOpen:  func() error { return runOpen(normalized) },
		OnClose: func() error { return runClose(normalized) },
		OnRequest: func(ctx *RequestContext, next NextFunc) (any, error) {
			return runRequest(normalized, 0, ctx, next)
		},
		RegisterMetrics: func(reg prometheus.Registerer) { fanOutMetrics(normalized, reg) },
	}
}

func runRequest(mws []*Middleware, i int, ctx *RequestContext, next NextFunc) (any, error) {
	if i >= len(mws) {
		return next()
	}
	return mws[i].OnRequest(ctx, func() (any, error) {
		return runRequest(mws, i+1, ctx, next)
	})
}

// runOpen opens participants left to right. If the k-th participant
// fails, onClose is invoked for participants 1..k-1 in reverse order,
// their errors swallowed, and the original failure is returned.
func runOpen(mws []*Middleware) error {
	for i, m := range mws {
		if err := m.OnOpen(); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = mws[j].OnClose()
			}
			return err
		}
	}
	return nil
}

// runClose closes participants right to left. Every OnClose runs
// regardless of earlier failures; all errors are aggregated.
func runClose(mws []*Middleware) error {
	var errs []error
	for i := len(mws) - 1; i >= 0; i-- {
		if err := mws[i].OnClose(); err != nil {
			errs = append(errs, err)
		}
	}
	return rpcerr.Combine(errs...)
}

// fanOutMetrics calls RegisterMetrics on every participant in order,
// recovering from a panic in any one of them so the rest still run —
// the Go analogue of "a participant's failure must not prevent later
// participants from being called" (spec §4.B), since Go's metrics
// registration APIs don't have a uniform recoverable-error return.
func fanOutMetrics(mws []*Middleware, reg prometheus.Registerer) {
	for _, m := range mws {
		if m.RegisterMetrics == nil {
			continue
		}
		callRegisterMetrics(m, reg)
	}
}

func callRegisterMetrics(m *Middleware, reg prometheus.Registerer) {
	defer func() { _ = recover() }()
	m.RegisterMetrics(reg)
}
