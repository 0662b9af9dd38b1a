// Package concurrency implements the per-key in-flight request gate
// (spec §4.D): at most `capacity` concurrent handler invocations are
// admitted for any one key at a time.
package concurrency

import (
	"encoding/base64"
	"sync"

	"github.com/holepunchto/protomux-rpc-router/middleware"
	"github.com/holepunchto/protomux-rpc-router/rpcerr"
)

// Engine is the per-key active-count gate.
type Engine struct {
	mu        sync.Mutex
	capacity  int
	active    map[string]int
	maxKeys   int
	destroyed bool
}

// NewEngine creates an Engine with the given per-key capacity. maxKeys,
// when positive, caps the number of resident keys; 0 means unbounded.
func NewEngine(capacity int, maxKeys int) *Engine {
	return &Engine{
		capacity: capacity,
		active:   make(map[string]int),
		maxKeys:  maxKeys,
	}
}

// TryAcquire admits one more in-flight request for key if capacity
// allows, per spec §4.D's admission algorithm.
func (e *Engine) TryAcquire(key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return false, rpcerr.New(rpcerr.CodeConcurrentLimitDestroyed, "concurrency limiter has been destroyed")
	}

	active := e.active[key]
	if active >= e.capacity {
		return false, nil
	}
	if active == 0 && e.maxKeys > 0 && len(e.active) >= e.maxKeys {
		return false, nil
	}
	e.active[key] = active + 1
	return true, nil
}

// Release gives back one in-flight slot for key. Releasing a key with
// no recorded active requests is a no-op — it should never occur, but
// is defensive against a caller bug rather than a user-visible error.
func (e *Engine) Release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return
	}
	active, ok := e.active[key]
	if !ok {
		return
	}
	if active <= 1 {
		delete(e.active, key)
		return
	}
	e.active[key] = active - 1
}

// Destroy marks the engine destroyed and clears all tracked state. A
// second call fails with CONCURRENT_LIMIT_MIDDLEWARE_DESTROYED.
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.destroyed {
		return rpcerr.New(rpcerr.CodeConcurrentLimitDestroyed, "concurrency limiter has already been destroyed")
	}
	e.destroyed = true
	e.active = nil
	return nil
}

// ByRemoteAddress builds a concurrency-limiting middleware keyed on the
// peer's remote host string.
func ByRemoteAddress(capacity int) *middleware.Middleware {
	return newMiddleware(capacity, 0, func(ctx *middleware.RequestContext) string {
		return ctx.Connection.RemoteAddress()
	})
}

// ByRemotePublicKey builds a concurrency-limiting middleware keyed on a
// base64 encoding of the peer's 32-byte identity key.
func ByRemotePublicKey(capacity int) *middleware.Middleware {
	return newMiddleware(capacity, 0, keyByRemotePublicKey)
}

// ByRemoteAddressWithCeiling is ByRemoteAddress with an explicit
// resident-key ceiling.
func ByRemoteAddressWithCeiling(capacity int, maxKeys int) *middleware.Middleware {
	return newMiddleware(capacity, maxKeys, func(ctx *middleware.RequestContext) string {
		return ctx.Connection.RemoteAddress()
	})
}

// ByRemotePublicKeyWithCeiling is ByRemotePublicKey with an explicit
// resident-key ceiling.
func ByRemotePublicKeyWithCeiling(capacity int, maxKeys int) *middleware.Middleware {
	return newMiddleware(capacity, maxKeys, keyByRemotePublicKey)
}

func keyByRemotePublicKey(ctx *middleware.RequestContext) string {
	pk := ctx.Connection.RemotePublicKey()
	return base64.StdEncoding.EncodeToString(pk[:])
}

func newMiddleware(capacity int, maxKeys int, key func(ctx *middleware.RequestContext) string) *middleware.Middleware {
	engine := NewEngine(capacity, maxKeys)
	return &middleware.Middleware{
		Name:    "concurrent-limit",
		OnClose: engine.Destroy,
		OnRequest: func(ctx *middleware.RequestContext, next middleware.NextFunc) (any, error) {
			k := key(ctx)
			ok, err := engine.TryAcquire(k)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, rpcerr.New(rpcerr.CodeConcurrentLimitExceeded, "concurrency limit exceeded for key "+k)
			}
			defer engine.Release(k)
			return next()
		},
	}
}
