package encoding

import (
	"errors"
	"testing"

	"github.com/holepunchto/protomux-rpc-router/middleware"
	"github.com/holepunchto/protomux-rpc-router/rpcerr"
	"github.com/holepunchto/protomux-rpc-router/wire"
)

func TestRoundTripIdentityOnRaw(t *testing.T) {
	mw := New(Config{Request: wire.Raw, Response: wire.Raw})
	ctx := &middleware.RequestContext{Value: []byte("foo")}

	result, err := mw.OnRequest(ctx, func() (any, error) { return ctx.Value, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.([]byte)) != "foo" {
		t.Fatalf("expected identity round trip, got %#v", result)
	}
}

func TestUTF8DecodeFailureWrapsDecodeError(t *testing.T) {
	mw := New(Config{Request: wire.UTF8})
	ctx := &middleware.RequestContext{Value: []byte{0xff, 0xfe}}

	_, err := mw.OnRequest(ctx, func() (any, error) { return nil, errors.New("should never run") })

	var rpcErr *rpcerr.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpcerr.CodeDecodeError {
		t.Fatalf("expected a DECODE_ERROR, got %v", err)
	}
}

func TestDoesNotCatchHandlerErrors(t *testing.T) {
	mw := New(Config{Request: wire.Raw, Response: wire.Raw})
	ctx := &middleware.RequestContext{Value: []byte("foo")}

	handlerErr := errors.New("handler failed")
	_, err := mw.OnRequest(ctx, func() (any, error) { return nil, handlerErr })

	if !errors.Is(err, handlerErr) {
		t.Fatalf("expected the handler's own error to propagate unwrapped, got %v", err)
	}
}

func TestEncodeFailureWrapsEncodeError(t *testing.T) {
	mw := New(Config{Response: wire.UTF8})
	ctx := &middleware.RequestContext{Value: []byte("foo")}

	// wire.UTF8.Encode requires a string; returning an int triggers the
	// adapter's own encode failure.
	_, err := mw.OnRequest(ctx, func() (any, error) { return 42, nil })

	var rpcErr *rpcerr.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != rpcerr.CodeEncodeError {
		t.Fatalf("expected an ENCODE_ERROR, got %v", err)
	}
}
