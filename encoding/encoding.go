// Package encoding implements the payload-encoding adapter middleware
// (spec §4.E): it decodes the inbound value before the rest of the
// chain runs and encodes the outbound result afterward, using whatever
// wire.Codec the caller supplies for each direction.
package encoding

import (
	"github.com/holepunchto/protomux-rpc-router/middleware"
	"github.com/holepunchto/protomux-rpc-router/rpcerr"
	"github.com/holepunchto/protomux-rpc-router/wire"
)

// Config selects the codecs for each direction. Either may be nil, in
// which case that direction passes its value through unchanged.
type Config struct {
	Request  wire.Codec
	Response wire.Codec
}

// New builds the encoding adapter middleware. It does not catch
// arbitrary handler errors — only failures from its own encode/decode
// calls are wrapped, per spec §4.E.
func New(cfg Config) *middleware.Middleware {
	return &middleware.Middleware{
		Name: "encoding",
		OnRequest: func(ctx *middleware.RequestContext, next middleware.NextFunc) (any, error) {
			if cfg.Request != nil {
				decoded, err := cfg.Request.Decode(ctx.Value)
				if err != nil {
					return nil, rpcerr.Wrap(rpcerr.CodeDecodeError, "encoding adapter failed to decode request", err)
				}
				ctx.Value = decoded
			}

			res, err := next()
			if err != nil {
				return nil, err
			}

			if cfg.Response != nil {
				encoded, err := cfg.Response.Encode(res)
				if err != nil {
					return nil, rpcerr.Wrap(rpcerr.CodeEncodeError, "encoding adapter failed to encode response", err)
				}
				return encoded, nil
			}
			return res, nil
		},
	}
}
