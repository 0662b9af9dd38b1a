// Package wire provides the small codec abstraction the router and the
// encoding adapter middleware use to move between wire bytes and the
// values handlers work with. The real serialization format (the
// external codec library referenced in spec §6) is out of scope; this
// package only defines the interface and a couple of reference codecs
// exercised by the router's own default behavior and tests.
package wire

import (
	"fmt"
	"unicode/utf8"
)

// Codec encodes a value to its wire representation and decodes it back.
// Encode/Decode deliberately operate on `any` rather than `[]byte`: a
// raw pass-through codec is the identity regardless of whether ctx.Value
// is still the original wire bytes or has already been replaced by an
// earlier encoding-adapter middleware (see encoding.New and the Design
// Notes on the dynamic context bag in SPEC_FULL.md).
type Codec interface {
	Encode(v any) (any, error)
	Decode(v any) (any, error)
}

type rawCodec struct{}

func (rawCodec) Encode(v any) (any, error) { return v, nil }
func (rawCodec) Decode(v any) (any, error) { return v, nil }

// Raw is the identity codec: inbound bytes reach the handler unchanged
// and the handler's return value is returned unchanged.
var Raw Codec = rawCodec{}

type utf8Codec struct{}

func (utf8Codec) Encode(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("wire: utf8 codec can only encode a string, got %T", v)
	}
	return []byte(s), nil
}

func (utf8Codec) Decode(v any) (any, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("wire: utf8 codec can only decode []byte, got %T", v)
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("wire: invalid utf-8")
	}
	return string(b), nil
}

// UTF8 decodes inbound bytes into a string (rejecting invalid UTF-8) and
// encodes an outbound string back into bytes.
var UTF8 Codec = utf8Codec{}

// Encode is a convenience wrapper matching spec §6's "encode(codec,
// value) -> bytes" helper.
func Encode(codec Codec, v any) (any, error) {
	return codec.Encode(v)
}

// Decode is a convenience wrapper matching spec §6's "decode(codec,
// bytes) -> value" helper.
func Decode(codec Codec, v any) (any, error) {
	return codec.Decode(v)
}
