// Package rpcerr defines the structured error taxonomy shared by every
// layer of the router: a machine-readable code, a human message, an
// optional wrapped cause, and an optional request id attached once the
// error reaches the router's outermost catch.
//
// Aggregation (Combine) is used solely on the close path, where every
// middleware's teardown must run regardless of earlier failures.
package rpcerr

import (
	"errors"
	"strings"
)

// Code identifies a specific failure mode. Codes are stable strings so
// callers on the other side of the transport can branch on them without
// depending on Go error types.
type Code string

const (
	CodeRouterNotReady           Code = "ROUTER_NOT_READY"
	CodeRouterClosed             Code = "ROUTER_CLOSED"
	CodeRateLimitExceeded        Code = "RATE_LIMIT_EXCEEDED"
	CodeRateLimitDestroyed       Code = "RATE_LIMIT_MIDDLEWARE_DESTROYED"
	CodeConcurrentLimitExceeded  Code = "CONCURRENT_LIMIT_EXCEEDED"
	CodeConcurrentLimitDestroyed Code = "CONCURRENT_LIMIT_MIDDLEWARE_DESTROYED"
	CodeDecodeError              Code = "DECODE_ERROR"
	CodeEncodeError              Code = "ENCODE_ERROR"
	CodeCapabilityInvalid        Code = "CAPABILITY_INVALID"
)

// Error is the concrete type behind every code above.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context string // requestId, stamped by the router's outermost catch
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes Cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error carrying the original failure as Cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithContext stamps the request id onto err if it is (or wraps) an
// *Error, and returns err unchanged otherwise. It never replaces an
// already-stamped context.
func WithContext(err error, requestID string) error {
	var target *Error
	if errors.As(err, &target) && target.Context == "" {
		target.Context = requestID
	}
	return err
}

// Is compares by Code so callers can do errors.Is(err, rpcerr.New(CodeDecodeError, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Aggregate wraps multiple errors encountered on a cleanup path where
// every step must still run. Order is preserved.
type Aggregate struct {
	Errors []error
}

func (a *Aggregate) Error() string {
	msgs := make([]string, len(a.Errors))
	for i, err := range a.Errors {
		msgs[i] = err.Error()
	}
	return "multiple errors: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual errors to errors.Is / errors.As (Go
// 1.20+ multi-error unwrapping).
func (a *Aggregate) Unwrap() []error {
	return a.Errors
}

// Combine flattens nested aggregates, drops nil errors, and preserves
// order. It returns nil for an empty result, the single error unwrapped
// when exactly one remains, and an *Aggregate otherwise.
func Combine(errs ...error) error {
	var flat []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if agg, ok := err.(*Aggregate); ok {
			flat = append(flat, agg.Errors...)
			continue
		}
		flat = append(flat, err)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return &Aggregate{Errors: flat}
	}
}
