// Package logging wires structured logging for the router via
// go.uber.org/zap; the built-in middleware does not log. The router
// never logs to a package-level global logger: it takes an explicit
// *zap.Logger, defaulting to a no-op logger so embedding this module
// never has a mandatory side effect on the host process's log output.
package logging

import "go.uber.org/zap"

// New returns a production zap logger, or a development logger (human
// readable, caller-annotated) when development is true.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Nop returns a logger that discards everything, used as the router's
// default when no logger is supplied.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Field names the router logs with, kept here so log consumers can
// grep for a stable vocabulary instead of each call site inventing its
// own key.
const (
	FieldMethod    = "method"
	FieldRequestID = "request_id"
	FieldCode      = "code"
	FieldKey       = "key"
)
