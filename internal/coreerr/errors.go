// Package coreerr defines the structured error taxonomy shared across the
// orchestration core: every package that returns an error a caller needs
// to branch on wraps it in a *Error carrying one of the Kind values below,
// mirroring the surrounding codebase's ToolError/LoopError pattern.
package coreerr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for callers that branch on error type rather
// than message text.
type Kind string

const (
	ConfigInvalid Kind = "config_invalid"
	TransportErr  Kind = "transport_error"
	ProtocolErr   Kind = "protocol_error"
	TimeoutErr    Kind = "timeout"
	NotConnected  Kind = "not_connected"
	ToolNotFound  Kind = "tool_not_found"
	GatewayErr    Kind = "gateway_error"
	Cancelled     Kind = "cancelled"
)

// Error is the structured error type every package in this module wraps
// its failures in when a caller may need to branch on what went wrong.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "mcp.StartServer"
	Cause   error
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, looking through
// any wrapping via errors.As.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
