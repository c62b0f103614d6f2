package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Status is the lifecycle state of a server connection, matching the
// Connection data model's {Stopped, Connecting, Connected, Error} states.
type Status int

const (
	StatusStopped Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its lowercase name rather than its
// underlying int, so ServerStatus JSON stays stable across reordering.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the lowercase name produced by MarshalJSON back into
// a Status. An unrecognized name is not an error; it decodes to a status
// whose String() is "unknown", the same fallback MarshalJSON never produces
// but String() already handles.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case StatusStopped.String():
		*s = StatusStopped
	case StatusConnecting.String():
		*s = StatusConnecting
	case StatusConnected.String():
		*s = StatusConnected
	case StatusError.String():
		*s = StatusError
	default:
		*s = Status(-1)
	}
	return nil
}

// connState tracks a transport's connection lifecycle and last error, safe
// for concurrent use. Every concrete transport embeds it so Status,
// LastError, and Connected behave identically across stdio, streamable
// HTTP, and legacy SSE instead of each reimplementing the bookkeeping.
type connState struct {
	status  atomic.Int32
	mu      sync.Mutex
	lastErr error
}

func (c *connState) setStatus(s Status) {
	c.status.Store(int32(s))
}

// setError records err as the cause of a transition to StatusError.
func (c *connState) setError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.status.Store(int32(StatusError))
}

// Status reports the current lifecycle state.
func (c *connState) Status() Status {
	return Status(c.status.Load())
}

// LastError returns the error that produced a StatusError state, or nil if
// the transport has never errored (or has since reconnected).
func (c *connState) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connected reports whether the transport believes it is usable.
func (c *connState) Connected() bool {
	return c.Status() == StatusConnected
}

// Transport is the capability every concrete MCP wire transport implements.
// The Client layer holds the correlation map and is transport-agnostic;
// each transport only has to move bytes and demultiplex by presence of an
// id (response/request) versus absence (notification).
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close tears the transport down. Always reaps any child process or
	// background goroutine it started, even on an error path.
	Close() error

	// Call sends a request and blocks until its response arrives, the
	// context is cancelled, or the per-request timeout elapses.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a fire-and-forget message; no response is awaited.
	Notify(ctx context.Context, method string, params any) error

	// Events returns a channel of server-to-client notifications.
	Events() <-chan *JSONRPCNotification

	// Requests returns a channel of server-initiated requests (e.g.
	// sampling/createMessage) that expect a Respond call.
	Requests() <-chan *JSONRPCRequest

	// Respond answers a server-initiated request.
	Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error

	// Connected reports whether the transport believes it is usable.
	Connected() bool

	// Status reports the connection lifecycle state.
	Status() Status

	// LastError returns the error that produced a StatusError state, or
	// nil if the transport has never errored.
	LastError() error

	// Logs returns the transport's log ring buffer (≤1000 lines, oldest
	// dropped first), most recent maxLines entries, oldest first.
	Logs(maxLines int) []LogLine
}

// NewTransport builds the concrete transport for a server config's
// TransportKind. Stdio is the default for any unrecognized kind so an
// empty/zero-value ServerConfig still produces a usable (if immediately
// failing-to-connect) transport rather than a nil one.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportHTTP:
		return NewStreamableHTTPTransport(cfg)
	case TransportLegacySSE:
		return NewLegacySSETransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
