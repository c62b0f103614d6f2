package streamgw

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Parser pulls StreamChunk values out of a chat-completions SSE body. It
// is single-use: once Next returns io.EOF (wrapped into a Done chunk) or
// an error, the underlying reader is exhausted and the Parser is done.
type Parser struct {
	scanner *bufio.Scanner
	closed  bool

	// pendingCall buffers the tool call currently being assembled across
	// frames. Only one call is tracked at a time: the wire protocol this
	// parses streams a single tool call's argument fragments before its
	// finish_reason arrives.
	pendingCall  *pendingToolCall
	pendingUsage *Usage
}

type pendingToolCall struct {
	id   string
	name string
	args string
}

// NewParser wraps an HTTP response body (or any reader of an SSE stream)
// for line-by-line consumption. The caller remains responsible for
// closing the underlying body once the Parser reports Done or an error.
func NewParser(body io.Reader) *Parser {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Parser{scanner: scanner}
}

// Next returns the next StreamChunk, or an error if the underlying
// reader failed. After a ChunkDone value (or an error) Next must not be
// called again.
func (p *Parser) Next() (StreamChunk, error) {
	if p.closed {
		return StreamChunk{}, errors.New("streamgw: parser already closed")
	}

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			continue
		}
		if line[0] == ':' {
			// SSE comment line, e.g. a keep-alive ping.
			continue
		}
		if len(line) < 6 || line[:6] != "data: " {
			continue
		}

		payload := line[6:]
		if payload == doneSentinel {
			p.closed = true
			return StreamChunk{Kind: ChunkDone, Usage: p.pendingUsage}, nil
		}

		var frame wireFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return StreamChunk{}, fmt.Errorf("streamgw: decode frame: %w", err)
		}

		if chunk, ok := p.consumeFrame(&frame); ok {
			if chunk.Kind == ChunkDone {
				p.closed = true
			}
			return chunk, nil
		}
		// Frame carried only buffered tool-call deltas or usage with no
		// terminal condition yet; keep reading.
	}

	if err := p.scanner.Err(); err != nil {
		p.closed = true
		return StreamChunk{}, fmt.Errorf("streamgw: read stream: %w", err)
	}

	// Reader exhausted without a [DONE] sentinel or a finish_reason. Treat
	// as a clean end with whatever usage we captured, rather than an error:
	// some gateways simply close the connection after the final frame.
	p.closed = true
	return StreamChunk{Kind: ChunkDone, Usage: p.pendingUsage}, nil
}

// consumeFrame applies one decoded frame to parser state and reports
// whether it produced an emittable chunk this call.
func (p *Parser) consumeFrame(frame *wireFrame) (StreamChunk, bool) {
	if frame.Usage != nil {
		p.pendingUsage = frame.Usage.toUsage()
	}

	if len(frame.Choices) == 0 {
		// A trailing usage-only frame with no choices.
		return StreamChunk{}, false
	}

	choice := frame.Choices[0]
	delta := choice.Delta

	if delta.Content != "" {
		return StreamChunk{Kind: ChunkContent, Text: delta.Content}, true
	}
	if delta.Reasoning != "" {
		return StreamChunk{Kind: ChunkReasoning, ReasoningText: delta.Reasoning}, true
	}
	if len(delta.ToolCalls) > 0 {
		p.bufferToolCall(delta.ToolCalls[0])
	}

	switch choice.FinishReason {
	case "":
		return StreamChunk{}, false
	case "tool_calls":
		call := p.pendingCall
		p.pendingCall = nil
		if call == nil {
			// finish_reason=tool_calls with nothing buffered: nothing to
			// assemble, fall through to a Done instead of fabricating a call.
			return StreamChunk{Kind: ChunkDone, Usage: p.pendingUsage}, true
		}
		return StreamChunk{
			Kind:         ChunkToolCall,
			ToolCallID:   call.id,
			ToolCallName: call.name,
			ArgumentsRaw: call.args,
		}, true
	default:
		// "stop", "length", "content_filter", or any other terminal reason.
		return StreamChunk{Kind: ChunkDone, Usage: p.pendingUsage}, true
	}
}

func (p *Parser) bufferToolCall(delta wireToolCall) {
	if p.pendingCall == nil {
		p.pendingCall = &pendingToolCall{}
	}
	if delta.ID != "" {
		p.pendingCall.id = delta.ID
	}
	if delta.Function.Name != "" {
		p.pendingCall.name = delta.Function.Name
	}
	if delta.Function.Arguments != "" {
		p.pendingCall.args += delta.Function.Arguments
	}
}
