// Package orchestrator runs a single chat turn: it streams a
// chat-completions response from a model gateway, dispatches any tool
// calls the model requests back through the MCP manager (or, in code
// mode, the code sandbox), and repeats until the model produces a final
// answer or the turn's tool-call budget is exhausted.
package orchestrator

import (
	"context"

	"github.com/senjoyee/mcpcore/internal/mcp"
	"github.com/senjoyee/mcpcore/internal/streamgw"
)

// Gateway opens a streaming chat-completions request. *streamgw.Client
// implements this; tests substitute a fake that reads from a canned SSE
// body so the orchestrator's loop can be exercised without a live HTTP
// server.
type Gateway interface {
	Stream(ctx context.Context, req streamgw.CompletionRequest) (*streamgw.Parser, func() error, error)
}

// ToolCatalog is the subset of *mcp.Manager the orchestrator depends on:
// the aggregate tool list for building a gateway request, and
// name-based dispatch for executing a call the model requested.
type ToolCatalog interface {
	ToolSchemas() []mcp.ToolSchema
	CallToolByName(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// CodeSandbox executes user-supplied code in the code-mode sandbox (C8).
// Implemented by the sandbox package; the orchestrator only needs this
// one operation.
type CodeSandbox interface {
	ExecuteCode(ctx context.Context, code string) (string, error)
}

// maxToolCallsPerTurn is the default bound on tool-call iterations in a
// single turn, matching the documented budget.
const maxToolCallsPerTurn = 30

// maxResultTextBytes truncates a tool result before it is emitted as a
// TurnEvent for UI display; the full result still goes into the
// in-memory history fed back to the model.
const maxResultTextBytes = 2048

const (
	toolExecuteCode = "execute_code"
	toolSearchTools = "search_tools"
)
