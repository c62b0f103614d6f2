package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/senjoyee/mcpcore/internal/mcp"
)

// ToolCaller is the subset of *mcp.Manager the sandbox bridge depends on:
// name-based tool dispatch, identical to the direct-mode dispatch path so
// sandbox tool calls are subject to the same policies and logging.
type ToolCaller interface {
	CallToolByName(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error)
}

// bridgeRequest is the wire shape POSTed by the generated bridge.js module.
type bridgeRequest struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

type bridgeResponse struct {
	Result *mcp.ToolCallResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// bridge is an ephemeral loopback-only HTTP server routing a code-mode
// sandbox's tool calls back through the MCP manager.
type bridge struct {
	listener net.Listener
	server   *http.Server
}

// startBridge binds a loopback TCP port and starts serving /call-tool
// requests, routed through caller. The caller is responsible for calling
// Close once the sandbox execution finishes.
func startBridge(caller ToolCaller) (*bridge, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sandbox: bind loopback bridge: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/call-tool", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req bridgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBridgeError(w, "decode request: "+err.Error())
			return
		}
		result, err := caller.CallToolByName(r.Context(), req.Tool, req.Args)
		if err != nil {
			writeBridgeError(w, err.Error())
			return
		}
		writeJSON(w, bridgeResponse{Result: result})
	})

	b := &bridge{
		listener: listener,
		server:   &http.Server{Handler: mux},
	}
	go b.server.Serve(listener) //nolint:errcheck // Close triggers the expected http.ErrServerClosed
	return b, nil
}

// Port reports the loopback port the bridge is bound to.
func (b *bridge) Port() int {
	return b.listener.Addr().(*net.TCPAddr).Port
}

// Close tears down the bridge's HTTP server and listener.
func (b *bridge) Close(ctx context.Context) error {
	return b.server.Shutdown(ctx)
}

func writeBridgeError(w http.ResponseWriter, message string) {
	writeJSON(w, bridgeResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
