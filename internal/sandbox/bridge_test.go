package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/senjoyee/mcpcore/internal/mcp"
)

type fakeToolCaller struct {
	results map[string]*mcp.ToolCallResult
	errs    map[string]error
}

func (f *fakeToolCaller) CallToolByName(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error) {
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.results[name], nil
}

func postCallTool(t *testing.T, port int, tool string, args map[string]any) bridgeResponse {
	t.Helper()
	body, err := json.Marshal(bridgeRequest{Tool: tool, Args: args})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(fmt.Sprintf("http://127.0.0.1:%d/call-tool", port), "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestBridgeRoutesToolCall(t *testing.T) {
	caller := &fakeToolCaller{
		results: map[string]*mcp.ToolCallResult{
			"echo": {Content: []mcp.ToolResultContent{{Type: "text", Text: "foo"}}},
		},
	}
	b, err := startBridge(caller)
	if err != nil {
		t.Fatalf("startBridge error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	}()

	resp := postCallTool(t, b.Port(), "echo", map[string]any{"text": "foo"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Result == nil || len(resp.Result.Content) != 1 || resp.Result.Content[0].Text != "foo" {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
}

func TestBridgeSurfacesToolError(t *testing.T) {
	caller := &fakeToolCaller{
		errs: map[string]error{"boom": errors.New("kaboom")},
	}
	b, err := startBridge(caller)
	if err != nil {
		t.Fatalf("startBridge error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	}()

	resp := postCallTool(t, b.Port(), "boom", nil)
	if resp.Error != "kaboom" {
		t.Fatalf("expected error 'kaboom', got %q", resp.Error)
	}
}

func TestBridgeIsLoopbackOnly(t *testing.T) {
	b, err := startBridge(&fakeToolCaller{})
	if err != nil {
		t.Fatalf("startBridge error: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Close(ctx)
	}()

	addr := b.listener.Addr().String()
	if addr[:len("127.0.0.1")] != "127.0.0.1" {
		t.Errorf("expected loopback bind address, got %s", addr)
	}
}
