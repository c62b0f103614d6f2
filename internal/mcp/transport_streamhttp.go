package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const mcpProtocolVersion = "2024-11-05"

// StreamableHTTPTransport implements C2: the MCP "streamable HTTP" transport.
// Every request is a POST to the single endpoint URL; the server replies
// either with a single application/json response body, or with a
// text/event-stream body carrying one or more SSE frames, the one matching
// the request's id being the reply and the rest being notifications. A
// server-assigned mcp-session-id header, once seen, is echoed on every
// subsequent request.
type StreamableHTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client
	logs   *ringLog

	sessionID atomic.Value // string
	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest

	connState
	stopChan   chan struct{}
	wg         sync.WaitGroup
	authSecret string
}

// NewStreamableHTTPTransport creates a new streamable-HTTP transport.
func NewStreamableHTTPTransport(cfg *ServerConfig) *StreamableHTTPTransport {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	t := &StreamableHTTPTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "streamable-http"),
		client:   &http.Client{Timeout: timeout},
		logs:     newRingLog(),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
	t.sessionID.Store("")
	return t
}

// Connect marks the transport ready. There is no persistent connection to
// establish; the session id is learned lazily from the first response.
func (t *StreamableHTTPTransport) Connect(ctx context.Context) error {
	t.setStatus(StatusConnecting)
	if t.config.URL == "" {
		err := fmt.Errorf("URL is required for streamable HTTP transport")
		t.setError(err)
		return err
	}
	t.setStatus(StatusConnected)
	t.logs.Append(fmt.Sprintf("ready: %s", t.config.URL))
	t.logger.Info("streamable HTTP transport ready", "url", t.config.URL)
	return nil
}

// Close tears the transport down. No background connection to stop, but
// Close is idempotent and safe to call multiple times.
func (t *StreamableHTTPTransport) Close() error {
	t.setStatus(StatusStopped)
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
	t.wg.Wait()
	return nil
}

func (t *StreamableHTTPTransport) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("MCP-Protocol-Version", mcpProtocolVersion)
	if sid, _ := t.sessionID.Load().(string); sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if t.config.AuthKind == AuthBearer && t.authSecret != "" {
		req.Header.Set("Authorization", "Bearer "+t.authSecret)
	}
	return req, nil
}

func (t *StreamableHTTPTransport) captureSessionID(resp *http.Response) {
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.sessionID.Store(sid)
	}
}

// Call sends a request and resolves the response from either a bare JSON
// body or an event-stream body, matching the reply frame by id.
func (t *StreamableHTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.Connected() {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.New().String()
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, _ := json.Marshal(req)
	httpReq, err := t.newHTTPRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	t.captureSessionID(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		return t.readSSEResponse(ctx, resp.Body, id)
	default:
		var rpcResp JSONRPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if rpcResp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}
		return rpcResp.Result, nil
	}
}

// readSSEResponse scans an event-stream body for the frame whose id matches
// the outstanding request, routing any other frames on the same stream to
// the notification/request channels as they are seen.
func (t *StreamableHTTPTransport) readSSEResponse(ctx context.Context, body io.Reader, wantID string) (json.RawMessage, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data), &resp); err == nil && resp.ID != nil {
			if fmt.Sprint(resp.ID) == wantID {
				if resp.Error != nil {
					return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
				}
				return resp.Result, nil
			}
			// a reply to a different request multiplexed on this stream;
			// not expected in the synchronous Call path, log and skip.
			t.logs.Append(fmt.Sprintf("ignored unrelated response id=%v on call stream", resp.ID))
			continue
		}

		var notif JSONRPCNotification
		if err := json.Unmarshal([]byte(data), &notif); err == nil && notif.Method != "" {
			select {
			case t.events <- &notif:
			default:
				t.logs.Append("notification channel full, dropping")
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("event-stream read: %w", err)
	}
	return nil, fmt.Errorf("event stream closed without a matching response for id %s", wantID)
}

// Notify sends a fire-and-forget message; the server should answer 202 with
// no body.
func (t *StreamableHTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.Connected() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	body, _ := json.Marshal(notif)
	httpReq, err := t.newHTTPRequest(ctx, body)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	t.captureSessionID(resp)
	resp.Body.Close()
	return nil
}

// Events returns the notification channel.
func (t *StreamableHTTPTransport) Events() <-chan *JSONRPCNotification { return t.events }

// Requests returns the server-initiated request channel.
func (t *StreamableHTTPTransport) Requests() <-chan *JSONRPCRequest { return t.requests }

// Respond answers a server-initiated request with a POST carrying the
// JSON-RPC response envelope.
func (t *StreamableHTTPTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.Connected() {
		return fmt.Errorf("not connected")
	}
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	if rpcErr == nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resp.Result = data
	}
	body, _ := json.Marshal(resp)

	httpReq, err := t.newHTTPRequest(ctx, body)
	if err != nil {
		return err
	}
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	t.captureSessionID(httpResp)
	httpResp.Body.Close()
	return nil
}

// Logs returns the most recent log lines.
func (t *StreamableHTTPTransport) Logs(maxLines int) []LogLine { return t.logs.Tail(maxLines) }

// SetAuthSecret installs the bearer token used when the config's AuthKind is
// AuthBearer. The manager resolves the named secret via a SecretStore
// collaborator before Connect and injects it here; the transport itself
// never reads secrets off disk.
func (t *StreamableHTTPTransport) SetAuthSecret(secret string) { t.authSecret = secret }
