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

// LegacySSETransport implements C3: the older two-endpoint MCP SSE
// transport. The client opens a long-lived GET stream to {url}/sse; the
// first event the server sends is an "endpoint" event whose data names the
// POST URL (and implicitly the session) to use for every subsequent
// request. Responses arrive asynchronously as further SSE frames on the
// same GET stream and are correlated back to outstanding calls by request
// id, the same way the stdio and streamable-HTTP transports do.
type LegacySSETransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client
	logs   *ringLog

	postURL      atomic.Value // string
	endpoint     chan struct{}
	endpointOnce sync.Once

	pending   map[string]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest

	connState
	stopChan   chan struct{}
	wg         sync.WaitGroup
	authSecret string
}

// NewLegacySSETransport creates a new legacy SSE transport.
func NewLegacySSETransport(cfg *ServerConfig) *LegacySSETransport {
	t := &LegacySSETransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "legacy-sse"),
		client:   &http.Client{},
		logs:     newRingLog(),
		endpoint: make(chan struct{}),
		pending:  make(map[string]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
	t.postURL.Store("")
	return t
}

// Connect opens the GET /sse stream and waits for the initial endpoint
// event before returning, so the first Call has somewhere to POST to.
func (t *LegacySSETransport) Connect(ctx context.Context) error {
	t.setStatus(StatusConnecting)
	if t.config.URL == "" {
		err := fmt.Errorf("URL is required for legacy SSE transport")
		t.setError(err)
		return err
	}

	t.wg.Add(1)
	go t.sseLoop(ctx)

	select {
	case <-t.endpoint:
	case <-ctx.Done():
		t.setError(ctx.Err())
		return ctx.Err()
	case <-time.After(15 * time.Second):
		err := fmt.Errorf("timed out waiting for SSE endpoint event")
		t.setError(err)
		return err
	}

	t.setStatus(StatusConnected)
	t.logs.Append(fmt.Sprintf("connected, post endpoint %s", t.postURL.Load()))
	t.logger.Info("legacy SSE transport ready", "url", t.config.URL, "post_url", t.postURL.Load())
	return nil
}

// Close tears the SSE stream down and fails any pending calls.
func (t *LegacySSETransport) Close() error {
	t.setStatus(StatusStopped)
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}

	t.pendingMu.Lock()
	for id, ch := range t.pending {
		select {
		case ch <- &JSONRPCResponse{Error: &JSONRPCError{Code: ErrCodeInternalError, Message: "transport closed"}}:
		default:
		}
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()

	t.wg.Wait()
	return nil
}

func (t *LegacySSETransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()

	sseURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		t.logs.Append(fmt.Sprintf("failed to build SSE request: %v", err))
		t.setError(fmt.Errorf("build SSE request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	if t.config.AuthKind == AuthBearer && t.authSecret != "" {
		req.Header.Set("Authorization", "Bearer "+t.authSecret)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logs.Append(fmt.Sprintf("SSE connect failed: %v", err))
		t.setError(fmt.Errorf("SSE connect: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.logs.Append(fmt.Sprintf("SSE returned %d: %s", resp.StatusCode, string(data)))
		t.setError(fmt.Errorf("SSE returned HTTP %d", resp.StatusCode))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var pendingEvent string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			t.setError(ctx.Err())
			return
		case <-t.stopChan:
			// Deliberate Close(); status is already StatusStopped.
			return
		default:
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			pendingEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			t.handleFrame(pendingEvent, data, sseURL)
			pendingEvent = ""
		case line == "":
			pendingEvent = ""
		}
	}

	select {
	case <-t.stopChan:
		// Deliberate Close(); status is already StatusStopped.
		return
	default:
	}

	if err := scanner.Err(); err != nil {
		t.logs.Append(fmt.Sprintf("SSE scanner error: %v", err))
		t.setError(fmt.Errorf("SSE stream read: %w", err))
		return
	}
	t.setError(fmt.Errorf("SSE stream closed by server"))
}

func (t *LegacySSETransport) handleFrame(event, data, sseURL string) {
	if event == "endpoint" {
		postURL := data
		if !strings.HasPrefix(postURL, "http://") && !strings.HasPrefix(postURL, "https://") {
			base := strings.TrimSuffix(t.config.URL, "/")
			if !strings.HasPrefix(postURL, "/") {
				postURL = "/" + postURL
			}
			postURL = base + postURL
		}
		t.postURL.Store(postURL)
		t.endpointOnce.Do(func() { close(t.endpoint) })
		return
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(data), &resp); err == nil && resp.ID != nil {
		key := fmt.Sprint(resp.ID)
		t.pendingMu.Lock()
		if ch, ok := t.pending[key]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, key)
		}
		t.pendingMu.Unlock()
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal([]byte(data), &req); err == nil && req.Method != "" && req.ID != nil {
		select {
		case t.requests <- &req:
		default:
			t.logs.Append("request channel full, dropping")
		}
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal([]byte(data), &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logs.Append("notification channel full, dropping")
		}
		return
	}

	t.logs.Append(data)
}

// Call POSTs a request to the learned endpoint URL and waits for its
// asynchronous reply to arrive on the SSE stream.
func (t *LegacySSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.Connected() {
		return nil, fmt.Errorf("not connected")
	}

	postURL, _ := t.postURL.Load().(string)
	if postURL == "" {
		return nil, fmt.Errorf("no endpoint URL learned yet")
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

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	body, _ := json.Marshal(req)
	if err := t.post(ctx, postURL, body); err != nil {
		return nil, err
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

func (t *LegacySSETransport) post(ctx context.Context, url string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if t.config.AuthKind == AuthBearer && t.authSecret != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.authSecret)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// Notify posts a fire-and-forget notification; no reply is awaited.
func (t *LegacySSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.Connected() {
		return fmt.Errorf("not connected")
	}
	postURL, _ := t.postURL.Load().(string)
	if postURL == "" {
		return fmt.Errorf("no endpoint URL learned yet")
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
	return t.post(ctx, postURL, body)
}

// Events returns the notification channel.
func (t *LegacySSETransport) Events() <-chan *JSONRPCNotification { return t.events }

// Requests returns the server-initiated request channel.
func (t *LegacySSETransport) Requests() <-chan *JSONRPCRequest { return t.requests }

// Respond posts a response to a server-initiated request.
func (t *LegacySSETransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	if !t.Connected() {
		return fmt.Errorf("not connected")
	}
	postURL, _ := t.postURL.Load().(string)
	if postURL == "" {
		return fmt.Errorf("no endpoint URL learned yet")
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
	return t.post(ctx, postURL, body)
}

// Logs returns the most recent log lines.
func (t *LegacySSETransport) Logs(maxLines int) []LogLine { return t.logs.Tail(maxLines) }

// SetAuthSecret installs the bearer token used when the config's AuthKind is
// AuthBearer.
func (t *LegacySSETransport) SetAuthSecret(secret string) { t.authSecret = secret }
