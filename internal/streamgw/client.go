package streamgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Message is one entry in a chat-completions request's message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolFunction is the OpenAI-compatible function-calling shape the turn
// orchestrator builds from an MCP tool catalog (see orchestrator's tool
// translation).
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolDefinition wraps a ToolFunction in the `{type, function}` envelope
// the wire protocol expects.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// CompletionRequest is the body of a chat-completions streaming request.
type CompletionRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream"`
}

// Client opens streaming chat-completions requests against a single
// model gateway endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// NewClient builds a Client for the given endpoint. tokens may be nil,
// in which case requests carry no Authorization header (suitable for
// gateways that front their own auth, e.g. a local proxy).
func NewClient(endpoint string, tokens oauth2.TokenSource) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		tokens:     tokens,
	}
}

// NewStaticTokenClient is a convenience constructor for the common case
// of a single bearer token resolved once from a SecretStore.
func NewStaticTokenClient(endpoint, bearerToken string) *Client {
	var ts oauth2.TokenSource
	if bearerToken != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearerToken})
	}
	return NewClient(endpoint, ts)
}

// Open starts a streaming chat-completions request and returns a Parser
// over its response body. The caller must close the returned io.Closer
// (the *http.Response.Body) once done consuming the Parser; Stream wraps
// this into a single call for the common case.
func (c *Client) Open(ctx context.Context, req CompletionRequest) (*http.Response, error) {
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("streamgw: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("streamgw: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("streamgw: resolve token: %w", err)
		}
		token.SetAuthHeader(httpReq)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("streamgw: open stream: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("streamgw: gateway returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// Stream opens the request and returns a Parser paired with a closer
// that must be called once the caller stops consuming chunks (on Done,
// error, or cancellation).
func (c *Client) Stream(ctx context.Context, req CompletionRequest) (*Parser, func() error, error) {
	resp, err := c.Open(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return NewParser(resp.Body), resp.Body.Close, nil
}
