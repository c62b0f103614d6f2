package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	coreexec "github.com/senjoyee/mcpcore/internal/exec"
)

// StdioTransport implements C1: a child process speaking line-delimited
// JSON-RPC 2.0 over stdin/stdout, with stderr captured as log lines only.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger
	logs   *ringLog

	process *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex // serializes stdin writes so concurrent Call()s never interleave bytes
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	requests  chan *JSONRPCRequest
	nextID    atomic.Int64

	connState
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewStdioTransport creates a new stdio transport for cfg.
func NewStdioTransport(cfg *ServerConfig) *StdioTransport {
	return &StdioTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.ID, "transport", "stdio"),
		logs:     newRingLog(),
		pending:  make(map[int64]chan *JSONRPCResponse),
		events:   make(chan *JSONRPCNotification, 100),
		requests: make(chan *JSONRPCRequest, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect spawns the subprocess and starts its read loops.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.setStatus(StatusConnecting)

	if t.config.Command == "" {
		err := fmt.Errorf("command is required for stdio transport")
		t.setError(err)
		return err
	}
	command, err := coreexec.SanitizeExecutableValue(t.config.Command)
	if err != nil {
		err = fmt.Errorf("unsafe server command %q: %w", t.config.Command, err)
		t.setError(err)
		return err
	}
	args, err := coreexec.SanitizeArguments(t.config.Args)
	if err != nil {
		err = fmt.Errorf("unsafe server args: %w", err)
		t.setError(err)
		return err
	}

	t.process = exec.CommandContext(ctx, command, args...)

	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		err = fmt.Errorf("stdin pipe: %w", err)
		t.setError(err)
		return err
	}

	stdout, err := t.process.StdoutPipe()
	if err != nil {
		err = fmt.Errorf("stdout pipe: %w", err)
		t.setError(err)
		return err
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 64*1024), 1024*1024)

	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		err = fmt.Errorf("start process: %w", err)
		t.setError(err)
		return err
	}

	t.setStatus(StatusConnected)
	t.logs.Append(fmt.Sprintf("started %s (pid %d)", t.config.Command, t.process.Process.Pid))
	t.logger.Info("started MCP server process", "command", t.config.Command, "pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()

	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}

	return nil
}

// Close kills the subprocess unconditionally and drains any pending
// correlation slots with a "transport closed" error before returning.
func (t *StdioTransport) Close() error {
	t.setStatus(StatusStopped)
	close(t.stopChan)

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
	}

	t.drainPending()

	t.wg.Wait()
	return nil
}

// drainPending fails every in-flight Call with a "transport closed" error
// and empties the correlation map. Called both from an explicit Close() and
// from readLoop on natural process exit, so no caller is left blocked on its
// own per-request timeout after the subprocess has already died.
func (t *StdioTransport) drainPending() {
	t.pendingMu.Lock()
	for id, ch := range t.pending {
		select {
		case ch <- &JSONRPCResponse{Error: &JSONRPCError{Code: ErrCodeInternalError, Message: "transport closed"}}:
		default:
		}
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
}

// Call sends a request and waits for its response, the per-request timeout
// (default 30s), the caller's context, or transport closure, whichever
// comes first.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.Connected() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)

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

	data, _ := json.Marshal(req)
	data = append(data, '\n')

	t.writeMu.Lock()
	_, writeErr := t.stdin.Write(data)
	t.writeMu.Unlock()
	if writeErr != nil {
		return nil, fmt.Errorf("write request: %w", writeErr)
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

// Notify writes a notification; no response is awaited.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
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

	data, _ := json.Marshal(notif)
	data = append(data, '\n')

	t.writeMu.Lock()
	_, err := t.stdin.Write(data)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Events returns the notification channel.
func (t *StdioTransport) Events() <-chan *JSONRPCNotification { return t.events }

// Requests returns the server-initiated request channel. Stdio servers
// rarely issue these, but the channel exists so Client.HandleSampling works
// uniformly across transports.
func (t *StdioTransport) Requests() <-chan *JSONRPCRequest { return t.requests }

// Respond answers a server-initiated request by writing a JSON-RPC response
// object to stdin.
func (t *StdioTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
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
	data, _ := json.Marshal(resp)
	data = append(data, '\n')

	t.writeMu.Lock()
	_, err := t.stdin.Write(data)
	t.writeMu.Unlock()
	return err
}

// Logs returns the most recent log lines (startup banners, stderr, and
// protocol warnings), oldest first.
func (t *StdioTransport) Logs(maxLines int) []LogLine { return t.logs.Tail(maxLines) }

// readLoop reads line-framed JSON-RPC messages from stdout. Lines that are
// blank or do not parse as either a response or a notification (e.g. a
// startup banner printed before the server speaks protocol) are recorded as
// log entries and skipped, never treated as protocol data.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer func() {
		select {
		case <-t.stopChan:
			// Deliberate Close(); status is already StatusStopped.
		default:
			err := t.stdout.Err()
			if err == nil {
				err = fmt.Errorf("server process exited")
			}
			t.setError(err)
		}
		t.drainPending()
	}()

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := t.stdout.Text()
		if line == "" {
			continue
		}
		t.processLine(line)
	}

	if err := t.stdout.Err(); err != nil {
		t.logs.Append(fmt.Sprintf("stdout scanner error: %v", err))
		t.logger.Error("stdout scanner error", "error", err)
	}
}

func (t *StdioTransport) processLine(line string) {
	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(line), &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			t.logs.Append(fmt.Sprintf("unexpected response id type: %v", resp.ID))
			return
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal([]byte(line), &req); err == nil && req.Method != "" && req.ID != nil {
		select {
		case t.requests <- &req:
		default:
			t.logs.Append("request channel full, dropping")
		}
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal([]byte(line), &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logs.Append("notification channel full, dropping")
		}
		return
	}

	// Not valid protocol data: record it as an informational log line
	// (common for startup banners some servers print before speaking JSON).
	t.logs.Append(line)
}

// logStderr records stderr lines into the log ring buffer. Stderr is never
// interpreted as protocol data.
func (t *StdioTransport) logStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()
		if line != "" {
			t.logs.Append(line)
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
