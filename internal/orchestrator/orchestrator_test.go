package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/senjoyee/mcpcore/internal/eventbus"
	"github.com/senjoyee/mcpcore/internal/mcp"
	"github.com/senjoyee/mcpcore/internal/store"
	"github.com/senjoyee/mcpcore/internal/streamgw"
)

// fakeGateway replays a fixed sequence of SSE bodies, one per Stream
// call, so a test can script a multi-iteration tool-call loop.
type fakeGateway struct {
	mu      sync.Mutex
	bodies  []string
	calls   int
	ctxSeen []context.Context
}

func (g *fakeGateway) Stream(ctx context.Context, req streamgw.CompletionRequest) (*streamgw.Parser, func() error, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ctxSeen = append(g.ctxSeen, ctx)
	if g.calls >= len(g.bodies) {
		return nil, nil, errors.New("fakeGateway: no more scripted bodies")
	}
	body := g.bodies[g.calls]
	g.calls++
	return streamgw.NewParser(strings.NewReader(body)), func() error { return nil }, nil
}

// fakeToolCatalog resolves tool calls against a name-keyed map of
// canned results (or errors).
type fakeToolCatalog struct {
	schemas []mcp.ToolSchema
	results map[string]*mcp.ToolCallResult
	errs    map[string]error
	calls   []string
}

func (f *fakeToolCatalog) ToolSchemas() []mcp.ToolSchema { return f.schemas }

func (f *fakeToolCatalog) CallToolByName(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolCallResult, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.results[name], nil
}

// fakeSandbox executes canned code-mode results by tool name lookup is
// not needed: execute_code has no name-based dispatch, so this just
// returns a fixed output.
type fakeSandbox struct {
	output string
	err    error
}

func (s *fakeSandbox) ExecuteCode(ctx context.Context, code string) (string, error) {
	return s.output, s.err
}

// memConversationStore is a minimal in-memory ConversationStore fixture;
// it does not need to satisfy anything beyond what RunTurn exercises.
type memConversationStore struct {
	mu       sync.Mutex
	messages map[string][]store.Message
	nextID   int
}

func newMemConversationStore() *memConversationStore {
	return &memConversationStore{messages: make(map[string][]store.Message)}
}

func (m *memConversationStore) CreateConversation(ctx context.Context, title string) (store.Conversation, error) {
	return store.Conversation{ID: "conv-1", Title: title}, nil
}

func (m *memConversationStore) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	return store.Conversation{ID: id}, nil
}

func (m *memConversationStore) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	return nil, nil
}

func (m *memConversationStore) AppendMessage(ctx context.Context, convID string, msg store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if msg.ID == "" {
		msg.ID = "msg-" + strconv.Itoa(m.nextID)
	}
	msg.ConvID = convID
	m.messages[convID] = append(m.messages[convID], msg)
	return msg, nil
}

func (m *memConversationStore) UpdateMessageContent(ctx context.Context, msgID string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for convID, msgs := range m.messages {
		for i := range msgs {
			if msgs[i].ID == msgID {
				m.messages[convID][i].Content = content
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (m *memConversationStore) ListMessages(ctx context.Context, convID string) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Message, len(m.messages[convID]))
	copy(out, m.messages[convID])
	return out, nil
}

func sseFrame(fields string) string {
	return "data: {" + fields + "}\n"
}

const doneLine = "data: [DONE]\n"

// S1: plain chat, no tools.
func TestRunTurnPlainChatNoTools(t *testing.T) {
	body := sseFrame(`"choices":[{"delta":{"content":"Hi"},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{"content":"!"},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}`) +
		doneLine

	gw := &fakeGateway{bodies: []string{body}}
	tools := &fakeToolCatalog{}
	convos := newMemConversationStore()
	orc := New(gw, tools, nil, convos, Config{})

	sub := &eventbus.RecordingSubscriber{}
	bus := eventbus.New(sub)

	finalText, usage, err := orc.RunTurn(context.Background(), bus, "conv-1", "Hello", "gpt-test", false)
	if err != nil {
		t.Fatalf("RunTurn error: %v", err)
	}
	if finalText != "Hi!" {
		t.Errorf("final text = %q, want %q", finalText, "Hi!")
	}
	if usage.InputTokens != 7 || usage.OutputTokens != 2 || usage.TotalTokens != 9 {
		t.Errorf("usage = %+v, want (7,2,_,9)", usage)
	}

	var kinds []eventbus.EventType
	for _, e := range sub.Events {
		kinds = append(kinds, e.Type)
	}
	want := []eventbus.EventType{eventbus.EventStart, eventbus.EventDelta, eventbus.EventDelta, eventbus.EventDone}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

// S2: single tool call, direct mode.
func TestRunTurnSingleToolCallDirectMode(t *testing.T) {
	toolCallBody := sseFrame(`"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"echo","arguments":"{\"text\":\"foo\"}"}}]},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"tool_calls"}]`) +
		doneLine
	finalBody := sseFrame(`"choices":[{"delta":{"content":"Result: foo"},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}`) +
		doneLine

	gw := &fakeGateway{bodies: []string{toolCallBody, finalBody}}
	tools := &fakeToolCatalog{
		schemas: []mcp.ToolSchema{{ServerID: "s1", Name: "echo", Description: "echoes text"}},
		results: map[string]*mcp.ToolCallResult{
			"echo": {Content: []mcp.ToolResultContent{{Type: "text", Text: "foo"}}},
		},
	}
	convos := newMemConversationStore()
	orc := New(gw, tools, nil, convos, Config{})

	sub := &eventbus.RecordingSubscriber{}
	bus := eventbus.New(sub)

	finalText, _, err := orc.RunTurn(context.Background(), bus, "conv-1", "echo 'foo'", "gpt-test", false)
	if err != nil {
		t.Fatalf("RunTurn error: %v", err)
	}
	if finalText != "Result: foo" {
		t.Errorf("final text = %q, want %q", finalText, "Result: foo")
	}
	if len(tools.calls) != 1 || tools.calls[0] != "echo" {
		t.Errorf("tool calls = %v, want [echo]", tools.calls)
	}

	var toolStart, toolResult *eventbus.TurnEvent
	for i := range sub.Events {
		switch sub.Events[i].Type {
		case eventbus.EventToolCallStart:
			toolStart = &sub.Events[i]
		case eventbus.EventToolResult:
			toolResult = &sub.Events[i]
		}
	}
	if toolStart == nil || toolStart.ToolName != "echo" {
		t.Fatalf("expected ToolCallStart for echo, got %+v", toolStart)
	}
	if toolResult == nil || !toolResult.Success || toolResult.ResultText != "foo" {
		t.Fatalf("expected successful ToolCallResult(foo), got %+v", toolResult)
	}
}

// S4: cancellation. A context cancelled before the next iteration's
// stream starts short-circuits the loop: finalize runs with whatever
// text has been assembled so far (none, here, since cancellation landed
// before the first stream), Done carries no usage, and the gateway is
// never invoked again.
func TestRunTurnCancellationStopsTheLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	gw := &fakeGateway{bodies: nil} // any Stream call is a test failure
	tools := &fakeToolCatalog{}
	convos := newMemConversationStore()
	orc := New(gw, tools, nil, convos, Config{})

	sub := &eventbus.RecordingSubscriber{}
	bus := eventbus.New(sub)

	cancel()
	finalText, usage, err := orc.RunTurn(ctx, bus, "conv-1", "go", "gpt-test", false)
	if err != nil {
		t.Fatalf("RunTurn error: %v", err)
	}
	if usage != (eventbus.Usage{}) {
		t.Errorf("expected zero usage on cancellation, got %+v", usage)
	}
	if finalText != "" {
		t.Errorf("expected empty text (cancelled before any stream read), got %q", finalText)
	}
	if len(sub.Events) != 2 || sub.Events[0].Type != eventbus.EventStart || sub.Events[1].Type != eventbus.EventDone {
		t.Fatalf("expected [Start, Done], got %+v", sub.Events)
	}
	if sub.Events[1].Usage != nil {
		t.Errorf("expected Done with no usage on cancellation, got %+v", sub.Events[1].Usage)
	}
	if gw.calls != 0 {
		t.Errorf("expected no Stream calls after cancellation, got %d", gw.calls)
	}
}

// S5: tool error is recoverable.
func TestRunTurnToolErrorIsRecoverable(t *testing.T) {
	toolCallBody := sseFrame(`"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"foo","arguments":"{}"}}]},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"tool_calls"}]`) +
		doneLine
	finalBody := sseFrame(`"choices":[{"delta":{"content":"done anyway"},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"stop"}]`) +
		doneLine

	gw := &fakeGateway{bodies: []string{toolCallBody, finalBody}}
	tools := &fakeToolCatalog{
		errs: map[string]error{"foo": errors.New("boom")},
	}
	convos := newMemConversationStore()
	orc := New(gw, tools, nil, convos, Config{})

	sub := &eventbus.RecordingSubscriber{}
	bus := eventbus.New(sub)

	finalText, _, err := orc.RunTurn(context.Background(), bus, "conv-1", "use foo", "gpt-test", false)
	if err != nil {
		t.Fatalf("RunTurn error: %v", err)
	}
	if finalText != "done anyway" {
		t.Errorf("final text = %q, want %q", finalText, "done anyway")
	}

	var toolResult *eventbus.TurnEvent
	for i := range sub.Events {
		if sub.Events[i].Type == eventbus.EventToolResult {
			toolResult = &sub.Events[i]
		}
	}
	if toolResult == nil || toolResult.Success {
		t.Fatalf("expected failed ToolCallResult, got %+v", toolResult)
	}
	if !strings.HasPrefix(toolResult.ResultText, "Error: ") {
		t.Errorf("result text = %q, want Error: prefix", toolResult.ResultText)
	}
}

// S6: code-mode minimal.
func TestRunTurnCodeModeMinimal(t *testing.T) {
	toolCallBody := sseFrame(`"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"execute_code","arguments":"{\"code\":\"console.log(\\\"hi\\\")\"}"}}]},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"tool_calls"}]`) +
		doneLine
	finalBody := sseFrame(`"choices":[{"delta":{"content":"ok"},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"stop"}]`) +
		doneLine

	gw := &fakeGateway{bodies: []string{toolCallBody, finalBody}}
	tools := &fakeToolCatalog{}
	sandbox := &fakeSandbox{output: "hi"}
	convos := newMemConversationStore()
	orc := New(gw, tools, sandbox, convos, Config{})

	sub := &eventbus.RecordingSubscriber{}
	bus := eventbus.New(sub)

	finalText, _, err := orc.RunTurn(context.Background(), bus, "conv-1", "run code", "gpt-test", true)
	if err != nil {
		t.Fatalf("RunTurn error: %v", err)
	}
	if finalText != "ok" {
		t.Errorf("final text = %q, want %q", finalText, "ok")
	}

	var toolResult *eventbus.TurnEvent
	for i := range sub.Events {
		if sub.Events[i].Type == eventbus.EventToolResult {
			toolResult = &sub.Events[i]
		}
	}
	if toolResult == nil || !toolResult.Success || toolResult.ResultText != "hi" {
		t.Fatalf("expected successful ToolCallResult(hi), got %+v", toolResult)
	}
}

// Tool-call budget: the loop must stop dispatching once MaxToolCalls is
// reached, finalizing with whatever text has been assembled instead of
// looping forever against a model that always wants another tool call.
func TestRunTurnStopsAtToolCallBudget(t *testing.T) {
	loopBody := sseFrame(`"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"echo","arguments":"{}"}}]},"finish_reason":""}]`) +
		sseFrame(`"choices":[{"delta":{},"finish_reason":"tool_calls"}]`) +
		doneLine

	bodies := make([]string, 3)
	for i := range bodies {
		bodies[i] = loopBody
	}
	gw := &fakeGateway{bodies: bodies}
	tools := &fakeToolCatalog{
		results: map[string]*mcp.ToolCallResult{
			"echo": {Content: []mcp.ToolResultContent{{Type: "text", Text: "x"}}},
		},
	}
	convos := newMemConversationStore()
	orc := New(gw, tools, nil, convos, Config{MaxToolCalls: 2})

	sub := &eventbus.RecordingSubscriber{}
	bus := eventbus.New(sub)

	finalText, _, err := orc.RunTurn(context.Background(), bus, "conv-1", "loop", "gpt-test", false)
	if err != nil {
		t.Fatalf("RunTurn error: %v", err)
	}
	if len(tools.calls) != 2 {
		t.Fatalf("expected exactly 2 tool calls (budget), got %d: %v", len(tools.calls), tools.calls)
	}
	if !strings.Contains(finalText, "maximum tool calls reached") {
		t.Fatalf("expected final text to contain the tool-call budget marker, got %q", finalText)
	}
}
