package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/senjoyee/mcpcore/internal/coreerr"
	"github.com/senjoyee/mcpcore/internal/eventbus"
	"github.com/senjoyee/mcpcore/internal/observability"
	"github.com/senjoyee/mcpcore/internal/store"
	"github.com/senjoyee/mcpcore/internal/streamgw"
)

const defaultSystemPrompt = "You are a helpful assistant with access to tools over the Model Context Protocol. Use tools when they let you answer more accurately; otherwise answer directly."

// Config configures an Orchestrator. The zero value is usable; unset
// fields take the documented defaults.
type Config struct {
	// SystemPrompt is prepended to every model request. Defaults to
	// defaultSystemPrompt.
	SystemPrompt string

	// MaxToolCalls bounds tool-call iterations per turn. Defaults to 30.
	MaxToolCalls int

	// Logger receives warnings (dropped tools, tool failures). Defaults
	// to slog.Default().
	Logger *slog.Logger

	// Tracer wraps each turn and tool call in a span when set.
	Tracer *observability.Tracer

	// Metrics records turn/tool-call counters and latencies when set.
	Metrics *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = maxToolCallsPerTurn
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Orchestrator runs turns: RunTurn is the only entry point a caller
// needs. It owns no state across calls beyond its collaborators, so one
// Orchestrator can serve concurrent turns on different conversations —
// each call is given its own eventbus.Bus, matching the bus's
// single-writer-per-turn contract.
type Orchestrator struct {
	Gateway       Gateway
	Tools         ToolCatalog
	Sandbox       CodeSandbox
	Conversations store.ConversationStore

	cfg Config
}

// New builds an Orchestrator. Sandbox may be left nil if code mode is
// never requested; a RunTurn call with codeMode=true and a nil Sandbox
// fails each execute_code dispatch with a tool error rather than
// panicking.
func New(gateway Gateway, tools ToolCatalog, sandbox CodeSandbox, conversations store.ConversationStore, cfg Config) *Orchestrator {
	return &Orchestrator{
		Gateway:       gateway,
		Tools:         tools,
		Sandbox:       sandbox,
		Conversations: conversations,
		cfg:           cfg.withDefaults(),
	}
}

// turnState accumulates what a turn produces across one or more
// stream-then-maybe-dispatch-tool iterations.
type turnState struct {
	history        []streamgw.Message
	assembledText  string
	toolCallCount  int
	usage          eventbus.Usage
	assistantMsgID string
}

// RunTurn streams a model response for userText in conversationID,
// dispatching any tool calls the model requests, until the model
// produces a final answer or the turn's tool-call budget is spent.
// Cancelling ctx terminates the in-flight stream or tool call promptly;
// RunTurn still returns the partial assistant text accumulated so far,
// with no error and no usage, matching the documented cancellation
// semantics. A chat-stream error (as opposed to cancellation) instead
// finalizes the turn with an error banner appended to the content.
func (o *Orchestrator) RunTurn(ctx context.Context, bus *eventbus.Bus, conversationID, userText, model string, codeMode bool) (string, eventbus.Usage, error) {
	start := time.Now()
	if o.cfg.Tracer != nil {
		var span interface{ End() }
		ctx, span = o.cfg.Tracer.TraceMessageProcessing(ctx, "turn", "chat", conversationID)
		defer span.End()
	}

	if _, err := o.Conversations.AppendMessage(ctx, conversationID, store.Message{Role: "user", Content: userText}); err != nil {
		return "", eventbus.Usage{}, coreerr.Wrap(coreerr.TransportErr, "RunTurn.persist_user", err)
	}
	placeholder, err := o.Conversations.AppendMessage(ctx, conversationID, store.Message{Role: "assistant", Content: ""})
	if err != nil {
		return "", eventbus.Usage{}, coreerr.Wrap(coreerr.TransportErr, "RunTurn.persist_placeholder", err)
	}

	state := &turnState{assistantMsgID: placeholder.ID}
	bus.Emit(eventbus.TurnEvent{Type: eventbus.EventStart, MessageID: state.assistantMsgID, Time: time.Now()})

	history, err := o.Conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return "", eventbus.Usage{}, coreerr.Wrap(coreerr.TransportErr, "RunTurn.load_history", err)
	}
	for _, m := range history {
		if m.ID == placeholder.ID {
			continue
		}
		state.history = append(state.history, streamgw.Message{Role: m.Role, Content: m.Content})
	}

	outcome := "done"
	defer func() {
		o.cfg.Metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}()

	for {
		if ctx.Err() != nil {
			o.finalize(ctx, bus, state, "", true)
			outcome = "cancelled"
			return state.assembledText, state.usage, nil
		}

		tools := syntheticCodeModeTools()
		if !codeMode {
			tools = translateTools(o.Tools.ToolSchemas(), o.cfg.Logger)
		}

		req := streamgw.CompletionRequest{
			Model: model,
			Messages: append([]streamgw.Message{
				{Role: "system", Content: o.cfg.SystemPrompt},
			}, state.history...),
			Tools: tools,
		}

		toolCall, streamErr := o.runStream(ctx, bus, state, req)
		if streamErr != nil {
			if ctx.Err() != nil {
				o.finalize(ctx, bus, state, "", true)
				outcome = "cancelled"
				return state.assembledText, state.usage, nil
			}
			banner := fmt.Sprintf("\n\n[error: %s]", streamErr.Error())
			o.finalize(ctx, bus, state, banner, false)
			outcome = "error"
			return state.assembledText, state.usage, nil
		}

		if toolCall == nil {
			o.finalize(ctx, bus, state, "", false)
			return state.assembledText, state.usage, nil
		}
		if state.toolCallCount >= o.cfg.MaxToolCalls {
			o.finalize(ctx, bus, state, "\n\n[maximum tool calls reached]", false)
			return state.assembledText, state.usage, nil
		}

		state.toolCallCount++
		o.dispatchToolCall(ctx, bus, state, *toolCall, codeMode)
	}
}

// runStream drains one streamgw.Parser, appending content to the
// assembled text and returning the assembled tool call, if any, once
// the stream reaches Done.
func (o *Orchestrator) runStream(ctx context.Context, bus *eventbus.Bus, state *turnState, req streamgw.CompletionRequest) (*streamgw.StreamChunk, error) {
	parser, closeBody, err := o.Gateway.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	defer closeBody()

	var toolCall *streamgw.StreamChunk
	for {
		chunk, err := parser.Next()
		if err != nil {
			return nil, err
		}

		switch chunk.Kind {
		case streamgw.ChunkContent:
			state.assembledText += chunk.Text
			bus.Emit(eventbus.TurnEvent{Type: eventbus.EventDelta, MessageID: state.assistantMsgID, Text: chunk.Text, Time: time.Now()})
		case streamgw.ChunkReasoning:
			bus.Emit(eventbus.TurnEvent{Type: eventbus.EventReasoning, MessageID: state.assistantMsgID, Text: chunk.ReasoningText, Time: time.Now()})
		case streamgw.ChunkToolCall:
			call := chunk
			toolCall = &call
		case streamgw.ChunkDone:
			accumulateUsage(&state.usage, chunk.Usage)
			return toolCall, nil
		}
	}
}

func accumulateUsage(total *eventbus.Usage, u *streamgw.Usage) {
	if u == nil {
		return
	}
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.ReasoningTokens += u.ReasoningTokens
	total.TotalTokens += u.TotalTokens
	if u.CostUSD != nil {
		cost := u.CostUSD
		if total.CostUSD == nil {
			total.CostUSD = cost
		} else {
			sum := *total.CostUSD + *cost
			total.CostUSD = &sum
		}
	}
}

func (o *Orchestrator) finalize(ctx context.Context, bus *eventbus.Bus, state *turnState, banner string, cancelled bool) {
	finalText := state.assembledText + banner
	_ = o.Conversations.UpdateMessageContent(ctx, state.assistantMsgID, finalText)
	state.assembledText = finalText

	var usagePtr *eventbus.Usage
	if !cancelled {
		usagePtr = &state.usage
	}
	bus.Emit(eventbus.TurnEvent{
		Type:      eventbus.EventDone,
		MessageID: state.assistantMsgID,
		Time:      time.Now(),
		Usage:     usagePtr,
	})
}

// dispatchToolCall executes one assembled tool call and folds its result
// back into the in-memory history as a pair of synthetic messages, per
// the documented tool-loop contract. A failed call yields a result text
// prefixed "Error: " rather than aborting the turn.
func (o *Orchestrator) dispatchToolCall(ctx context.Context, bus *eventbus.Bus, state *turnState, call streamgw.StreamChunk, codeMode bool) {
	callStart := time.Now()
	bus.Emit(eventbus.TurnEvent{
		Type:      eventbus.EventToolCallStart,
		MessageID: state.assistantMsgID,
		ToolName:  call.ToolCallName,
		ArgsRaw:   call.ArgumentsRaw,
		Time:      time.Now(),
	})

	var span interface{ End() }
	if o.cfg.Tracer != nil {
		ctx, span = o.cfg.Tracer.TraceToolExecution(ctx, call.ToolCallName)
		defer span.End()
	}

	resultText, success := o.runTool(ctx, call, codeMode)

	status := "success"
	if !success {
		status = "error"
	}
	o.cfg.Metrics.RecordToolCall(call.ToolCallName, status, time.Since(callStart).Seconds())

	bus.Emit(eventbus.TurnEvent{
		Type:       eventbus.EventToolResult,
		MessageID:  state.assistantMsgID,
		ToolName:   call.ToolCallName,
		ResultText: truncateForDisplay(resultText, maxResultTextBytes),
		Success:    success,
		Time:       time.Now(),
	})

	state.history = append(state.history,
		streamgw.Message{Role: "assistant", Content: fmt.Sprintf("[Called %s]", call.ToolCallName)},
		streamgw.Message{Role: "user", Content: fmt.Sprintf("Tool result for %s:\n%s", call.ToolCallName, resultText)},
	)
}

func (o *Orchestrator) runTool(ctx context.Context, call streamgw.StreamChunk, codeMode bool) (resultText string, success bool) {
	if codeMode {
		return o.runCodeModeTool(ctx, call)
	}

	var args map[string]any
	if call.ArgumentsRaw != "" {
		if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
			return "Error: invalid tool arguments: " + err.Error(), false
		}
	}

	result, err := o.Tools.CallToolByName(ctx, call.ToolCallName, args)
	if err != nil {
		return "Error: " + err.Error(), false
	}
	text := extractResultText(result)
	if result != nil && result.IsError {
		return "Error: " + text, false
	}
	return text, true
}

func (o *Orchestrator) runCodeModeTool(ctx context.Context, call streamgw.StreamChunk) (string, bool) {
	switch call.ToolCallName {
	case toolExecuteCode:
		var args struct {
			Code string `json:"code"`
		}
		if call.ArgumentsRaw != "" {
			if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
				return "Error: invalid execute_code arguments: " + err.Error(), false
			}
		}
		if o.Sandbox == nil {
			return "Error: code sandbox is not configured", false
		}
		out, err := o.Sandbox.ExecuteCode(ctx, args.Code)
		if err != nil {
			return "Error: " + err.Error(), false
		}
		return out, true

	case toolSearchTools:
		var args struct {
			Query       string `json:"query"`
			DetailLevel string `json:"detail_level"`
		}
		if call.ArgumentsRaw != "" {
			if err := json.Unmarshal([]byte(call.ArgumentsRaw), &args); err != nil {
				return "Error: invalid search_tools arguments: " + err.Error(), false
			}
		}
		return searchToolCatalog(o.Tools.ToolSchemas(), args.Query, parseDetailLevel(args.DetailLevel)), true

	default:
		return fmt.Sprintf("Error: unknown code-mode tool %q", call.ToolCallName), false
	}
}
