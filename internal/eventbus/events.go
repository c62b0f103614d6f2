// Package eventbus carries TurnEvent values from the turn orchestrator to
// a single subscriber (the GUI front end), in strict causal emission
// order and without ever blocking the orchestrator on a slow or absent
// subscriber.
package eventbus

import "time"

// EventType discriminates the variant held by a TurnEvent.
type EventType string

const (
	EventStart         EventType = "start"
	EventDelta         EventType = "delta"
	EventReasoning     EventType = "reasoning"
	EventToolCallStart EventType = "tool_call_start"
	EventToolResult    EventType = "tool_call_result"
	EventDone          EventType = "done"
)

// Usage mirrors streamgw.Usage; duplicated here (rather than imported)
// so that eventbus, a leaf package with no business-logic dependencies,
// does not need to import the gateway-wire package just for this shape.
type Usage struct {
	InputTokens     int      `json:"inputTokens"`
	OutputTokens    int      `json:"outputTokens"`
	ReasoningTokens int      `json:"reasoningTokens,omitempty"`
	TotalTokens     int      `json:"totalTokens"`
	CostUSD         *float64 `json:"costUsd,omitempty"`
}

// TurnEvent is one progress event emitted by the orchestrator for a
// single turn. Exactly one of the kind-specific fields is meaningful for
// a given Type.
type TurnEvent struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
	Time      time.Time `json:"time"`

	// EventDelta / EventReasoning
	Text string `json:"text,omitempty"`

	// EventToolCallStart / EventToolResult
	ToolName   string `json:"toolName,omitempty"`
	ArgsRaw    string `json:"argsRaw,omitempty"`
	ResultText string `json:"resultText,omitempty"`
	Success    bool   `json:"success,omitempty"`

	// EventDone
	Usage *Usage `json:"usage,omitempty"`
}
