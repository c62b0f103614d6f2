package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus surface the orchestration core exposes: turn
// throughput and latency, tool-call outcomes, MCP server/RPC health, and
// sandbox executions. Mounting it behind a /metrics handler is the host
// process's job; the core only ever writes to it.
type Metrics struct {
	// TurnCounter counts completed turns by outcome (done|error|cancelled).
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures wall-clock turn latency in seconds.
	TurnDuration prometheus.Histogram

	// ToolCallCounter counts tool invocations by tool name and status.
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool execution time in seconds, by tool name.
	ToolCallDuration *prometheus.HistogramVec

	// ConnectedServers gauges the number of currently connected MCP servers.
	ConnectedServers prometheus.Gauge

	// MCPRequestCounter counts MCP JSON-RPC calls by method and status.
	MCPRequestCounter *prometheus.CounterVec

	// MCPRequestDuration measures MCP JSON-RPC round-trip latency in seconds.
	MCPRequestDuration *prometheus.HistogramVec

	// SandboxExecutions counts code-mode sandbox runs by outcome (ok|timeout|error).
	SandboxExecutions *prometheus.CounterVec

	// SandboxExecutionDuration measures sandbox run wall-clock time in seconds.
	SandboxExecutionDuration prometheus.Histogram
}

// NewMetrics registers the core's metrics against reg. Pass
// prometheus.DefaultRegisterer in production; tests should pass a fresh
// prometheus.NewRegistry() to avoid collisions across test cases.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpcore_turns_total",
				Help: "Total number of turns completed, by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcpcore_turn_duration_seconds",
				Help:    "Duration of a full turn, from Start to Done",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpcore_tool_calls_total",
				Help: "Total number of tool calls, by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpcore_tool_call_duration_seconds",
				Help:    "Duration of a tool call, by tool name",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
			},
			[]string{"tool_name"},
		),
		ConnectedServers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcpcore_connected_servers",
				Help: "Number of currently connected MCP servers",
			},
		),
		MCPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpcore_mcp_requests_total",
				Help: "Total number of MCP JSON-RPC requests, by method and status",
			},
			[]string{"method", "status"},
		),
		MCPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpcore_mcp_request_duration_seconds",
				Help:    "Duration of an MCP JSON-RPC round trip, by method",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"method"},
		),
		SandboxExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpcore_sandbox_executions_total",
				Help: "Total number of code-mode sandbox executions, by outcome",
			},
			[]string{"outcome"},
		),
		SandboxExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mcpcore_sandbox_execution_duration_seconds",
				Help:    "Duration of a code-mode sandbox execution",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),
	}
}

// RecordTurn records the outcome and duration of a completed turn.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordToolCall records the outcome and duration of a single tool call.
func (m *Metrics) RecordToolCall(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(toolName, status).Inc()
	m.ToolCallDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// SetConnectedServers sets the connected-MCP-server gauge.
func (m *Metrics) SetConnectedServers(n int) {
	if m == nil {
		return
	}
	m.ConnectedServers.Set(float64(n))
}

// RecordMCPRequest records the outcome and duration of an MCP JSON-RPC call.
func (m *Metrics) RecordMCPRequest(method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.MCPRequestCounter.WithLabelValues(method, status).Inc()
	m.MCPRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordSandboxExecution records the outcome and duration of a sandbox run.
func (m *Metrics) RecordSandboxExecution(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SandboxExecutions.WithLabelValues(outcome).Inc()
	m.SandboxExecutionDuration.Observe(durationSeconds)
}
