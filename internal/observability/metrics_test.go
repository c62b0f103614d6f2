package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if count := testutil.CollectAndCount(m.TurnCounter); count != 0 {
		t.Errorf("expected 0 turn samples before any recording, got %d", count)
	}
}

func TestRecordTurn(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTurn("done", 1.5)
	m.RecordTurn("done", 2.0)
	m.RecordTurn("cancelled", 0.3)

	if count := testutil.CollectAndCount(m.TurnCounter); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(m.TurnCounter.WithLabelValues("done")); got != 2 {
		t.Errorf("turns_total{outcome=done} = %v, want 2", got)
	}
}

func TestRecordToolCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordToolCall("search_files", "success", 0.2)
	m.RecordToolCall("search_files", "error", 0.1)

	if got := testutil.ToFloat64(m.ToolCallCounter.WithLabelValues("search_files", "success")); got != 1 {
		t.Errorf("tool_calls_total{tool=search_files,status=success} = %v, want 1", got)
	}
}

func TestSetConnectedServers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetConnectedServers(3)
	if got := testutil.ToFloat64(m.ConnectedServers); got != 3 {
		t.Errorf("connected_servers = %v, want 3", got)
	}
	m.SetConnectedServers(1)
	if got := testutil.ToFloat64(m.ConnectedServers); got != 1 {
		t.Errorf("connected_servers = %v, want 1", got)
	}
}

func TestRecordMCPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordMCPRequest("tools/call", "ok", 0.05)
	if got := testutil.ToFloat64(m.MCPRequestCounter.WithLabelValues("tools/call", "ok")); got != 1 {
		t.Errorf("mcp_requests_total{method=tools/call,status=ok} = %v, want 1", got)
	}
}

func TestRecordSandboxExecution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSandboxExecution("timeout", 120)
	if got := testutil.ToFloat64(m.SandboxExecutions.WithLabelValues("timeout")); got != 1 {
		t.Errorf("sandbox_executions_total{outcome=timeout} = %v, want 1", got)
	}
}

func TestMetricsMethodsToleratesNilReceiver(t *testing.T) {
	var m *Metrics
	m.RecordTurn("done", 1)
	m.RecordToolCall("x", "success", 1)
	m.SetConnectedServers(1)
	m.RecordMCPRequest("initialize", "ok", 1)
	m.RecordSandboxExecution("ok", 1)
}
