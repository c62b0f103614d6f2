package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/senjoyee/mcpcore/internal/coreerr"
	"github.com/senjoyee/mcpcore/internal/mcp"
)

func schemasForTest() []mcp.ToolSchema {
	return []mcp.ToolSchema{
		{ServerID: "srv1", Name: "echo", InputSchema: []byte(`{"type":"object"}`)},
	}
}

func TestSandboxExecuteCodeBeforePrepareFails(t *testing.T) {
	sb := New(&fakeToolCaller{}, Config{})
	_, err := sb.ExecuteCode(context.Background(), "anything")
	if !coreerr.Is(err, coreerr.NotConnected) {
		t.Fatalf("expected NotConnected error, got %v", err)
	}
}

func TestSandboxExecuteCodeRoundTrip(t *testing.T) {
	sb := New(&fakeToolCaller{}, Config{RunnerPath: "/bin/cat"})
	if err := sb.Prepare(schemasForTest()); err != nil {
		t.Fatalf("Prepare error: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	out, err := sb.ExecuteCode(context.Background(), "console.log('hi')")
	if err != nil {
		t.Fatalf("ExecuteCode error: %v", err)
	}
	if out != "console.log('hi')" {
		t.Errorf("stdout = %q, want the code echoed back by the stand-in runner", out)
	}
}

func TestSandboxExecuteCodeTimesOut(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "sleeper.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatalf("write sleeper script: %v", err)
	}

	old := wallClockTimeout
	wallClockTimeout = 50 * time.Millisecond
	defer func() { wallClockTimeout = old }()

	sb := New(&fakeToolCaller{}, Config{RunnerPath: script})
	if err := sb.Prepare(schemasForTest()); err != nil {
		t.Fatalf("Prepare error: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	_, err := sb.ExecuteCode(context.Background(), "irrelevant")
	if !coreerr.Is(err, coreerr.TimeoutErr) {
		t.Fatalf("expected TimeoutErr, got %v", err)
	}
}

func TestSandboxPrepareReplacesPreviousWorkspace(t *testing.T) {
	sb := New(&fakeToolCaller{}, Config{RunnerPath: "/bin/cat"})
	if err := sb.Prepare(schemasForTest()); err != nil {
		t.Fatalf("first Prepare error: %v", err)
	}
	firstDir := sb.workspace.Dir

	if err := sb.Prepare(schemasForTest()); err != nil {
		t.Fatalf("second Prepare error: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	if sb.workspace.Dir == firstDir {
		t.Fatalf("expected a fresh workspace directory on re-Prepare")
	}
	if _, err := os.Stat(firstDir); !os.IsNotExist(err) {
		t.Errorf("expected first workspace dir to be cleaned up, stat err = %v", err)
	}
}

func TestSandboxCleanupIsIdempotent(t *testing.T) {
	sb := New(&fakeToolCaller{}, Config{RunnerPath: "/bin/cat"})
	if err := sb.Prepare(schemasForTest()); err != nil {
		t.Fatalf("Prepare error: %v", err)
	}
	if err := sb.Cleanup(); err != nil {
		t.Fatalf("first Cleanup error: %v", err)
	}
	if err := sb.Cleanup(); err != nil {
		t.Fatalf("second Cleanup error: %v", err)
	}
}

func TestSandboxExecuteCodeSurfacesRunnerStartupError(t *testing.T) {
	sb := New(&fakeToolCaller{}, Config{RunnerPath: "/no/such/runner-binary"})
	if err := sb.Prepare(schemasForTest()); err != nil {
		t.Fatalf("Prepare error: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	_, err := sb.ExecuteCode(context.Background(), "x")
	if err == nil {
		t.Fatal("expected an error for a nonexistent runner binary")
	}
	var coreErr *coreerr.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected a *coreerr.Error, got %T: %v", err, err)
	}
}
